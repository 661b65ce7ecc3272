package catalog

import (
	"fmt"
	"strings"
)

// Tier is one purchasable Public Library subscription offering.
type Tier string

const (
	SixMonths Tier = "six_months"
	OneYear   Tier = "one_year"
)

// entitlementKeySuffix is appended to a product identifier to form the cache key
// holding that tier's expiration.
const entitlementKeySuffix = "ExpirationDateKey"

// ItemType labels every tier in analytics records.
const ItemType = "Public Library Subscription"

var productIDs = map[Tier]string{
	SixMonths: "PublicLibrarySixMonths",
	OneYear:   "PublicLibraryOneYear",
}

// allTiers is the canonical ordering used for evaluation and listings.
var allTiers = []Tier{SixMonths, OneYear}

// AllTiers returns every known tier in a stable order.
func AllTiers() []Tier {
	out := make([]Tier, len(allTiers))
	copy(out, allTiers)
	return out
}

// ProductIDs returns the vendor identifiers of every known tier, in AllTiers order.
func ProductIDs() []string {
	out := make([]string, 0, len(allTiers))
	for _, t := range allTiers {
		out = append(out, t.ProductID())
	}
	return out
}

// ProductID returns the vendor product identifier, or "" for an unknown tier.
func (t Tier) ProductID() string {
	return productIDs[t]
}

// EntitlementKey returns the cache key under which the tier's expiration is stored.
func (t Tier) EntitlementKey() string {
	id := t.ProductID()
	if id == "" {
		return ""
	}
	return id + entitlementKeySuffix
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := productIDs[t]
	return ok
}

func (t Tier) String() string {
	return string(t)
}

// TierForProduct maps a vendor product identifier back to its tier.
func TierForProduct(productID string) (Tier, bool) {
	productID = strings.TrimSpace(productID)
	for _, t := range allTiers {
		if t.ProductID() == productID {
			return t, true
		}
	}
	return "", false
}

// ParseTier accepts either a tier slug ("one_year") or a product identifier
// ("PublicLibraryOneYear").
func ParseTier(raw string) (Tier, error) {
	trimmed := strings.TrimSpace(raw)
	normalized := strings.ToLower(strings.ReplaceAll(trimmed, "-", "_"))
	switch Tier(normalized) {
	case SixMonths, OneYear:
		return Tier(normalized), nil
	}
	if t, ok := TierForProduct(trimmed); ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown subscription tier %q", raw)
}
