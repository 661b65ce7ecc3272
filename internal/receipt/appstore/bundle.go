package appstore

import (
	"strconv"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/receipt"
)

// transaction is one in-app purchase entry of a verifyReceipt response.
// Dates arrive as millisecond strings.
type transaction struct {
	ProductID          string `json:"product_id"`
	TransactionID      string `json:"transaction_id"`
	PurchaseDateMS     string `json:"purchase_date_ms"`
	ExpiresDateMS      string `json:"expires_date_ms"`
	CancellationDateMS string `json:"cancellation_date_ms"`
}

type verifyResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		BundleID string        `json:"bundle_id"`
		InApp    []transaction `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo []transaction `json:"latest_receipt_info"`
}

// Bundle is a validated App Store receipt.
type Bundle struct {
	Environment  string
	BundleID     string
	transactions []transaction
}

func newBundle(resp verifyResponse) *Bundle {
	items := resp.LatestReceiptInfo
	if len(items) == 0 {
		items = resp.Receipt.InApp
	}
	return &Bundle{
		Environment:  resp.Environment,
		BundleID:     resp.Receipt.BundleID,
		transactions: items,
	}
}

// VerifySubscription reports the state of an auto-renewable subscription.
// Cancelled (refunded) transactions are ignored; among the rest the latest
// expiration decides whether the product is still purchased at now.
func (b *Bundle) VerifySubscription(productID string, now time.Time) receipt.Outcome {
	var (
		latest time.Time
		found  bool
	)
	for _, tx := range b.transactions {
		if tx.ProductID != productID || tx.CancellationDateMS != "" {
			continue
		}
		expires, ok := parseMillis(tx.ExpiresDateMS)
		if !ok {
			continue
		}
		if !found || expires.After(latest) {
			latest = expires
			found = true
		}
	}

	switch {
	case !found:
		return receipt.Outcome{Status: receipt.StatusNotPurchased}
	case latest.After(now):
		return receipt.Outcome{Status: receipt.StatusPurchased, ExpiresAt: latest}
	default:
		return receipt.Outcome{Status: receipt.StatusExpired, ExpiresAt: latest}
	}
}

func parseMillis(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
