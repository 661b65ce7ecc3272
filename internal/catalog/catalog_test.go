package catalog

import "testing"

func TestProductIDs(t *testing.T) {
	if got := SixMonths.ProductID(); got != "PublicLibrarySixMonths" {
		t.Fatalf("SixMonths.ProductID() = %q", got)
	}
	if got := OneYear.ProductID(); got != "PublicLibraryOneYear" {
		t.Fatalf("OneYear.ProductID() = %q", got)
	}
	if got := Tier("lifetime").ProductID(); got != "" {
		t.Fatalf("unknown tier ProductID() = %q, want empty", got)
	}
}

func TestEntitlementKeysAreDerivedAndDistinct(t *testing.T) {
	seen := make(map[string]Tier)
	for _, tier := range AllTiers() {
		key := tier.EntitlementKey()
		if key != tier.ProductID()+"ExpirationDateKey" {
			t.Fatalf("%s.EntitlementKey() = %q", tier, key)
		}
		if key != tier.EntitlementKey() {
			t.Fatalf("%s.EntitlementKey() is not deterministic", tier)
		}
		if other, dup := seen[key]; dup {
			t.Fatalf("key %q shared by %s and %s", key, other, tier)
		}
		seen[key] = tier
	}
}

func TestAllTiersOrderAndIsolation(t *testing.T) {
	tiers := AllTiers()
	if len(tiers) != 2 || tiers[0] != SixMonths || tiers[1] != OneYear {
		t.Fatalf("AllTiers() = %v", tiers)
	}
	tiers[0] = "mutated"
	if AllTiers()[0] != SixMonths {
		t.Fatal("AllTiers() exposes internal slice")
	}

	ids := ProductIDs()
	if len(ids) != 2 || ids[0] != "PublicLibrarySixMonths" || ids[1] != "PublicLibraryOneYear" {
		t.Fatalf("ProductIDs() = %v", ids)
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{in: "one_year", want: OneYear},
		{in: " Six-Months ", want: SixMonths},
		{in: "PublicLibraryOneYear", want: OneYear},
		{in: "PublicLibrarySixMonths", want: SixMonths},
		{in: "weekly", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseTier(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTier(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTierForProduct(t *testing.T) {
	if tier, ok := TierForProduct("PublicLibrarySixMonths"); !ok || tier != SixMonths {
		t.Fatalf("TierForProduct = %q, %v", tier, ok)
	}
	if _, ok := TierForProduct("com.example.other"); ok {
		t.Fatal("TierForProduct matched an unknown identifier")
	}
	if !OneYear.Valid() || Tier("x").Valid() {
		t.Fatal("Valid() mismatch")
	}
}
