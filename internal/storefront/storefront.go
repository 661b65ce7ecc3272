// Package storefront abstracts the vendor purchase API.
package storefront

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Product is the vendor's current metadata for one purchasable product.
// It is never cached.
type Product struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Price is a decimal amount in major units, e.g. "14.99".
	Price          string `json:"price"`
	LocalizedPrice string `json:"localizedPrice"`
	CurrencyCode   string `json:"currencyCode"`
}

// ProductsResult splits a lookup into products the vendor knows and
// identifiers it rejected.
type ProductsResult struct {
	Retrieved []Product
	Invalid   []string
}

type PurchaseResult struct {
	ProductID     string
	TransactionID string
}

// Storefront is the vendor purchase API.
type Storefront interface {
	RetrieveProducts(ctx context.Context, productIDs []string) (ProductsResult, error)
	// Purchase buys productID. With atomically set the charge and the grant
	// either both happen or neither does.
	Purchase(ctx context.Context, productID string, atomically bool) (PurchaseResult, error)
}

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// FormatMinorUnits renders an amount in minor units (cents) as a decimal
// string in major units for the currency.
func FormatMinorUnits(amount int64, currency string) string {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return strconv.FormatInt(amount, 10)
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// LocalizePrice renders a display price such as "14.99 USD".
func LocalizePrice(price, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return price
	}
	return price + " " + currency
}
