package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
)

// ErrSandboxDeclined is returned by a Sandbox configured to decline purchases.
var ErrSandboxDeclined = errors.New("sandbox: payment declined")

// Sandbox is an in-process storefront for development and one-shot CLI runs.
// Every purchase of a known product succeeds unless Decline is set.
type Sandbox struct {
	mu        sync.Mutex
	products  map[string]Product
	decline   bool
	purchases []PurchaseResult
}

// DefaultSandboxProducts prices every catalog tier in USD.
func DefaultSandboxProducts() []Product {
	prices := map[catalog.Tier]int64{
		catalog.SixMonths: 899,
		catalog.OneYear:   1499,
	}
	titles := map[catalog.Tier]string{
		catalog.SixMonths: "Public Library (6 months)",
		catalog.OneYear:   "Public Library (1 year)",
	}
	out := make([]Product, 0, len(prices))
	for _, tier := range catalog.AllTiers() {
		price := FormatMinorUnits(prices[tier], "USD")
		out = append(out, Product{
			ID:             tier.ProductID(),
			Title:          titles[tier],
			Price:          price,
			LocalizedPrice: LocalizePrice(price, "USD"),
			CurrencyCode:   "USD",
		})
	}
	return out
}

func NewSandbox(products []Product) *Sandbox {
	s := &Sandbox{products: make(map[string]Product, len(products))}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// SetDecline makes subsequent purchases fail.
func (s *Sandbox) SetDecline(decline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decline = decline
}

// Purchases returns every successful purchase so far.
func (s *Sandbox) Purchases() []PurchaseResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PurchaseResult, len(s.purchases))
	copy(out, s.purchases)
	return out
}

func (s *Sandbox) RetrieveProducts(ctx context.Context, productIDs []string) (ProductsResult, error) {
	if err := ctx.Err(); err != nil {
		return ProductsResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ProductsResult
	for _, id := range productIDs {
		if p, ok := s.products[id]; ok {
			res.Retrieved = append(res.Retrieved, p)
		} else {
			res.Invalid = append(res.Invalid, id)
		}
	}
	return res, nil
}

func (s *Sandbox) Purchase(ctx context.Context, productID string, atomically bool) (PurchaseResult, error) {
	_ = atomically
	if err := ctx.Err(); err != nil {
		return PurchaseResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return PurchaseResult{}, fmt.Errorf("sandbox: unknown product %q", productID)
	}
	if s.decline {
		return PurchaseResult{}, ErrSandboxDeclined
	}
	res := PurchaseResult{ProductID: productID, TransactionID: utils.GenerateID("sandbox")}
	s.purchases = append(s.purchases, res)
	return res, nil
}
