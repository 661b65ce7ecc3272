// Package stripe sells catalog subscriptions through Stripe. Each catalog
// product maps to a Stripe price whose lookup key is the product identifier
// with an optional prefix.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KayKostadinov/Go-Flashcards/internal/storefront"
	"github.com/rs/zerolog"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/subscription"
)

type Config struct {
	APIKey     string
	CustomerID string
	// LookupPrefix is prepended to the product identifier to form the price lookup key.
	LookupPrefix string
	Logger       zerolog.Logger
}

type Storefront struct {
	customerID   string
	lookupPrefix string
	logger       zerolog.Logger

	listPrices         func(ctx context.Context, lookupKeys []string) ([]*stripelib.Price, error)
	createSubscription func(params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
}

var _ storefront.Storefront = (*Storefront)(nil)

func New(cfg Config) (*Storefront, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("stripe API key is required")
	}
	if strings.TrimSpace(cfg.CustomerID) == "" {
		return nil, errors.New("stripe customer ID is required")
	}
	stripelib.Key = strings.TrimSpace(cfg.APIKey)

	return &Storefront{
		customerID:         strings.TrimSpace(cfg.CustomerID),
		lookupPrefix:       cfg.LookupPrefix,
		logger:             cfg.Logger,
		listPrices:         listActivePrices,
		createSubscription: subscription.New,
	}, nil
}

func listActivePrices(ctx context.Context, lookupKeys []string) ([]*stripelib.Price, error) {
	params := &stripelib.PriceListParams{
		Active:     stripelib.Bool(true),
		LookupKeys: stripelib.StringSlice(lookupKeys),
	}
	params.Context = ctx
	params.AddExpand("data.product")

	var out []*stripelib.Price
	iter := price.List(params)
	for iter.Next() {
		out = append(out, iter.Price())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storefront) lookupKey(productID string) string {
	return s.lookupPrefix + productID
}

func (s *Storefront) RetrieveProducts(ctx context.Context, productIDs []string) (storefront.ProductsResult, error) {
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, s.lookupKey(id))
	}

	prices, err := s.listPrices(ctx, keys)
	if err != nil {
		return storefront.ProductsResult{}, fmt.Errorf("list stripe prices: %w", err)
	}

	byKey := make(map[string]*stripelib.Price, len(prices))
	for _, p := range prices {
		if p != nil {
			byKey[p.LookupKey] = p
		}
	}

	var res storefront.ProductsResult
	for _, id := range productIDs {
		p, ok := byKey[s.lookupKey(id)]
		if !ok {
			res.Invalid = append(res.Invalid, id)
			continue
		}
		res.Retrieved = append(res.Retrieved, productFromPrice(id, p))
	}
	return res, nil
}

func productFromPrice(productID string, p *stripelib.Price) storefront.Product {
	currency := strings.ToUpper(string(p.Currency))
	amount := storefront.FormatMinorUnits(p.UnitAmount, currency)
	title := productID
	if p.Product != nil && p.Product.Name != "" {
		title = p.Product.Name
	} else if p.Nickname != "" {
		title = p.Nickname
	}
	return storefront.Product{
		ID:             productID,
		Title:          title,
		Price:          amount,
		LocalizedPrice: storefront.LocalizePrice(amount, currency),
		CurrencyCode:   currency,
	}
}

// Purchase subscribes the configured customer to the product's price. An
// atomic purchase uses error_if_incomplete, so Stripe either charges and
// activates the subscription or creates nothing.
func (s *Storefront) Purchase(ctx context.Context, productID string, atomically bool) (storefront.PurchaseResult, error) {
	prices, err := s.listPrices(ctx, []string{s.lookupKey(productID)})
	if err != nil {
		return storefront.PurchaseResult{}, fmt.Errorf("resolve stripe price: %w", err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return storefront.PurchaseResult{}, fmt.Errorf("no active stripe price for %q", productID)
	}

	behavior := "default_incomplete"
	if atomically {
		behavior = "error_if_incomplete"
	}
	params := &stripelib.SubscriptionParams{
		Customer: stripelib.String(s.customerID),
		Items: []*stripelib.SubscriptionItemsParams{
			{Price: stripelib.String(prices[0].ID)},
		},
		PaymentBehavior: stripelib.String(behavior),
	}
	params.Context = ctx
	params.AddMetadata("product_id", productID)

	sub, err := s.createSubscription(params)
	if err != nil {
		return storefront.PurchaseResult{}, describeStripeError(err)
	}
	if sub.Status != stripelib.SubscriptionStatusActive && sub.Status != stripelib.SubscriptionStatusTrialing {
		return storefront.PurchaseResult{}, fmt.Errorf("stripe subscription %s is %s", sub.ID, sub.Status)
	}

	s.logger.Debug().Str("product_id", productID).Str("subscription_id", sub.ID).Msg("Stripe subscription created")
	return storefront.PurchaseResult{ProductID: productID, TransactionID: sub.ID}, nil
}

func describeStripeError(err error) error {
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe %s (code=%s, http=%d): %s: %w",
			stripeErr.Type, stripeErr.Code, stripeErr.HTTPStatusCode, stripeErr.Msg, err)
	}
	return fmt.Errorf("create stripe subscription: %w", err)
}
