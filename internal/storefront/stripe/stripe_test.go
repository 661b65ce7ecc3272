package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"
)

func newTestStorefront(prices []*stripelib.Price) (*Storefront, *[]*stripelib.SubscriptionParams) {
	var created []*stripelib.SubscriptionParams
	s := &Storefront{
		customerID:   "cus_123",
		lookupPrefix: "flashcards_",
		logger:       zerolog.Nop(),
		listPrices: func(_ context.Context, keys []string) ([]*stripelib.Price, error) {
			want := make(map[string]bool, len(keys))
			for _, k := range keys {
				want[k] = true
			}
			var out []*stripelib.Price
			for _, p := range prices {
				if want[p.LookupKey] {
					out = append(out, p)
				}
			}
			return out, nil
		},
		createSubscription: func(params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
			created = append(created, params)
			return &stripelib.Subscription{ID: "sub_1", Status: stripelib.SubscriptionStatusActive}, nil
		},
	}
	return s, &created
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CustomerID: "cus"})
	require.Error(t, err)
	_, err = New(Config{APIKey: "sk_test"})
	require.Error(t, err)
}

func TestRetrieveProductsSplitsValidAndInvalid(t *testing.T) {
	s, _ := newTestStorefront([]*stripelib.Price{
		{
			ID:         "price_year",
			LookupKey:  "flashcards_PublicLibraryOneYear",
			UnitAmount: 1499,
			Currency:   stripelib.CurrencyUSD,
			Product:    &stripelib.Product{Name: "Public Library (1 year)"},
		},
	})

	res, err := s.RetrieveProducts(context.Background(), []string{"PublicLibrarySixMonths", "PublicLibraryOneYear"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PublicLibrarySixMonths"}, res.Invalid)
	require.Len(t, res.Retrieved, 1)

	p := res.Retrieved[0]
	assert.Equal(t, "PublicLibraryOneYear", p.ID)
	assert.Equal(t, "Public Library (1 year)", p.Title)
	assert.Equal(t, "14.99", p.Price)
	assert.Equal(t, "USD", p.CurrencyCode)
	assert.Equal(t, "14.99 USD", p.LocalizedPrice)
}

func TestRetrieveProductsVendorFailure(t *testing.T) {
	boom := errors.New("api down")
	s, _ := newTestStorefront(nil)
	s.listPrices = func(context.Context, []string) ([]*stripelib.Price, error) { return nil, boom }

	_, err := s.RetrieveProducts(context.Background(), []string{"x"})
	require.ErrorIs(t, err, boom)
}

func TestPurchaseAtomicUsesErrorIfIncomplete(t *testing.T) {
	s, created := newTestStorefront([]*stripelib.Price{{ID: "price_six", LookupKey: "flashcards_PublicLibrarySixMonths"}})

	res, err := s.Purchase(context.Background(), "PublicLibrarySixMonths", true)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", res.TransactionID)
	assert.Equal(t, "PublicLibrarySixMonths", res.ProductID)

	require.Len(t, *created, 1)
	params := (*created)[0]
	assert.Equal(t, "cus_123", *params.Customer)
	assert.Equal(t, "error_if_incomplete", *params.PaymentBehavior)
	require.Len(t, params.Items, 1)
	assert.Equal(t, "price_six", *params.Items[0].Price)
}

func TestPurchaseFailures(t *testing.T) {
	t.Run("unknown product", func(t *testing.T) {
		s, created := newTestStorefront(nil)
		_, err := s.Purchase(context.Background(), "Nope", true)
		require.Error(t, err)
		assert.Empty(t, *created)
	})

	t.Run("card declined", func(t *testing.T) {
		s, _ := newTestStorefront([]*stripelib.Price{{ID: "p", LookupKey: "flashcards_PublicLibraryOneYear"}})
		declined := &stripelib.Error{Type: stripelib.ErrorTypeCard, Code: stripelib.ErrorCodeCardDeclined, Msg: "Your card was declined.", HTTPStatusCode: 402}
		s.createSubscription = func(*stripelib.SubscriptionParams) (*stripelib.Subscription, error) { return nil, declined }

		_, err := s.Purchase(context.Background(), "PublicLibraryOneYear", true)
		require.Error(t, err)
		var stripeErr *stripelib.Error
		require.ErrorAs(t, err, &stripeErr)
		assert.Contains(t, err.Error(), "card_declined")
	})

	t.Run("incomplete subscription", func(t *testing.T) {
		s, _ := newTestStorefront([]*stripelib.Price{{ID: "p", LookupKey: "flashcards_PublicLibraryOneYear"}})
		s.createSubscription = func(*stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
			return &stripelib.Subscription{ID: "sub_x", Status: stripelib.SubscriptionStatusIncomplete}, nil
		}
		_, err := s.Purchase(context.Background(), "PublicLibraryOneYear", false)
		require.Error(t, err)
	})
}
