package receipt

import (
	"context"
	"time"
)

type Status int

const (
	StatusNotPurchased Status = iota
	StatusPurchased
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPurchased:
		return "purchased"
	case StatusExpired:
		return "expired"
	default:
		return "not_purchased"
	}
}

// Outcome is the verdict for one tier against one receipt. ExpiresAt is zero
// when Status is StatusNotPurchased.
type Outcome struct {
	Status    Status
	ExpiresAt time.Time
}

// Active reports whether the outcome grants access at now.
func (o Outcome) Active(now time.Time) bool {
	return o.Status == StatusPurchased && o.ExpiresAt.After(now)
}

// Bundle is a validated receipt. It decides subscription state for a product.
type Bundle interface {
	VerifySubscription(productID string, now time.Time) Outcome
}

// Validator submits the device receipt to the external validation endpoint.
type Validator interface {
	Validate(ctx context.Context, env Environment, sharedSecret string) (Bundle, error)
}
