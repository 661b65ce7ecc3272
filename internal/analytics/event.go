// Package analytics records purchase events to one or more sinks.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
)

// PurchaseEvent is one completed purchase as reported to analytics.
type PurchaseEvent struct {
	ID         string    `json:"id"`
	Price      string    `json:"price"`
	Currency   string    `json:"currency"`
	Success    bool      `json:"success"`
	ItemName   string    `json:"itemName"`
	ItemType   string    `json:"itemType"`
	ItemID     string    `json:"itemId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewPurchaseEvent stamps a fresh ID and the current time.
func NewPurchaseEvent(price, currency, itemName, itemType, itemID string, success bool) PurchaseEvent {
	return PurchaseEvent{
		ID:         utils.GenerateID("purchase"),
		Price:      price,
		Currency:   strings.ToUpper(strings.TrimSpace(currency)),
		Success:    success,
		ItemName:   itemName,
		ItemType:   itemType,
		ItemID:     itemID,
		OccurredAt: time.Now().UTC(),
	}
}

func (e PurchaseEvent) Validate() error {
	if strings.TrimSpace(e.ItemID) == "" {
		return errors.New("item id is required")
	}
	if strings.TrimSpace(e.Currency) == "" {
		return errors.New("currency is required")
	}
	if strings.TrimSpace(e.Price) == "" {
		return errors.New("price is required")
	}
	return nil
}

// Sink receives purchase events. Implementations must be safe for concurrent use.
type Sink interface {
	LogPurchase(ctx context.Context, event PurchaseEvent) error
}

// Multi fans an event out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Sink

func (m Multi) LogPurchase(ctx context.Context, event PurchaseEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.LogPurchase(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
