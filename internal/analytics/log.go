package analytics

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) LogPurchase(ctx context.Context, event PurchaseEvent) error {
	_ = ctx
	if err := event.Validate(); err != nil {
		return err
	}
	s.logger.Info().
		Str("event_id", event.ID).
		Str("item_id", event.ItemID).
		Str("item_name", event.ItemName).
		Str("item_type", event.ItemType).
		Str("price", event.Price).
		Str("currency", event.Currency).
		Bool("success", event.Success).
		Msg("Purchase recorded")
	return nil
}
