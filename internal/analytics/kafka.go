package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	DefaultKafkaTopic  = "flashcards.purchases"
	kafkaProduceTimeout = 10 * time.Second
)

// producer is the subset of *kgo.Client the sink needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink publishes each event as a JSON record keyed by item id, so events
// for one product stay ordered within a partition.
type KafkaSink struct {
	client producer
	topic  string
	logger zerolog.Logger
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Logger  zerolog.Logger
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultKafkaTopic
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.DisableIdempotentWrite(),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	cfg.Logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Kafka analytics sink initialized")
	return &KafkaSink{client: client, topic: cfg.Topic, logger: cfg.Logger}, nil
}

func (s *KafkaSink) LogPurchase(ctx context.Context, event PurchaseEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: marshal purchase event: %w", err)
	}

	record := &kgo.Record{
		Topic:     s.topic,
		Key:       []byte(event.ItemID),
		Value:     value,
		Timestamp: event.OccurredAt,
		Headers:   []kgo.RecordHeader{{Key: "event_id", Value: []byte(event.ID)}},
	}

	produceCtx, cancel := context.WithTimeout(ctx, kafkaProduceTimeout)
	defer cancel()

	if err := s.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		return fmt.Errorf("kafka: produce purchase event: %w", err)
	}
	s.logger.Debug().Str("topic", s.topic).Str("event_id", event.ID).Msg("Published purchase event")
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}
