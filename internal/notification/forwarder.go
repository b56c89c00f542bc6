package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/core/events"
	"github.com/cardvault/storefront/internal/observability"
)

// ForwardedEvents are the bus events mirrored to Kafka.
var ForwardedEvents = []string{
	events.EventTypeOrderCreated,
	events.EventTypeReconciliationFailed,
	events.EventTypeManualReviewRequired,
}

func NewProducer(cfg internal.KafkaConfig) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// Message is the envelope written to the topic.
type Message struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Forwarder publishes bus events to Kafka keyed by payment id so every event
// for one payment lands on the same partition.
type Forwarder struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func NewForwarder(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (f *Forwarder) Forward(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(Message{
		ID:         event.EventID(),
		Type:       event.EventType(),
		OccurredAt: event.OccurredAt().UTC(),
		Data:       event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	carrier := make(saramaHeaderCarrier, 0, 4)
	carrier.Set("event_type", event.EventType())
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	msg := &sarama.ProducerMessage{
		Topic:   f.topic,
		Value:   sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader(carrier),
	}
	if key := paymentKey(event); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := f.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send event %s: %w", event.EventID(), err)
	}

	f.logger.Info("event forwarded",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"topic", f.topic,
		"partition", partition,
		"offset", offset,
		"trace_id", observability.TraceID(ctx))
	return nil
}

func (f *Forwarder) RegisterEventHandlers(eventBus *events.EventBus) {
	for _, t := range ForwardedEvents {
		eventBus.Subscribe(t, f.Forward)
	}
	f.logger.Info("kafka forwarder registered", "handlers", ForwardedEvents, "topic", f.topic)
}

func (f *Forwarder) Close() error {
	return f.producer.Close()
}

func paymentKey(event events.Event) string {
	data, ok := event.Payload().(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := data["payment_id"].(string)
	return id
}

type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
