package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/pos-terminal/internal/events"
	"github.com/noah-isme/pos-terminal/internal/obs"
)

// MessageWriter is the part of kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to Kafka, one topic per event topic.
type KafkaPublisher struct {
	Writer      MessageWriter
	TopicPrefix string
	Logger      zerolog.Logger
	brokers     []string
}

// NewKafkaPublisher builds a synchronous publisher that waits for all replicas.
func NewKafkaPublisher(brokers []string, topicPrefix string, logger zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{Writer: w, TopicPrefix: topicPrefix, Logger: logger, brokers: brokers}
}

// Topic maps an event topic to its Kafka topic.
func (p *KafkaPublisher) Topic(eventTopic string) string {
	return p.TopicPrefix + eventTopic
}

// Publish sends ev keyed by its aggregate so one sale stays ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev events.Event) error {
	if p == nil || p.Writer == nil {
		return errors.New("notify: kafka writer not configured")
	}
	data, err := marshalEnvelope(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := p.Topic(ev.Topic)
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(ev.AggregateID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Topic)},
			{Key: "source", Value: []byte("pos-terminal")},
		},
	}
	if ev.TenantID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "tenant_id", Value: []byte(ev.TenantID)})
	}

	start := time.Now()
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		obs.ObserveDelivery("kafka", "failed", time.Since(start))
		p.Logger.Error().Err(err).Str("topic", topic).Str("event_id", ev.ID).Msg("kafka_publish_failed")
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}
	obs.ObserveDelivery("kafka", "delivered", time.Since(start))
	p.Logger.Debug().Str("topic", topic).Str("event_id", ev.ID).Str("aggregate_id", ev.AggregateID).Msg("kafka_published")
	return nil
}

// Ping dials the configured brokers.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return PingBrokers(ctx, p.brokers)
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}

// PingBrokers returns nil when at least one broker answers a metadata request.
func PingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}
