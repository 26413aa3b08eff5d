package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

const publishTimeout = 2 * time.Second

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes driver locations and ride lifecycle events, each
// keyed by entity id so one driver's or ride's messages stay ordered.
type KafkaProducer struct {
	locations MessageWriter
	events    MessageWriter
}

func NewKafkaProducer(brokers []string, locationTopic, rideEventsTopic string) *KafkaProducer {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	}
	return &KafkaProducer{locations: newWriter(locationTopic), events: newWriter(rideEventsTopic)}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, d models.Driver) error {
	return k.publish(ctx, k.locations, d.ID, d)
}

func (k *KafkaProducer) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	return k.publish(ctx, k.events, ev.RideID, ev)
}

func (k *KafkaProducer) publish(ctx context.Context, w MessageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		return fmt.Errorf("kafka write %s: %w", key, err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []MessageWriter{k.locations, k.events} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
