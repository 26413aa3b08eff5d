package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestPublishRideEventKeyedByRide(t *testing.T) {
	events := &fakeWriter{}
	p := &KafkaProducer{locations: &fakeWriter{}, events: events}
	captain := "c1"
	ev := models.RideEvent{RideID: "r1", RiderID: "u1", CaptainID: &captain, From: models.StatusRequested, To: models.StatusAccepted}
	if err := p.PublishRideEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(events.msgs) != 1 || string(events.msgs[0].Key) != "r1" {
		t.Fatalf("unexpected messages %+v", events.msgs)
	}
	var got models.RideEvent
	if err := json.Unmarshal(events.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.To != models.StatusAccepted || got.CaptainID == nil || *got.CaptainID != "c1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPublishLocationWrapsWriterError(t *testing.T) {
	cause := errors.New("leader not available")
	p := &KafkaProducer{locations: &fakeWriter{err: cause}, events: &fakeWriter{}}
	err := p.PublishLocation(context.Background(), models.Driver{ID: "d1"})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestCloseClosesBothWriters(t *testing.T) {
	a, b := &fakeWriter{}, &fakeWriter{}
	p := &KafkaProducer{locations: a, events: b}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Fatal("writers not closed")
	}
}
