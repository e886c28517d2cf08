package emit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
)

type fakeProducer struct {
	published []fakeProduced
	failNext  bool
	closed    bool
}

type fakeProduced struct {
	key   string
	value []byte
}

func (f *fakeProducer) Produce(ctx context.Context, partitionKey string, value []byte) error {
	if f.failNext {
		return errors.New("simulated produce failure")
	}
	f.published = append(f.published, fakeProduced{key: partitionKey, value: value})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestPointerPublishingEmitsAfterArchival(t *testing.T) {
	store := newFakeStore()
	archival := NewArchivalEmitter(store, "bucket", "events", false, nil)
	producer := &fakeProducer{}
	e := NewPointerPublishingEmitter(archival, producer)

	state := stateWith(buffer.Record{Bytes: []byte("x"), SequenceNumber: "S1"})
	failed, err := e.Emit(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %d", len(failed))
	}
	if len(producer.published) != 1 {
		t.Fatalf("expected one published pointer event, got %d", len(producer.published))
	}
	if producer.published[0].key != "" {
		t.Fatalf("expected empty partition key to trigger random balancing, got %q", producer.published[0].key)
	}

	var got ObjectPointerEvent
	if err := json.Unmarshal(producer.published[0].value, &got); err != nil {
		t.Fatalf("unmarshal pointer event: %v", err)
	}
	if got.Filename != archival.LastObjectKey() {
		t.Fatalf("pointer event filename %q does not match archived key %q", got.Filename, archival.LastObjectKey())
	}
}

func TestPointerPublishingSkipsPublishOnArchivalFailure(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	archival := NewArchivalEmitter(store, "bucket", "events", false, nil)
	producer := &fakeProducer{}
	e := NewPointerPublishingEmitter(archival, producer)

	state := stateWith(buffer.Record{Bytes: []byte("x"), SequenceNumber: "S1"})
	failed, err := e.Emit(context.Background(), state)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(failed) != 1 {
		t.Fatalf("expected batch returned as failed, got %d", len(failed))
	}
	if len(producer.published) != 0 {
		t.Fatalf("expected no publish attempt, got %d", len(producer.published))
	}
}

func TestPointerPublishingFailureReturnsBatch(t *testing.T) {
	store := newFakeStore()
	archival := NewArchivalEmitter(store, "bucket", "events", false, nil)
	producer := &fakeProducer{failNext: true}
	e := NewPointerPublishingEmitter(archival, producer)

	state := stateWith(buffer.Record{Bytes: []byte("x"), SequenceNumber: "S1"})
	failed, err := e.Emit(context.Background(), state)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(failed) != 1 {
		t.Fatalf("expected batch returned as failed, got %d", len(failed))
	}
}
