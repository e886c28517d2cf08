package emit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
	"github.com/ILLUVRSE/telemetry-ingest/internal/stream"
)

// ObjectPointerEvent is the downstream-stream payload published after a
// successful archival PUT, per spec.md §4.3.2.
type ObjectPointerEvent struct {
	Filename string `json:"filename"`
}

// PointerPublishingEmitter wraps an ArchivalEmitter: on successful
// archival it publishes an ObjectPointerEvent naming the archived key to
// a downstream stream, balanced across shards with a random partition
// key. Archival objects are idempotent (their key is derived from
// sequence numbers), so a retried publish after a failed one re-derives
// and republishes the same pointer without risk of divergence.
type PointerPublishingEmitter struct {
	archival *ArchivalEmitter
	producer stream.Producer
}

// NewPointerPublishingEmitter constructs a PointerPublishingEmitter
// chaining archival storage and downstream pointer publication.
func NewPointerPublishingEmitter(archival *ArchivalEmitter, producer stream.Producer) *PointerPublishingEmitter {
	return &PointerPublishingEmitter{archival: archival, producer: producer}
}

// Emit implements Emitter. The archival step runs first; its failures
// propagate unchanged. Only on archival success is the pointer event
// published; a publish failure returns the whole input batch as failed,
// per spec.md §4.3.2, relying on the upstream retry policy.
func (e *PointerPublishingEmitter) Emit(ctx context.Context, state buffer.State) ([]buffer.Record, error) {
	failed, err := e.archival.Emit(ctx, state)
	if err != nil {
		return failed, err
	}
	if len(state.Records) == 0 {
		return nil, nil
	}

	event := ObjectPointerEvent{Filename: e.archival.LastObjectKey()}
	payload, err := json.Marshal(event)
	if err != nil {
		return state.Records, fmt.Errorf("marshal object pointer event: %w", err)
	}

	if err := e.producer.Produce(ctx, "", payload); err != nil {
		return state.Records, fmt.Errorf("publish object pointer event: %w", err)
	}
	return nil, nil
}

// Fail delegates to the wrapped archival emitter.
func (e *PointerPublishingEmitter) Fail(records []buffer.Record) {
	e.archival.Fail(records)
}

// Shutdown closes the downstream producer.
func (e *PointerPublishingEmitter) Shutdown() error {
	return e.producer.Close()
}
