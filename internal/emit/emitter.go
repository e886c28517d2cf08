// Package emit implements the sink emitter family: archival (gzip
// object upload), pointer-publishing (chained stream publish) and
// warehouse manifest (staging-table upsert) emitters, per spec.md §4.3.
package emit

import (
	"context"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
)

// Emitter takes a buffer snapshot, pushes it to a sink, and reports any
// records that could not be delivered. A nil slice (with nil error)
// means full success.
type Emitter interface {
	Emit(ctx context.Context, state buffer.State) ([]buffer.Record, error)
	// Fail is a terminal notification hook invoked once retries are
	// exhausted; it never returns an error because there is nothing left
	// to retry against.
	Fail(records []buffer.Record)
	Shutdown() error
}
