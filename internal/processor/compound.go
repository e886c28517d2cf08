package processor

import (
	"context"

	"github.com/ILLUVRSE/telemetry-ingest/internal/stream"
)

// CompoundProcessor holds an ordered sequence of child Processors and
// forwards Initialize, ProcessBatch and Shutdown to each in turn, per
// spec.md §4.5. It is used to co-run the normal RecordProcessor and the
// ErrorHandlerProcessor on one worker against the same shard.
type CompoundProcessor struct {
	children []Processor
	seen     map[Processor]bool
}

// NewCompound constructs an empty CompoundProcessor.
func NewCompound() *CompoundProcessor {
	return &CompoundProcessor{seen: make(map[Processor]bool)}
}

// Add appends a child processor. Re-adding the same processor instance
// is a no-op (identity dedup, per spec.md §4.5).
func (c *CompoundProcessor) Add(p Processor) {
	if c.seen[p] {
		return
	}
	c.seen[p] = true
	c.children = append(c.children, p)
}

// Initialize forwards to every child in order.
func (c *CompoundProcessor) Initialize(shardID, startingSequence string) {
	for _, child := range c.children {
		child.Initialize(shardID, startingSequence)
	}
}

// ProcessBatch forwards to every child in order. The first child error
// is returned after all children have had a chance to run, so one
// child's failure never starves the others of this batch.
func (c *CompoundProcessor) ProcessBatch(ctx context.Context, records []stream.StreamRecord, msBehindLatest int64, checkpointer stream.Checkpointer) error {
	var firstErr error
	for _, child := range c.children {
		if err := child.ProcessBatch(ctx, records, msBehindLatest, checkpointer); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown forwards to every child in order, passing the same
// checkpointer so each child's Terminate-path final flush_and_checkpoint
// advances the shard's real cursor.
func (c *CompoundProcessor) Shutdown(ctx context.Context, reason ShutdownReason, checkpointer stream.Checkpointer) {
	for _, child := range c.children {
		child.Shutdown(ctx, reason, checkpointer)
	}
}
