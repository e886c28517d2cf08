// Package processor implements the per-shard RecordProcessor state
// machine, its CompoundProcessor and ErrorHandlerProcessor variants, and
// an explicit constructor registry, per spec.md §4.4, §4.5 and §9.
package processor

import (
	"context"
	"fmt"
	"log"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
	"github.com/ILLUVRSE/telemetry-ingest/internal/codec"
	"github.com/ILLUVRSE/telemetry-ingest/internal/emit"
	"github.com/ILLUVRSE/telemetry-ingest/internal/health"
	"github.com/ILLUVRSE/telemetry-ingest/internal/metrics"
	"github.com/ILLUVRSE/telemetry-ingest/internal/stream"
)

// State is the RecordProcessor lifecycle state, per spec.md §4.4.
type State int

const (
	Init State = iota
	Running
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ShutdownReason distinguishes a clean terminate from a coordinator
// declaring the shard a zombie (another worker now owns it).
type ShutdownReason int

const (
	Terminate ShutdownReason = iota
	Zombie
)

// Processor is the common surface CompoundProcessor forwards across
// its children.
type Processor interface {
	Initialize(shardID, startingSequence string)
	ProcessBatch(ctx context.Context, records []stream.StreamRecord, msBehindLatest int64, checkpointer stream.Checkpointer) error
	Shutdown(ctx context.Context, reason ShutdownReason, checkpointer stream.Checkpointer)
}

// Counters tallies per-batch decode outcomes.
type Counters struct {
	Success               int
	ParseFailures         int
	ValidationFailures    int
	SerializationFailures int
	Unexpected            int
}

// RecordProcessor drives one shard's pipeline: decode → buffer-append →
// conditional flush → checkpoint, per spec.md §4.4.
type RecordProcessor struct {
	shardID string
	state   State

	codec  *codec.Codec
	buf    *buffer.Buffer
	em     emit.Emitter
	health *health.Flag
	sink   *metrics.Sink

	emitRetryLimit       int
	checkpointRetryLimit int
	emitShardLevelMetrics bool

	lastCounters Counters
}

// Config bundles the construction-time collaborators and limits a
// RecordProcessor needs, grounded in spec.md §4.4 and §6's configuration
// keys.
type Config struct {
	Codec                 *codec.Codec
	BufferLimits          buffer.Limits
	Emitter               emit.Emitter
	Health                *health.Flag
	MetricSink            *metrics.Sink
	EmitRetryLimit        int
	CheckpointRetryLimit  int
	EmitShardLevelMetrics bool
}

// New constructs a RecordProcessor in state Init.
func New(cfg Config) *RecordProcessor {
	return &RecordProcessor{
		state:                 Init,
		codec:                 cfg.Codec,
		buf:                   buffer.New(cfg.BufferLimits),
		em:                    cfg.Emitter,
		health:                cfg.Health,
		sink:                  cfg.MetricSink,
		emitRetryLimit:        cfg.EmitRetryLimit,
		checkpointRetryLimit:  cfg.CheckpointRetryLimit,
		emitShardLevelMetrics: cfg.EmitShardLevelMetrics,
	}
}

// Initialize records the shard id and transitions Init → Running. Buffer
// and emitter are already constructed (spec.md §4.4 names this step
// "create buffer and emitter"; here they are supplied at construction and
// merely bound to the shard).
func (p *RecordProcessor) Initialize(shardID, startingSequence string) {
	p.shardID = shardID
	p.state = Running
}

// ProcessBatch decodes each record, classifies the outcome, appends
// successes to the buffer, and triggers flush_and_checkpoint once the
// buffer signals readiness.
func (p *RecordProcessor) ProcessBatch(ctx context.Context, records []stream.StreamRecord, msBehindLatest int64, checkpointer stream.Checkpointer) error {
	var counters Counters
	for _, rec := range records {
		outcome := p.codec.Decode(rec.Data, codec.TransportMeta{
			ShardID:        p.shardID,
			SequenceNumber: rec.SequenceNumber,
			PartitionKey:   rec.PartitionKey,
		}, rec.ArrivalTime.UnixMilli())

		switch outcome.Kind {
		case codec.Success:
			counters.Success++
			p.buf.Append(outcome.ProcessedJSON, rec.SequenceNumber, outcome.Event.EventTimestamp, rec.ArrivalTime)
		case codec.KindParseError:
			counters.ParseFailures++
		case codec.KindValidationError:
			counters.ValidationFailures++
		case codec.KindSerializationError:
			counters.SerializationFailures++
		default:
			counters.Unexpected++
		}
	}
	p.lastCounters = counters
	p.recordBatchMetrics(counters, msBehindLatest)

	if p.buf.ShouldFlush() {
		return p.flushAndCheckpoint(ctx, checkpointer)
	}
	return nil
}

// flushAndCheckpoint implements spec.md §4.4's flush_and_checkpoint: emit
// retried with exponential backoff, then the buffer is cleared
// regardless of residual failure, then checkpoint retried with its own
// backoff; checkpoint success marks the process healthy, exhaustion
// marks it unhealthy.
func (p *RecordProcessor) flushAndCheckpoint(ctx context.Context, checkpointer stream.Checkpointer) error {
	state := p.buf.State()
	if !state.HaveRecords {
		return nil
	}

	emitErr := retryWithBackoff(ctx, p.emitRetryLimit, func() error {
		failed, err := p.em.Emit(ctx, state)
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("emit returned %d failed records", len(failed))
		}
		return nil
	})
	if emitErr != nil {
		log.Printf("[processor] shard %s: emit exhausted retries: %v", p.shardID, emitErr)
		p.em.Fail(state.Records)
	}

	lastSeq := state.LastSequenceNumber
	p.buf.Clear()

	checkpointErr := retryWithBackoff(ctx, p.checkpointRetryLimit, func() error {
		return checkpointer.Checkpoint(ctx, p.shardID, lastSeq)
	})
	if checkpointErr != nil {
		log.Printf("[processor] shard %s: checkpoint exhausted retries: %v", p.shardID, checkpointErr)
		p.health.MarkUnhealthy()
		return checkpointErr
	}
	p.health.MarkHealthy()
	return nil
}

// Shutdown performs a final flush_and_checkpoint on Terminate, skips it
// on Zombie (another worker now owns the shard), and always releases the
// emitter and metric sink.
func (p *RecordProcessor) Shutdown(ctx context.Context, reason ShutdownReason, checkpointer stream.Checkpointer) {
	p.state = Draining
	if reason == Terminate {
		if err := p.flushAndCheckpoint(ctx, checkpointer); err != nil {
			log.Printf("[processor] shard %s: final flush_and_checkpoint failed: %v", p.shardID, err)
		}
	}
	if err := p.em.Shutdown(); err != nil {
		log.Printf("[processor] shard %s: emitter shutdown: %v", p.shardID, err)
	}
	if p.sink != nil {
		p.sink.Shutdown(ctx)
	}
	p.state = Terminated
}

// State reports the processor's current lifecycle state.
func (p *RecordProcessor) State() State { return p.state }

// Abandon marks the processor Abandoned-equivalent: the external
// coordinator declared this shard a zombie. Modeled as an immediate
// Terminated transition with no final flush, matching Shutdown(Zombie).
func (p *RecordProcessor) Abandon(ctx context.Context) {
	p.Shutdown(ctx, Zombie, nil)
}

// LastCounters exposes the most recent ProcessBatch's decode tally, for
// tests and shard-level metrics.
func (p *RecordProcessor) LastCounters() Counters { return p.lastCounters }

func (p *RecordProcessor) recordBatchMetrics(c Counters, msBehindLatest int64) {
	if p.sink == nil {
		return
	}
	dims := map[string]string{}
	if p.emitShardLevelMetrics {
		dims["ShardId"] = p.shardID
	}
	p.sink.Record("DecodeSuccess", "Count", float64(c.Success), dims)
	p.sink.Record("DecodeParseFailure", "Count", float64(c.ParseFailures), dims)
	p.sink.Record("DecodeValidationFailure", "Count", float64(c.ValidationFailures), dims)
	p.sink.Record("DecodeSerializationFailure", "Count", float64(c.SerializationFailures), dims)
	p.sink.Record("MillisBehindLatest", "Milliseconds", float64(msBehindLatest), dims)
}
