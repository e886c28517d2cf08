package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
	"github.com/ILLUVRSE/telemetry-ingest/internal/codec"
	"github.com/ILLUVRSE/telemetry-ingest/internal/emit"
	"github.com/ILLUVRSE/telemetry-ingest/internal/health"
	"github.com/ILLUVRSE/telemetry-ingest/internal/metrics"
	"github.com/ILLUVRSE/telemetry-ingest/internal/stream"
)

// ErrorHandlerProcessor runs the same decode pipeline as RecordProcessor
// but only ever appends ErrorRecords: one for every parse/validation/
// serialization failure, and one for every successfully decoded event
// that required sanitization, per spec.md §4.4's ErrorHandlerProcessor.
type ErrorHandlerProcessor struct {
	shardID string
	state   State

	codec  *codec.Codec
	buf    *buffer.Buffer
	em     emit.Emitter
	health *health.Flag
	sink   *metrics.Sink

	emitRetryLimit       int
	checkpointRetryLimit int
}

// NewErrorHandler constructs an ErrorHandlerProcessor. cfg.Emitter is
// expected to be an ArchivalEmitter targeting the dedicated error
// bucket, per spec.md §4.4.
func NewErrorHandler(cfg Config) *ErrorHandlerProcessor {
	return &ErrorHandlerProcessor{
		state:                Init,
		codec:                cfg.Codec,
		buf:                  buffer.New(cfg.BufferLimits),
		em:                   cfg.Emitter,
		health:               cfg.Health,
		sink:                 cfg.MetricSink,
		emitRetryLimit:       cfg.EmitRetryLimit,
		checkpointRetryLimit: cfg.CheckpointRetryLimit,
	}
}

// Initialize records the shard id and transitions Init → Running.
func (p *ErrorHandlerProcessor) Initialize(shardID, startingSequence string) {
	p.shardID = shardID
	p.state = Running
}

// ProcessBatch decodes each record and appends an ErrorRecord for any
// failure or any success that required sanitization; all other
// successes are silently dropped (this processor never re-archives
// clean events).
func (p *ErrorHandlerProcessor) ProcessBatch(ctx context.Context, records []stream.StreamRecord, msBehindLatest int64, checkpointer stream.Checkpointer) error {
	for _, rec := range records {
		outcome := p.codec.Decode(rec.Data, codec.TransportMeta{
			ShardID:        p.shardID,
			SequenceNumber: rec.SequenceNumber,
			PartitionKey:   rec.PartitionKey,
		}, rec.ArrivalTime.UnixMilli())

		errRec, ok := buildErrorRecord(outcome)
		if !ok {
			continue
		}
		body, err := json.Marshal(errRec)
		if err != nil {
			log.Printf("[error-handler] shard %s: marshal error record: %v", p.shardID, err)
			continue
		}
		body = append(body, '\n')
		p.buf.Append(body, rec.SequenceNumber, outcome.Event.EventTimestamp, rec.ArrivalTime)
	}

	if p.buf.ShouldFlush() {
		return p.flushAndCheckpoint(ctx, checkpointer)
	}
	return nil
}

// buildErrorRecord constructs the ErrorRecord for a decode outcome, or
// reports ok=false when the outcome needs no error record at all (a
// clean success with no sanitization).
func buildErrorRecord(outcome codec.Outcome) (codec.ErrorRecord, bool) {
	switch outcome.Kind {
	case codec.KindParseError:
		return codec.ErrorRecord{Reason: codec.ReasonParse, Hex: codec.ToHex(outcome.Raw)}, true
	case codec.KindValidationError:
		fields := []string{outcome.Field}
		return codec.ErrorRecord{Reason: codec.ReasonValidation, JSON: string(outcome.Raw), Fields: fields}, true
	case codec.KindSerializationError:
		return codec.ErrorRecord{Reason: codec.ReasonSerialization, JSON: string(outcome.Raw)}, true
	case codec.Success:
		if !outcome.Event.RequiredSanitization {
			return codec.ErrorRecord{}, false
		}
		return codec.ErrorRecord{
			Reason: codec.ReasonSanitization,
			JSON:   string(outcome.Raw),
			Fields: outcome.Event.SanitizedFields,
		}, true
	default:
		return codec.ErrorRecord{}, false
	}
}

func (p *ErrorHandlerProcessor) flushAndCheckpoint(ctx context.Context, checkpointer stream.Checkpointer) error {
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
		log.Printf("[error-handler] shard %s: emit exhausted retries: %v", p.shardID, emitErr)
		p.em.Fail(state.Records)
	}

	p.buf.Clear()

	// The error-handler path does not own the shard's checkpoint cursor
	// (the primary RecordProcessor in the same CompoundProcessor does);
	// it only needs to keep its own buffer bounded.
	_ = checkpointer
	p.health.MarkHealthy()
	return nil
}

// Shutdown flushes any buffered error records on Terminate and always
// releases the emitter. checkpointer is accepted to satisfy Processor but
// ignored: this processor never owns the shard's checkpoint cursor.
func (p *ErrorHandlerProcessor) Shutdown(ctx context.Context, reason ShutdownReason, checkpointer stream.Checkpointer) {
	p.state = Draining
	if reason == Terminate {
		if err := p.flushAndCheckpoint(ctx, nil); err != nil {
			log.Printf("[error-handler] shard %s: final flush failed: %v", p.shardID, err)
		}
	}
	if err := p.em.Shutdown(); err != nil {
		log.Printf("[error-handler] shard %s: emitter shutdown: %v", p.shardID, err)
	}
	p.state = Terminated
}
