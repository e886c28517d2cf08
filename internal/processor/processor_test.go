package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
	"github.com/ILLUVRSE/telemetry-ingest/internal/codec"
	"github.com/ILLUVRSE/telemetry-ingest/internal/health"
	"github.com/ILLUVRSE/telemetry-ingest/internal/stream"
)

type fakeEmitter struct {
	emitCalls   int
	failUntil   int
	failRecords []buffer.Record
	shutdownErr error
	failedCalls [][]buffer.Record
}

func (f *fakeEmitter) Emit(ctx context.Context, state buffer.State) ([]buffer.Record, error) {
	f.emitCalls++
	if f.emitCalls <= f.failUntil {
		return state.Records, errors.New("simulated emit failure")
	}
	return nil, nil
}

func (f *fakeEmitter) Fail(records []buffer.Record) {
	f.failedCalls = append(f.failedCalls, records)
}

func (f *fakeEmitter) Shutdown() error { return f.shutdownErr }

type fakeCheckpointer struct {
	calls     int
	failUntil int
	lastSeq   string
}

func (f *fakeCheckpointer) Checkpoint(ctx context.Context, shardID, sequenceNumber string) error {
	f.calls++
	f.lastSeq = sequenceNumber
	if f.calls <= f.failUntil {
		return errors.New("simulated checkpoint failure")
	}
	return nil
}

func newTestProcessor(emitter *fakeEmitter, h *health.Flag) *RecordProcessor {
	return New(Config{
		Codec:                codec.New(codec.DefaultLimits()),
		BufferLimits:         buffer.Limits{RecordLimit: 2},
		Emitter:              emitter,
		Health:               h,
		EmitRetryLimit:       2,
		CheckpointRetryLimit: 2,
	})
}

func validRecord(seq string) stream.StreamRecord {
	return stream.StreamRecord{
		Data:           []byte(`{"event_version":"1","app_name":"a","client_id":"c","event_id":"e","event_type":"t","event_timestamp":1}`),
		SequenceNumber: seq,
		ArrivalTime:    time.Now(),
	}
}

func TestProcessBatchFlushesAtRecordLimit(t *testing.T) {
	emitter := &fakeEmitter{}
	h := health.New()
	cp := &fakeCheckpointer{}
	p := newTestProcessor(emitter, h)
	p.Initialize("shard-1", "")

	err := p.ProcessBatch(context.Background(), []stream.StreamRecord{validRecord("1"), validRecord("2")}, 0, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emitter.emitCalls != 1 {
		t.Fatalf("expected exactly one emit call once record limit reached, got %d", emitter.emitCalls)
	}
	if cp.calls != 1 || cp.lastSeq != "2" {
		t.Fatalf("expected checkpoint at seq 2, got calls=%d lastSeq=%q", cp.calls, cp.lastSeq)
	}
	if !h.Healthy() {
		t.Fatalf("expected healthy after successful checkpoint")
	}
}

func TestFlushAndCheckpointRetriesEmitThenSucceeds(t *testing.T) {
	emitter := &fakeEmitter{failUntil: 1}
	h := health.New()
	cp := &fakeCheckpointer{}
	p := newTestProcessor(emitter, h)
	p.Initialize("shard-1", "")

	err := p.ProcessBatch(context.Background(), []stream.StreamRecord{validRecord("1"), validRecord("2")}, 0, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emitter.emitCalls != 2 {
		t.Fatalf("expected emit retried once then succeeded, got %d calls", emitter.emitCalls)
	}
	if len(emitter.failedCalls) != 0 {
		t.Fatalf("Fail should not be called once a retry succeeds")
	}
}

func TestFlushAndCheckpointMarksUnhealthyOnCheckpointExhaustion(t *testing.T) {
	emitter := &fakeEmitter{}
	h := health.New()
	cp := &fakeCheckpointer{failUntil: 10}
	p := newTestProcessor(emitter, h)
	p.Initialize("shard-1", "")

	err := p.ProcessBatch(context.Background(), []stream.StreamRecord{validRecord("1"), validRecord("2")}, 0, cp)
	if err == nil {
		t.Fatalf("expected checkpoint exhaustion error")
	}
	if h.Healthy() {
		t.Fatalf("expected unhealthy after checkpoint retries exhausted")
	}
}

func TestFlushAndCheckpointCallsFailOnEmitExhaustionButStillCheckpoints(t *testing.T) {
	emitter := &fakeEmitter{failUntil: 10}
	h := health.New()
	cp := &fakeCheckpointer{}
	p := newTestProcessor(emitter, h)
	p.Initialize("shard-1", "")

	err := p.ProcessBatch(context.Background(), []stream.StreamRecord{validRecord("1"), validRecord("2")}, 0, cp)
	if err != nil {
		t.Fatalf("unexpected error (checkpoint should still have succeeded): %v", err)
	}
	if len(emitter.failedCalls) != 1 {
		t.Fatalf("expected Fail to be called once emit retries exhausted")
	}
	if cp.calls != 1 {
		t.Fatalf("expected checkpoint to still be attempted after emit exhaustion, got %d calls", cp.calls)
	}
	if !h.Healthy() {
		t.Fatalf("expected healthy: checkpoint succeeded even though emit did not")
	}
}

func TestCompoundProcessorForwardsToChildrenAndDedupsIdentity(t *testing.T) {
	emitterA := &fakeEmitter{}
	emitterB := &fakeEmitter{}
	h := health.New()
	a := newTestProcessor(emitterA, h)
	b := newTestProcessor(emitterB, h)

	compound := NewCompound()
	compound.Add(a)
	compound.Add(b)
	compound.Add(a) // duplicate, should be ignored

	compound.Initialize("shard-1", "")
	cp := &fakeCheckpointer{}
	if err := compound.ProcessBatch(context.Background(), []stream.StreamRecord{validRecord("1"), validRecord("2")}, 0, cp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emitterA.emitCalls != 1 || emitterB.emitCalls != 1 {
		t.Fatalf("expected both children to flush once each, got a=%d b=%d", emitterA.emitCalls, emitterB.emitCalls)
	}
}

func TestDefaultRegistryBuildsKnownKinds(t *testing.T) {
	r := DefaultRegistry()
	cfg := Config{Codec: codec.New(codec.DefaultLimits()), Health: health.New(), Emitter: &fakeEmitter{}}

	if _, ok := r.Build("record", cfg); !ok {
		t.Fatalf("expected record processor to be registered")
	}
	if _, ok := r.Build("error-handler", cfg); !ok {
		t.Fatalf("expected error-handler processor to be registered")
	}
	if _, ok := r.Build("unknown", cfg); ok {
		t.Fatalf("expected unknown kind to be unregistered")
	}
}
