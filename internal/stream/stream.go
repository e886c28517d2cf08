// Package stream defines the shard-scoped input stream and checkpoint
// abstractions the core consumes. The transport itself is an external
// collaborator per spec.md §1 (non-goal); this package supplies the
// interfaces plus a default Kinesis/DynamoDB-backed implementation so
// cmd/ingest-worker has something real to run against.
package stream

import (
	"context"
	"time"
)

// StreamRecord is a single record read from a shard, with transport
// metadata attached.
type StreamRecord struct {
	Data           []byte
	SequenceNumber string
	PartitionKey   string
	ArrivalTime    time.Time
}

// ShardReader reads records from one shard of a partitioned, ordered,
// sequence-numbered stream.
type ShardReader interface {
	// GetRecords returns up to maxRecords records, and the approximate
	// number of milliseconds the reader is behind the tip of the shard.
	GetRecords(ctx context.Context, maxRecords int) (records []StreamRecord, millisBehindLatest int64, err error)
	// Close releases any resources (iterators, connections) held by the
	// reader.
	Close() error
}

// Checkpointer durably records the last successfully emitted sequence
// number for a shard, per spec.md §4.4.
type Checkpointer interface {
	Checkpoint(ctx context.Context, shardID, sequenceNumber string) error
}

// Producer publishes a single record to a downstream stream, used by the
// PointerPublishingEmitter (spec.md §4.3.2). Implementations choose their
// own partition-key strategy.
type Producer interface {
	Produce(ctx context.Context, partitionKey string, value []byte) error
	Close() error
}

// InitialPosition selects where a ShardReader begins consuming when no
// checkpoint exists yet, per the kinesis_initial_stream_position config
// key (spec.md §6).
type InitialPosition int

const (
	TrimHorizon InitialPosition = iota
	Latest
)

// ParseInitialPosition maps the configuration string onto InitialPosition,
// defaulting to TrimHorizon for unrecognized values.
func ParseInitialPosition(s string) InitialPosition {
	if s == "LATEST" {
		return Latest
	}
	return TrimHorizon
}
