// Package buffer implements the time-and-size-bounded in-memory record
// buffer shared by every RecordProcessor.
package buffer

import "time"

// Limits configures flush-readiness thresholds.
type Limits struct {
	ByteLimit  int64
	RecordLimit int
	AgeLimit   time.Duration
}

// Record is an opaque buffered payload together with the sequence number
// and event timestamp it was appended under.
type Record struct {
	Bytes          []byte
	SequenceNumber string
	EventTimestamp int64
}

// Buffer accumulates records and reports flush readiness by bytes, count
// or age. Not safe for concurrent use — each shard owns exactly one
// Buffer, per spec.md §5.
type Buffer struct {
	limits Limits
	clock  func() time.Time

	records []Record
	byteCount int64

	firstSequenceNumber string
	lastSequenceNumber  string
	haveSequence        bool

	firstTimestamp time.Time
	haveFirstTS    bool

	lastFlushTime time.Time
}

// New constructs an empty Buffer with the given limits. A zero value in
// any limit field means "unbounded" for that dimension.
func New(limits Limits) *Buffer {
	return newWithClock(limits, time.Now)
}

// newWithClock is the test seam allowing a deterministic clock.
func newWithClock(limits Limits, clock func() time.Time) *Buffer {
	return &Buffer{
		limits:        limits,
		clock:         clock,
		lastFlushTime: clock(),
	}
}

// Append adds a record to the buffer. arrivalTime is the server-arrival
// timestamp used to derive ObjectPath partitioning; it is only recorded
// for the first record in the buffer (first_timestamp per spec.md §4.2).
func (b *Buffer) Append(bytes []byte, sequenceNumber string, eventTimestamp int64, arrivalTime time.Time) {
	if len(b.records) == 0 {
		b.byteCount = 0
		b.firstSequenceNumber = sequenceNumber
		b.haveSequence = true
		b.firstTimestamp = arrivalTime
		b.haveFirstTS = true
	}
	b.records = append(b.records, Record{Bytes: bytes, SequenceNumber: sequenceNumber, EventTimestamp: eventTimestamp})
	b.lastSequenceNumber = sequenceNumber
	b.byteCount += int64(len(bytes))
}

// ShouldFlush reports whether the buffer has reached any configured
// limit. False whenever the buffer is empty, immediately satisfying the
// invariant that ShouldFlush() is false right after Clear().
func (b *Buffer) ShouldFlush() bool {
	if len(b.records) == 0 {
		return false
	}
	if b.limits.RecordLimit > 0 && len(b.records) >= b.limits.RecordLimit {
		return true
	}
	if b.limits.ByteLimit > 0 && b.byteCount >= b.limits.ByteLimit {
		return true
	}
	if b.limits.AgeLimit > 0 && b.clock().Sub(b.lastFlushTime) >= b.limits.AgeLimit {
		return true
	}
	return false
}

// Snapshot returns the current buffered records in insertion order. The
// returned slice must not be mutated by the caller.
func (b *Buffer) Snapshot() []Record {
	return b.records
}

// Len returns the number of currently buffered records.
func (b *Buffer) Len() int {
	return len(b.records)
}

// ByteCount returns the total bytes of all currently buffered records.
func (b *Buffer) ByteCount() int64 {
	return b.byteCount
}

// FirstSequenceNumber returns the sequence number of the first buffered
// record, and false if the buffer is empty.
func (b *Buffer) FirstSequenceNumber() (string, bool) {
	return b.firstSequenceNumber, b.haveSequence
}

// LastSequenceNumber returns the sequence number of the last buffered
// record, and false if the buffer is empty.
func (b *Buffer) LastSequenceNumber() (string, bool) {
	return b.lastSequenceNumber, b.haveSequence
}

// FirstTimestamp returns the arrival timestamp recorded at the first
// Append since the last Clear, and false if the buffer is empty.
func (b *Buffer) FirstTimestamp() (time.Time, bool) {
	return b.firstTimestamp, b.haveFirstTS
}

// State is an immutable snapshot of buffer contents and derived
// statistics, handed to an Emitter per spec.md §3's BufferState.
type State struct {
	Records             []Record
	ByteCount           int64
	FirstSequenceNumber string
	LastSequenceNumber  string
	FirstTimestamp      time.Time
	HaveRecords         bool
}

// State returns an immutable State for the buffer's current contents.
func (b *Buffer) State() State {
	return State{
		Records:             b.records,
		ByteCount:           b.byteCount,
		FirstSequenceNumber: b.firstSequenceNumber,
		LastSequenceNumber:  b.lastSequenceNumber,
		FirstTimestamp:      b.firstTimestamp,
		HaveRecords:         b.haveSequence,
	}
}

// Clear empties the buffer and resets all derived state, including
// last-flush-time to now, per spec.md §4.2.
func (b *Buffer) Clear() {
	b.records = nil
	b.byteCount = 0
	b.firstSequenceNumber = ""
	b.lastSequenceNumber = ""
	b.haveSequence = false
	b.firstTimestamp = time.Time{}
	b.haveFirstTS = false
	b.lastFlushTime = b.clock()
}
