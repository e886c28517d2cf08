package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
	"github.com/ILLUVRSE/telemetry-ingest/internal/warehouse"
)

// ManifestEntry is one line of the manifest JSON consumed by the
// warehouse COPY command, per spec.md §3.
type ManifestEntry struct {
	URL       string `json:"url"`
	Mandatory bool   `json:"mandatory"`
}

// Manifest is the JSON document PUT to the manifests/ prefix before the
// COPY is issued.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// ManifestEmitter batches archival-object pointers into a warehouse
// COPY, then fans the loaded rows out into the appropriate per-month
// event tables with deduplication, per spec.md §4.3.3.
type ManifestEmitter struct {
	connector       *warehouse.Connector
	store           ObjectStore
	bucket          string
	storeScheme     string
	manifestPrefix  string
	copyMandatory   bool
	retentionMonths int
	now             func() time.Time
}

// NewManifestEmitter constructs a ManifestEmitter. now defaults to
// time.Now when nil; the seam exists for deterministic retention-window
// tests.
func NewManifestEmitter(connector *warehouse.Connector, store ObjectStore, bucket, storeScheme, manifestPrefix string, copyMandatory bool, retentionMonths int, now func() time.Time) *ManifestEmitter {
	if now == nil {
		now = time.Now
	}
	return &ManifestEmitter{
		connector:       connector,
		store:           store,
		bucket:          bucket,
		storeScheme:     storeScheme,
		manifestPrefix:  manifestPrefix,
		copyMandatory:   copyMandatory,
		retentionMonths: retentionMonths,
		now:             now,
	}
}

// Emit implements Emitter. state's records are each a pointer filename
// (published by PointerPublishingEmitter) as raw bytes; they are decoded
// back into ObjectPointerEvents to build the manifest.
func (e *ManifestEmitter) Emit(ctx context.Context, state buffer.State) ([]buffer.Record, error) {
	if len(state.Records) == 0 {
		return nil, nil
	}

	if err := e.connector.Open(ctx); err != nil {
		return state.Records, fmt.Errorf("open warehouse session: %w", err)
	}
	defer e.connector.Close()

	manifest, err := e.buildManifest(state.Records)
	if err != nil {
		return state.Records, fmt.Errorf("build manifest: %w", err)
	}
	manifestKey := e.manifestKey(state.FirstSequenceNumber, state.LastSequenceNumber)
	manifestPath := fmt.Sprintf("%s://%s/%s", e.storeScheme, e.bucket, manifestKey)

	body, err := json.Marshal(manifest)
	if err != nil {
		return state.Records, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := e.store.Put(ctx, e.bucket, manifestKey, body, "application/json"); err != nil {
		return state.Records, fmt.Errorf("upload manifest: %w", err)
	}

	loadStaging := e.connector.LoadStagingTable()
	if err := e.connector.CreateStagingTable(ctx, loadStaging); err != nil {
		return state.Records, fmt.Errorf("create load staging table: %w", err)
	}
	if err := e.connector.CopyFromObjectStore(ctx, manifestPath); err != nil {
		return state.Records, fmt.Errorf("copy from manifest %s: %w", manifestPath, err)
	}
	_ = e.connector.GetLastLoadErrorCount(ctx)
	_ = e.connector.GetCopyCount(ctx)

	pairs, err := e.connector.UniqueYearMonthPairs(ctx, loadStaging)
	if err != nil {
		return state.Records, fmt.Errorf("query distinct year-month pairs: %w", err)
	}

	windowStart := e.now().AddDate(0, -e.retentionMonths, 0)
	windowEnd := e.now()

	for _, ym := range pairs {
		monthStart := time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC)
		if monthStart.Before(firstOfMonth(windowStart)) || monthStart.After(firstOfMonth(windowEnd)) {
			log.Printf("[manifest] skipping out-of-window month %04d-%02d", ym.Year, ym.Month)
			continue
		}

		dedupeStaging := e.connector.DedupeStagingName(ym.Year, ym.Month)
		eventsTable := e.connector.EventTableName(ym.Year, ym.Month)

		if err := e.connector.CreateStagingTable(ctx, dedupeStaging); err != nil {
			return state.Records, fmt.Errorf("create dedupe staging table %s: %w", dedupeStaging, err)
		}
		if err := e.connector.DedupeInsert(ctx, dedupeStaging, eventsTable, ym.Year, ym.Month); err != nil {
			return state.Records, fmt.Errorf("dedupe insert for %04d-%02d: %w", ym.Year, ym.Month, err)
		}
		if err := e.connector.FinalInsert(ctx, dedupeStaging, eventsTable, ym.Year, ym.Month); err != nil {
			return state.Records, fmt.Errorf("final insert for %04d-%02d: %w", ym.Year, ym.Month, err)
		}
		if err := e.connector.DropTable(ctx, dedupeStaging); err != nil {
			return state.Records, fmt.Errorf("drop dedupe staging table %s: %w", dedupeStaging, err)
		}
	}

	if err := e.connector.DropTable(ctx, loadStaging); err != nil {
		return state.Records, fmt.Errorf("drop load staging table: %w", err)
	}
	if err := e.connector.Commit(ctx); err != nil {
		return state.Records, fmt.Errorf("commit: %w", err)
	}

	return nil, nil
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (e *ManifestEmitter) buildManifest(records []buffer.Record) (Manifest, error) {
	entries := make([]ManifestEntry, 0, len(records))
	for _, r := range records {
		var event ObjectPointerEvent
		if err := json.Unmarshal(r.Bytes, &event); err != nil {
			return Manifest{}, fmt.Errorf("decode object pointer event: %w", err)
		}
		entries = append(entries, ManifestEntry{
			URL:       fmt.Sprintf("%s://%s/%s", e.storeScheme, e.bucket, event.Filename),
			Mandatory: e.copyMandatory,
		})
	}
	return Manifest{Entries: entries}, nil
}

func (e *ManifestEmitter) manifestKey(firstSeq, lastSeq string) string {
	return fmt.Sprintf("%s/%s-%s", e.manifestPrefix, firstSeq, lastSeq)
}

// Fail is a no-op: the checkpoint still advances per spec.md §7, and a
// retried load re-derives the same manifest key from sequence numbers.
func (e *ManifestEmitter) Fail(records []buffer.Record) {}

// Shutdown releases no resources of its own; each Emit opens and closes
// its own connector per spec.md §5's "each flush opens and closes its
// own connector".
func (e *ManifestEmitter) Shutdown() error { return nil }
