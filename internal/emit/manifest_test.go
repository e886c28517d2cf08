package emit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
	"github.com/ILLUVRSE/telemetry-ingest/internal/warehouse"
)

func testWarehouseTemplates() warehouse.Templates {
	return warehouse.Templates{
		EventsTablePrefix:   "events",
		LoadStagingTable:    "load_staging",
		DedupeStagingPrefix: "dedupe",
		RedshiftSchema:      "analytics",
		AccessKeyID:         "AKIAFAKE",
		SecretAccessKey:     "secretfake",
		SessionToken:        "tokenfake",
	}
}

func pointerRecord(t *testing.T, filename, seq string) buffer.Record {
	t.Helper()
	body, err := json.Marshal(ObjectPointerEvent{Filename: filename})
	if err != nil {
		t.Fatalf("marshal pointer event: %v", err)
	}
	return buffer.Record{Bytes: body, SequenceNumber: seq}
}

func TestManifestEmitterOutOfWindowMonthsSkipped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	connector := warehouse.NewWithDB(db, testWarehouseTemplates())
	store := newFakeStore()
	now := func() time.Time { return time.Date(2017, 10, 15, 0, 0, 0, 0, time.UTC) }
	e := NewManifestEmitter(connector, store, "bucket", "s3", "manifests", true, 3, now)

	mock.ExpectExec(`CREATE TABLE analytics\.load_staging`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`COPY analytics\.load_staging`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stl_load_errors`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT pg_last_copy_count`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rows := sqlmock.NewRows([]string{"year", "month"}).
		AddRow(2017, 6).
		AddRow(2017, 9).
		AddRow(2017, 10)
	mock.ExpectQuery(`SELECT DISTINCT EXTRACT\(YEAR`).WillReturnRows(rows)

	// (2017, 9) in-window
	mock.ExpectExec(`CREATE TABLE analytics\.dedupe_2017_09`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO analytics\.dedupe_2017_09`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO analytics\.events_2017_09`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DROP TABLE IF EXISTS analytics\.dedupe_2017_09`).WillReturnResult(sqlmock.NewResult(0, 0))

	// (2017, 10) in-window
	mock.ExpectExec(`CREATE TABLE analytics\.dedupe_2017_10`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO analytics\.dedupe_2017_10`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO analytics\.events_2017_10`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DROP TABLE IF EXISTS analytics\.dedupe_2017_10`).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(`DROP TABLE IF EXISTS analytics\.load_staging`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`COMMIT`).WillReturnResult(sqlmock.NewResult(0, 0))

	state := stateWith(
		pointerRecord(t, "events/2017/06/...", "S0"),
		pointerRecord(t, "events/2017/09/...", "S1"),
		pointerRecord(t, "events/2017/10/...", "S2"),
	)
	failed, err := e.Emit(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %d", len(failed))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations (2017-06 should have been skipped with no table ops): %v", err)
	}
}
