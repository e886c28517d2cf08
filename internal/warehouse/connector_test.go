package warehouse

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func testTemplates() Templates {
	return Templates{
		EventsTablePrefix:   "events",
		LoadStagingTable:    "load_staging",
		DedupeStagingPrefix: "dedupe",
		RedshiftSchema:      "analytics",
		AccessKeyID:         "AKIAFAKE",
		SecretAccessKey:     "secretfake",
		SessionToken:        "tokenfake",
	}
}

func TestCreateEventTableIssuesCreateIfNotExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	c := NewWithDB(db, testTemplates())
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS analytics\.events_2017_10`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := c.CreateEventTable(context.Background(), 2017, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetLastLoadErrorCountReturnsMinusOneOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	c := NewWithDB(db, testTemplates())
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stl_load_errors`).WillReturnError(errors.New("boom"))

	if got := c.GetLastLoadErrorCount(context.Background()); got != -1 {
		t.Fatalf("expected -1 on query failure, got %d", got)
	}
}

func TestUniqueYearMonthPairsOrdersOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	c := NewWithDB(db, testTemplates())
	rows := sqlmock.NewRows([]string{"year", "month"}).
		AddRow(2017, 6).
		AddRow(2017, 9).
		AddRow(2017, 10)
	mock.ExpectQuery(`SELECT DISTINCT EXTRACT\(YEAR`).WillReturnRows(rows)

	pairs, err := c.UniqueYearMonthPairs(context.Background(), "load_staging")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []YearMonth{{2017, 6}, {2017, 9}, {2017, 10}}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %d", len(want), len(pairs))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("pair %d: expected %+v, got %+v", i, want[i], pairs[i])
		}
	}
}

func TestDedupeInsertAndFinalInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	c := NewWithDB(db, testTemplates())
	mock.ExpectExec(`INSERT INTO analytics\.dedupe_2017_10`).WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(`INSERT INTO analytics\.events_2017_10 SELECT \* FROM analytics\.dedupe_2017_10`).WillReturnResult(sqlmock.NewResult(0, 5))

	if err := c.DedupeInsert(context.Background(), "dedupe_2017_10", "events_2017_10", 2017, 10); err != nil {
		t.Fatalf("dedupe insert: %v", err)
	}
	if err := c.FinalInsert(context.Background(), "dedupe_2017_10", "events_2017_10", 2017, 10); err != nil {
		t.Fatalf("final insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
