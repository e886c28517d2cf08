// Package warehouse implements WarehouseConnector, the typed façade over
// the columnar warehouse SQL session used by the manifest emitter and the
// maintenance controller, per spec.md §4.6.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// Templates holds the configured schema, table names and COPY credentials
// that the Connector's built-in SQL statements are rendered with, per
// spec.md §4.6's "JDBC-flavored session" design note.
type Templates struct {
	EventsTablePrefix   string
	LoadStagingTable    string
	DedupeStagingPrefix string
	RedshiftSchema      string
	AccessKeyID         string
	SecretAccessKey     string
	SessionToken        string
}

// CredentialSource acquires short-lived cluster credentials (name/password
// valid for roughly one hour), per spec.md §4.6's open() contract.
type CredentialSource interface {
	GetClusterCredentials(ctx context.Context) (username, password string, err error)
}

// Connector is a stateful handle around one SQL session. It is NOT safe
// for concurrent use: at most one in-flight statement per session, per
// spec.md §4.6's invariant.
type Connector struct {
	dsnBase   string
	creds     CredentialSource
	templates Templates

	db *sql.DB
}

// New constructs a Connector. dsnBase is the connection string minus
// user/password, e.g. "host=... port=5439 dbname=... sslmode=require".
func New(dsnBase string, creds CredentialSource, templates Templates) *Connector {
	return &Connector{dsnBase: dsnBase, creds: creds, templates: templates}
}

// NewWithDB wraps an already-open *sql.DB, bypassing credential
// acquisition — used by tests against go-sqlmock and by callers that
// manage the connection pool themselves.
func NewWithDB(db *sql.DB, templates Templates) *Connector {
	return &Connector{db: db, templates: templates}
}

// Open acquires short-lived cluster credentials and opens a connection to
// the warehouse using dsnBase; the connection uses TLS when dsnBase sets
// an sslmode that requires it (as in the example on New). A Connector built via NewWithDB already
// owns an open session, so Open is a no-op in that case.
func (c *Connector) Open(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	user, pass, err := c.creds.GetClusterCredentials(ctx)
	if err != nil {
		return fmt.Errorf("acquire cluster credentials: %w", err)
	}
	dsn := fmt.Sprintf("user=%s password=%s %s", user, pass, c.dsnBase)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open warehouse session: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping warehouse session: %w", err)
	}
	c.db = db
	return nil
}

// Close releases the underlying SQL session.
func (c *Connector) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// CreateEventTable creates the per-month event table for year y, month m,
// named "<events_prefix>_YYYY_MM", if it does not already exist.
func (c *Connector) CreateEventTable(ctx context.Context, y, m int) error {
	name := c.eventTableName(y, m)
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (LIKE %s.%s_template)`, c.templates.RedshiftSchema, name, c.templates.RedshiftSchema, c.templates.EventsTablePrefix)
	_, err := c.db.ExecContext(ctx, q)
	if err != nil {
		return fmt.Errorf("create event table %s: %w", name, err)
	}
	return nil
}

// DropTable drops name unconditionally.
func (c *Connector) DropTable(ctx context.Context, name string) error {
	q := fmt.Sprintf(`DROP TABLE IF EXISTS %s.%s`, c.templates.RedshiftSchema, name)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// CreateStagingTable creates an ephemeral staging table with the same
// shape as the events template.
func (c *Connector) CreateStagingTable(ctx context.Context, name string) error {
	q := fmt.Sprintf(`CREATE TABLE %s.%s (LIKE %s.%s_template)`, c.templates.RedshiftSchema, name, c.templates.RedshiftSchema, c.templates.EventsTablePrefix)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create staging table %s: %w", name, err)
	}
	return nil
}

// CopyFromObjectStore renders and executes a COPY statement embedding a
// temporary-credential clause, loading manifestPath into the load-staging
// table.
func (c *Connector) CopyFromObjectStore(ctx context.Context, manifestPath string) error {
	q := fmt.Sprintf(
		`COPY %s.%s FROM '%s' CREDENTIALS 'aws_access_key_id=%s;aws_secret_access_key=%s;token=%s' MANIFEST JSON 'auto'`,
		c.templates.RedshiftSchema, c.templates.LoadStagingTable, manifestPath,
		c.templates.AccessKeyID, c.templates.SecretAccessKey, c.templates.SessionToken,
	)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("copy from object store %s: %w", manifestPath, err)
	}
	return nil
}

// GetLastLoadErrorCount, GetCopyCount, GetInsertCount each execute a
// single scalar query against system catalogs. Failure is non-fatal:
// these back observability metrics, so -1 is returned rather than an
// error.
func (c *Connector) GetLastLoadErrorCount(ctx context.Context) int64 {
	return c.scalarOrMinusOne(ctx, `SELECT COUNT(*) FROM stl_load_errors WHERE query = pg_last_copy_id()`)
}

func (c *Connector) GetCopyCount(ctx context.Context) int64 {
	return c.scalarOrMinusOne(ctx, `SELECT pg_last_copy_count()`)
}

func (c *Connector) GetInsertCount(ctx context.Context) int64 {
	return c.scalarOrMinusOne(ctx, `SELECT COALESCE(SUM(rows), 0) FROM stl_insert WHERE query = pg_last_query_id()`)
}

func (c *Connector) scalarOrMinusOne(ctx context.Context, query string) int64 {
	var n int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		log.Printf("[warehouse] scalar query failed, reporting -1: %v", err)
		return -1
	}
	return n
}

// ListTables returns an ordered, deduplicated list of schema-qualified
// table names matching the events prefix.
func (c *Connector) ListTables(ctx context.Context) ([]string, error) {
	q := `SELECT DISTINCT table_schema || '.' || table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_name LIKE $2 ORDER BY 1`
	rows, err := c.db.QueryContext(ctx, q, c.templates.RedshiftSchema, c.templates.EventsTablePrefix+"_%")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// CreateUnionView atomically replaces the union view over tables.
func (c *Connector) CreateUnionView(ctx context.Context, viewName string, tables []string) error {
	if len(tables) == 0 {
		return fmt.Errorf("create union view %s: no tables supplied", viewName)
	}
	selectClauses := make([]string, len(tables))
	for i, t := range tables {
		selectClauses[i] = fmt.Sprintf("SELECT * FROM %s", t)
	}
	union := selectClauses[0]
	for _, clause := range selectClauses[1:] {
		union += " UNION ALL " + clause
	}
	q := fmt.Sprintf(`CREATE OR REPLACE VIEW %s.%s AS %s`, c.templates.RedshiftSchema, viewName, union)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create union view %s: %w", viewName, err)
	}
	return nil
}

// YearMonth is an ordered (year, month) pair.
type YearMonth struct {
	Year  int
	Month int
}

// UniqueYearMonthPairs returns distinct (year, month) pairs present in
// table, ordered oldest to newest.
func (c *Connector) UniqueYearMonthPairs(ctx context.Context, table string) ([]YearMonth, error) {
	q := fmt.Sprintf(`SELECT DISTINCT EXTRACT(YEAR FROM event_timestamp)::int, EXTRACT(MONTH FROM event_timestamp)::int
		FROM %s.%s ORDER BY 1, 2`, c.templates.RedshiftSchema, table)
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("unique year-month pairs on %s: %w", table, err)
	}
	defer rows.Close()

	var pairs []YearMonth
	for rows.Next() {
		var ym YearMonth
		if err := rows.Scan(&ym.Year, &ym.Month); err != nil {
			return nil, fmt.Errorf("scan year-month pair: %w", err)
		}
		pairs = append(pairs, ym)
	}
	return pairs, rows.Err()
}

// AnalyzeTable runs ANALYZE on name.
func (c *Connector) AnalyzeTable(ctx context.Context, name string) error {
	q := fmt.Sprintf(`ANALYZE %s.%s`, c.templates.RedshiftSchema, name)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("analyze table %s: %w", name, err)
	}
	return nil
}

// VacuumTable runs VACUUM on name; reindex requests the REINDEX variant.
func (c *Connector) VacuumTable(ctx context.Context, name string, reindex bool) error {
	verb := "VACUUM"
	if reindex {
		verb = "VACUUM REINDEX"
	}
	q := fmt.Sprintf(`%s %s.%s`, verb, c.templates.RedshiftSchema, name)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("vacuum table %s: %w", name, err)
	}
	return nil
}

// DedupeInsert inserts the load-staging rows for year y, month m into
// dedupeStaging, filtered (by a join on event_id) to rows not already
// present in the destination event table.
func (c *Connector) DedupeInsert(ctx context.Context, dedupeStaging, eventsTable string, y, m int) error {
	q := fmt.Sprintf(`INSERT INTO %[1]s.%[2]s
		SELECT ls.* FROM %[1]s.%[3]s ls
		LEFT JOIN %[1]s.%[4]s ev ON ls.event_id = ev.event_id
		WHERE ev.event_id IS NULL
		  AND EXTRACT(YEAR FROM ls.event_timestamp) = %[5]d
		  AND EXTRACT(MONTH FROM ls.event_timestamp) = %[6]d`,
		c.templates.RedshiftSchema, dedupeStaging, c.templates.LoadStagingTable, eventsTable, y, m)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("dedupe insert into %s: %w", dedupeStaging, err)
	}
	return nil
}

// FinalInsert inserts from dedupeStaging into the destination event table
// for year y, month m.
func (c *Connector) FinalInsert(ctx context.Context, dedupeStaging, eventsTable string, y, m int) error {
	q := fmt.Sprintf(`INSERT INTO %[1]s.%[2]s SELECT * FROM %[1]s.%[3]s`, c.templates.RedshiftSchema, eventsTable, dedupeStaging)
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("final insert into %s: %w", eventsTable, err)
	}
	return nil
}

// Commit commits the current session. Best-effort: the session runs with
// autocommit enabled per statement, so Commit is a courtesy no-op against
// most drivers but is still issued per spec.md §4.6.
func (c *Connector) Commit(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback rolls back the current session, best-effort.
func (c *Connector) Rollback(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `ROLLBACK`); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (c *Connector) eventTableName(y, m int) string {
	return fmt.Sprintf("%s_%04d_%02d", c.templates.EventsTablePrefix, y, m)
}

// DedupeStagingName renders the ephemeral dedupe-staging table name for
// year y, month m.
func (c *Connector) DedupeStagingName(y, m int) string {
	return fmt.Sprintf("%s_%04d_%02d", c.templates.DedupeStagingPrefix, y, m)
}

// EventTableName exposes eventTableName for callers outside the package
// (maintenance, manifest emitter).
func (c *Connector) EventTableName(y, m int) string {
	return c.eventTableName(y, m)
}

// LoadStagingTable exposes the configured load-staging table name.
func (c *Connector) LoadStagingTable() string {
	return c.templates.LoadStagingTable
}
