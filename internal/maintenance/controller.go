// Package maintenance implements MaintenanceController, the cron-driven
// warehouse lifecycle manager for per-month time-series tables, per
// spec.md §4.7.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ILLUVRSE/telemetry-ingest/internal/health"
	"github.com/ILLUVRSE/telemetry-ingest/internal/metrics"
	"github.com/ILLUVRSE/telemetry-ingest/internal/warehouse"
)

// Controller runs the three idempotent, externally scheduled maintenance
// operations named in spec.md §4.7. Each operation opens and closes its
// own warehouse connector, mirroring the emitter's "each flush opens and
// closes its own connector" rule (spec.md §5).
type Controller struct {
	connectorFactory func(ctx context.Context) (*warehouse.Connector, error)
	viewName         string
	retentionMonths  int
	health           *health.Flag
	sink             *metrics.Sink
	now              func() time.Time
}

// New constructs a Controller. connectorFactory opens a fresh
// credentialed Connector for each maintenance run. now defaults to
// time.Now when nil.
func New(connectorFactory func(ctx context.Context) (*warehouse.Connector, error), viewName string, retentionMonths int, h *health.Flag, sink *metrics.Sink, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		connectorFactory: connectorFactory,
		viewName:         viewName,
		retentionMonths:  retentionMonths,
		health:           h,
		sink:             sink,
		now:              now,
	}
}

// RollTimeSeries creates the table for now+1 month (drop-then-create if
// present), drops the table for now-retentionMonths, and rebuilds the
// UNION-ALL view, per spec.md §4.7. Run twice daily by an external
// scheduler.
func (c *Controller) RollTimeSeries(ctx context.Context) error {
	return c.withConnector(ctx, "RollTimeSeries", func(conn *warehouse.Connector) error {
		now := c.now()
		now = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		nextMonth := now.AddDate(0, 1, 0)
		oldestMonth := now.AddDate(0, -c.retentionMonths, 0)

		if err := c.timed(conn, "RollTimeSeries.DropNext", func() error {
			return conn.DropTable(ctx, conn.EventTableName(nextMonth.Year(), int(nextMonth.Month())))
		}); err != nil {
			return err
		}
		if err := c.timed(conn, "RollTimeSeries.CreateNext", func() error {
			return conn.CreateEventTable(ctx, nextMonth.Year(), int(nextMonth.Month()))
		}); err != nil {
			return err
		}
		if err := c.timed(conn, "RollTimeSeries.DropOldest", func() error {
			return conn.DropTable(ctx, conn.EventTableName(oldestMonth.Year(), int(oldestMonth.Month())))
		}); err != nil {
			return err
		}
		if err := c.rebuildUnionView(ctx, conn); err != nil {
			return err
		}
		return conn.Commit(ctx)
	})
}

// VacuumAndAnalyze lists tables, VACUUMs each (continuing past
// per-table failures), then ANALYZEs each — VACUUM first so statistics
// reflect the compacted state, per spec.md §4.7. Run nightly.
func (c *Controller) VacuumAndAnalyze(ctx context.Context) error {
	return c.withConnector(ctx, "VacuumAndAnalyze", func(conn *warehouse.Connector) error {
		tables, err := conn.ListTables(ctx)
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}

		// ListTables returns schema-qualified names; VacuumTable and
		// AnalyzeTable add the schema themselves.
		names := make([]string, len(tables))
		for i, table := range tables {
			names[i] = table[strings.LastIndex(table, ".")+1:]
		}

		for i, table := range tables {
			if err := conn.VacuumTable(ctx, names[i], false); err != nil {
				log.Printf("[maintenance] vacuum %s failed, continuing: %v", table, err)
			}
		}
		for i, table := range tables {
			if err := conn.AnalyzeTable(ctx, names[i]); err != nil {
				log.Printf("[maintenance] analyze %s failed, continuing: %v", table, err)
			}
		}
		return nil
	})
}

// BootInitialize creates every month's table from now+1 back to
// now-retentionMonths (no-op if already present) and rebuilds the UNION
// view. Run once at startup.
func (c *Controller) BootInitialize(ctx context.Context) error {
	return c.withConnector(ctx, "BootInitialize", func(conn *warehouse.Connector) error {
		now := c.now()
		now = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		cursor := now.AddDate(0, -c.retentionMonths, 0)
		end := now.AddDate(0, 1, 0)

		for !cursor.After(end) {
			if err := conn.CreateEventTable(ctx, cursor.Year(), int(cursor.Month())); err != nil {
				return fmt.Errorf("create event table for %04d-%02d: %w", cursor.Year(), cursor.Month(), err)
			}
			cursor = cursor.AddDate(0, 1, 0)
		}
		return c.rebuildUnionView(ctx, conn)
	})
}

func (c *Controller) rebuildUnionView(ctx context.Context, conn *warehouse.Connector) error {
	tables, err := conn.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("list tables for union view: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}
	if err := conn.CreateUnionView(ctx, c.viewName, tables); err != nil {
		return fmt.Errorf("rebuild union view: %w", err)
	}
	return nil
}

// withConnector opens a fresh connector for op, always closing it and
// updating the shared health flag on the way out.
func (c *Controller) withConnector(ctx context.Context, op string, fn func(*warehouse.Connector) error) error {
	conn, err := c.connectorFactory(ctx)
	if err != nil {
		c.health.MarkUnhealthy()
		return fmt.Errorf("%s: open connector: %w", op, err)
	}
	defer conn.Close()

	start := time.Now()
	err = fn(conn)
	c.recordTiming(op, time.Since(start).Milliseconds())

	if err != nil {
		log.Printf("[maintenance] %s failed: %v", op, err)
		c.health.MarkUnhealthy()
		return err
	}
	c.health.MarkHealthy()
	return nil
}

func (c *Controller) timed(conn *warehouse.Connector, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.recordTiming(step, time.Since(start).Milliseconds())
	return err
}

func (c *Controller) recordTiming(name string, ms int64) {
	if c.sink == nil {
		return
	}
	c.sink.Record(name, "Milliseconds", float64(ms), nil)
}
