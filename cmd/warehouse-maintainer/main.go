// Command warehouse-maintainer exposes the cron-triggered warehouse
// lifecycle endpoints of spec.md §4.7/§6: table rollover, vacuum/analyze,
// and boot-time retention backfill. It owns no stream-processing shards —
// see cmd/ingest-worker for those.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ILLUVRSE/telemetry-ingest/internal/config"
	"github.com/ILLUVRSE/telemetry-ingest/internal/health"
	"github.com/ILLUVRSE/telemetry-ingest/internal/httpserver"
	"github.com/ILLUVRSE/telemetry-ingest/internal/maintenance"
	"github.com/ILLUVRSE/telemetry-ingest/internal/metrics"
	"github.com/ILLUVRSE/telemetry-ingest/internal/warehouse"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	projectName := envOrDefault("PROJECT_NAME", "telemetry-ingest")
	localMode := envOrDefault("LOCAL_MODE", "") == "true"
	resolver := config.New(projectName, localMode, true)

	region := mustString(resolver, "aws_region_name")
	clusterID := mustString(resolver, "redshift_cluster_id")
	dbUser := mustString(resolver, "redshift_db_user")
	dbName := mustString(resolver, "redshift_db_name")
	dsnBase := mustString(resolver, "redshift_dsn_base")
	viewName := resolver.StringDefault("common", "redshift_union_view_name", "all_events")
	retentionMonths := mustInt(resolver, "warm_data_lifetime_months", 6)
	bearerSecret := resolver.StringDefault("common", "maintenance_bearer_secret", "")

	templates := warehouse.Templates{
		EventsTablePrefix:   resolver.StringDefault("common", "redshift_events_table_prefix", "events"),
		LoadStagingTable:    resolver.StringDefault("common", "redshift_load_staging_table", "load_staging"),
		DedupeStagingPrefix: resolver.StringDefault("common", "redshift_dedupe_staging_prefix", "dedupe"),
		RedshiftSchema:      resolver.StringDefault("common", "redshift_schema", "analytics"),
	}

	h := health.New()
	sink := metrics.New(metrics.Config{Async: true}, metrics.NopBackend{})

	connectorFactory := func(ctx context.Context) (*warehouse.Connector, error) {
		creds, err := warehouse.NewRedshiftCredentialSource(ctx, region, clusterID, dbUser, dbName)
		if err != nil {
			return nil, fmt.Errorf("build credential source: %w", err)
		}
		conn := warehouse.New(dsnBase, creds, templates)
		if err := conn.Open(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}

	ctrl := maintenance.New(connectorFactory, viewName, retentionMonths, h, sink, nil)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := ctrl.BootInitialize(bootCtx); err != nil {
		log.Printf("[warehouse-maintainer] boot initialize failed, continuing degraded: %v", err)
	}
	bootCancel()

	app := &httpserver.App{Maintenance: ctrl, Health: h, BearerSecret: bearerSecret}
	listenAddr := resolver.StringDefault("common", "listen_addr", ":8081")
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      httpserver.NewRouter(app),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	go func() {
		log.Printf("starting warehouse-maintainer on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down warehouse-maintainer...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	sink.Shutdown(context.Background())
	log.Println("warehouse-maintainer stopped")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustString(r *config.Resolver, key string) string {
	v, err := r.RequireString("common", key)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return v
}

func mustInt(r *config.Resolver, key string, def int) int {
	v, err := r.Int("common", key, def, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return v
}
