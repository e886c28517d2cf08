// Command ingest-worker runs the per-shard telemetry ingestion pipeline:
// it reads each configured shard of the input stream, decodes and
// buffers records, and flushes them through the archival and
// pointer-publishing emitters, with decode failures and sanitized events
// archived to the error bucket, per spec.md's REDESIGN of the whole core
// pipeline. The manifest emitter (warehouse load) is not wired into this
// binary.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ILLUVRSE/telemetry-ingest/internal/buffer"
	"github.com/ILLUVRSE/telemetry-ingest/internal/codec"
	"github.com/ILLUVRSE/telemetry-ingest/internal/config"
	"github.com/ILLUVRSE/telemetry-ingest/internal/emit"
	"github.com/ILLUVRSE/telemetry-ingest/internal/health"
	"github.com/ILLUVRSE/telemetry-ingest/internal/httpserver"
	"github.com/ILLUVRSE/telemetry-ingest/internal/metrics"
	"github.com/ILLUVRSE/telemetry-ingest/internal/processor"
	"github.com/ILLUVRSE/telemetry-ingest/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	projectName := envOrDefault("PROJECT_NAME", "telemetry-ingest")
	localMode := envOrDefault("LOCAL_MODE", "") == "true"
	resolver := config.New(projectName, localMode, true)

	region := mustString(resolver, "aws_region_name")
	telemetryBucket := mustString(resolver, "s3_telemetry_bucket")
	errorBucket := mustString(resolver, "s3_error_bucket")
	eventPathPrefix := resolver.StringDefault("common", "s3_event_path_prefix", "events")
	manifestPathPrefix := resolver.StringDefault("common", "s3_manifest_path_prefix", "manifests")
	inputStream := mustString(resolver, "kinesis_input_stream")
	fileStream := mustString(resolver, "kinesis_file_stream")
	maxRecordsPerGet := mustInt(resolver, "kinesis_max_records_per_get", 500)
	initialPosition := stream.ParseInitialPosition(resolver.StringDefault("common", "kinesis_initial_stream_position", "TRIM_HORIZON"))
	checkpointTable := mustString(resolver, "checkpoint_table")

	bufferLimits := buffer.Limits{
		ByteLimit:   mustLong(resolver, "buffer_byte_size_limit", 5*1024*1024),
		RecordLimit: mustInt(resolver, "buffer_record_count_limit", 500),
		AgeLimit:    time.Duration(mustLong(resolver, "buffer_milliseconds_limit", 60000)) * time.Millisecond,
	}
	emitRetryLimit := mustInt(resolver, "emit_retry_limit", 5)
	checkpointRetryLimit := mustInt(resolver, "checkpoint_retry_limit", 5)
	emitShardLevelMetrics := mustBool(resolver, "emit_shard_level_metrics", false)
	copyMandatory := mustBool(resolver, "copy_mandatory", true)
	retentionMonths := mustInt(resolver, "warm_data_lifetime_months", 6)

	shardIDs := splitNonEmpty(mustString(resolver, "shard_ids"))

	h := health.New()
	sink := metrics.New(metrics.Config{Async: true}, metrics.NopBackend{})

	kafkaBrokers := splitNonEmpty(mustString(resolver, "kafka_brokers"))
	producer, err := stream.NewKafkaProducer(stream.KafkaProducerConfig{
		Brokers:     kafkaBrokers,
		Topic:       fileStream,
		MaxAttempts: 3,
	})
	if err != nil {
		log.Fatalf("failed to initialize pointer-event producer: %v", err)
	}

	store, err := emit.NewS3Store(context.Background(), region)
	if err != nil {
		log.Fatalf("failed to initialize object store: %v", err)
	}

	checkpointer, err := stream.NewDynamoCheckpointer(context.Background(), region, checkpointTable)
	if err != nil {
		log.Fatalf("failed to initialize checkpointer: %v", err)
	}

	cdc := codec.New(codec.DefaultLimits())

	registry := processor.DefaultRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, shardID := range shardIDs {
		shardID := shardID
		wg.Add(1)
		go func() {
			defer wg.Done()
			runShard(ctx, shardRunConfig{
				shardID:               shardID,
				region:                region,
				inputStream:           inputStream,
				initialPosition:       initialPosition,
				maxRecordsPerGet:      maxRecordsPerGet,
				codec:                 cdc,
				bufferLimits:          bufferLimits,
				store:                 store,
				producer:              producer,
				telemetryBucket:       telemetryBucket,
				errorBucket:           errorBucket,
				eventPathPrefix:       eventPathPrefix,
				manifestPathPrefix:    manifestPathPrefix,
				copyMandatory:         copyMandatory,
				retentionMonths:       retentionMonths,
				emitRetryLimit:        emitRetryLimit,
				checkpointRetryLimit:  checkpointRetryLimit,
				emitShardLevelMetrics: emitShardLevelMetrics,
				health:                h,
				sink:                  sink,
				checkpointer:          checkpointer,
				registry:              registry,
			})
		}()
	}

	// The worker process exposes only /health; the warehouse-maintainer
	// binary owns the cron-triggered RollTimeSeries/VacuumAndAnalyze
	// endpoints (cmd/warehouse-maintainer/main.go).
	app := &httpserver.App{Health: h}
	listenAddr := resolver.StringDefault("common", "listen_addr", ":8080")
	mux := http.NewServeMux()
	mux.HandleFunc("/health", app.HandleHealth)
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Printf("starting ingest-worker health surface on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down ingest-worker...")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = producer.Close()
	sink.Shutdown(context.Background())
	log.Println("ingest-worker stopped")
}

type shardRunConfig struct {
	shardID               string
	region                string
	inputStream           string
	initialPosition       stream.InitialPosition
	maxRecordsPerGet      int
	codec                 *codec.Codec
	bufferLimits          buffer.Limits
	store                 emit.ObjectStore
	producer              stream.Producer
	telemetryBucket       string
	errorBucket           string
	eventPathPrefix       string
	manifestPathPrefix    string
	copyMandatory         bool
	retentionMonths       int
	emitRetryLimit        int
	checkpointRetryLimit  int
	emitShardLevelMetrics bool
	health                *health.Flag
	sink                  *metrics.Sink
	checkpointer          stream.Checkpointer
	registry              *processor.Registry
}

// runShard drives one shard's pipeline until ctx is cancelled, per
// spec.md §5's "one processor thread per shard" scheduling model.
func runShard(ctx context.Context, cfg shardRunConfig) {
	reader, err := stream.NewKinesisShardReader(ctx, cfg.region, cfg.inputStream, cfg.shardID, cfg.initialPosition, "")
	if err != nil {
		log.Printf("[ingest-worker] shard %s: failed to open reader: %v", cfg.shardID, err)
		cfg.health.MarkUnhealthy()
		return
	}
	defer reader.Close()

	archival := emit.NewArchivalEmitter(cfg.store, cfg.telemetryBucket, cfg.eventPathPrefix, true, cfg.sink)
	pointerEmitter := emit.NewPointerPublishingEmitter(archival, cfg.producer)
	errorArchival := emit.NewArchivalEmitter(cfg.store, cfg.errorBucket, cfg.eventPathPrefix, true, cfg.sink)

	compound := processor.NewCompound()
	if p, ok := cfg.registry.Build("record", processor.Config{
		Codec:                 cfg.codec,
		BufferLimits:          cfg.bufferLimits,
		Emitter:               pointerEmitter,
		Health:                cfg.health,
		MetricSink:            cfg.sink,
		EmitRetryLimit:        cfg.emitRetryLimit,
		CheckpointRetryLimit:  cfg.checkpointRetryLimit,
		EmitShardLevelMetrics: cfg.emitShardLevelMetrics,
	}); ok {
		compound.Add(p)
	}
	if p, ok := cfg.registry.Build("error-handler", processor.Config{
		Codec:                cfg.codec,
		BufferLimits:         cfg.bufferLimits,
		Emitter:              errorArchival,
		Health:               cfg.health,
		MetricSink:           cfg.sink,
		EmitRetryLimit:       cfg.emitRetryLimit,
		CheckpointRetryLimit: cfg.checkpointRetryLimit,
	}); ok {
		compound.Add(p)
	}
	compound.Initialize(cfg.shardID, "")

	for {
		select {
		case <-ctx.Done():
			compound.Shutdown(context.Background(), processor.Terminate, cfg.checkpointer)
			return
		default:
		}

		records, msBehind, err := reader.GetRecords(ctx, cfg.maxRecordsPerGet)
		if err != nil {
			log.Printf("[ingest-worker] shard %s: get records: %v", cfg.shardID, err)
			time.Sleep(time.Second)
			continue
		}
		if len(records) == 0 {
			time.Sleep(time.Second)
			continue
		}
		if err := compound.ProcessBatch(ctx, records, msBehind, cfg.checkpointer); err != nil {
			log.Printf("[ingest-worker] shard %s: process batch: %v", cfg.shardID, err)
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// mustString, mustInt, mustLong and mustBool resolve a "common"-scoped
// config key per spec.md §6's "initialization failures ... are fatal
// startup errors": mustString treats absence as fatal; mustInt, mustLong
// and mustBool return def when the key is absent and treat an unparsable
// value as fatal.
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

func mustLong(r *config.Resolver, key string, def int64) int64 {
	v, err := r.Long("common", key, def, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return v
}

func mustBool(r *config.Resolver, key string, def bool) bool {
	v, err := r.Bool("common", key, def, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return v
}
