package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"sensor-gateway/internal/telemetry/application"
	telemetry "sensor-gateway/internal/telemetry/domain"
	telemetrypostgres "sensor-gateway/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestPostgresBulkIngest(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	table := fmt.Sprintf("telemetry_records_it_%d", time.Now().UnixNano())
	store, err := telemetrypostgres.NewRecordStore(db, telemetrypostgres.WithTable(table))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table))
	}()

	coordinator, err := application.NewCoordinator(store,
		application.WithBackendName("postgres"),
		application.WithConcurrency(8),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	readings := make([]json.RawMessage, 0, 100)
	for i := 0; i < 100; i++ {
		value := fmt.Sprintf("%d", i)
		if i%10 == 9 {
			value = `"bogus"`
		}
		readings = append(readings, json.RawMessage(fmt.Sprintf(
			`{"sensorType":"flow","value":%s,"timestamp":"2024-05-01T10:%02d:00Z","metadata":{"seq":%d}}`,
			value, i%60, i,
		)))
	}

	start := time.Now()
	outcome, err := coordinator.IngestBatch(ctx, "esp-it", readings, "plant-a")
	if err != nil {
		t.Fatalf("ingest batch: %v", err)
	}
	elapsed := time.Since(start)

	if outcome.Processed != 90 || outcome.Failed != 10 {
		t.Fatalf("expected 90/10, got %d/%d", outcome.Processed, outcome.Failed)
	}

	var count int
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT count(*)
FROM %q
WHERE device_id = $1 AND location = $2`, table), "esp-it", "plant-a").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 90 {
		t.Fatalf("expected 90 rows, got %d", count)
	}

	var unit string
	var meta []byte
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT unit, metadata
FROM %q
WHERE id = $1`, table), outcome.Results[0].DocumentID).Scan(&unit, &meta); err != nil {
		t.Fatalf("load row: %v", err)
	}
	if unit != telemetry.ResolveUnit(telemetry.SensorFlow) {
		t.Fatalf("unexpected unit %q", unit)
	}
	t.Logf("bulk insert rows=%d elapsed=%s metadata=%s", count, elapsed, meta)
}

func TestPostgresMissingTable(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store, err := telemetrypostgres.NewRecordStore(db, telemetrypostgres.WithTable("telemetry_records_missing"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	coordinator, err := application.NewCoordinator(store)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	_, err = coordinator.IngestOne(context.Background(), "esp-it", telemetry.Reading{
		SensorType: "ph",
		Value:      json.RawMessage(`7`),
	})
	if application.ErrorCode(err) != application.CodeBackendUnavailable {
		t.Fatalf("expected %s, got %v", application.CodeBackendUnavailable, err)
	}
}
