package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	telemetry "sensor-gateway/internal/telemetry/domain"
)

const defaultRecordTable = "telemetry_records"

// RecordStore writes telemetry records as rows of one table.
type RecordStore struct {
	db    *sql.DB
	table string
}

// StoreOption configures the store.
type StoreOption func(*RecordStore)

// WithTable overrides the default table name.
func WithTable(table string) StoreOption {
	return func(s *RecordStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewRecordStore constructs a store with the default table name.
func NewRecordStore(db *sql.DB, opts ...StoreOption) (*RecordStore, error) {
	if db == nil {
		return nil, errors.New("telemetry store: nil db")
	}
	store := &RecordStore{db: db, table: defaultRecordTable}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *RecordStore) quotedTable() string {
	return pgx.Identifier(strings.Split(s.table, ".")).Sanitize()
}

// EnsureSchema creates the record table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	device_id TEXT NOT NULL,
	sensor_type TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	unit TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	location TEXT NOT NULL,
	is_anomalous BOOLEAN NOT NULL DEFAULT FALSE,
	ingested_at TIMESTAMPTZ NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
)`, s.quotedTable())
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return classify(err)
	}
	return nil
}

// CreateRecord inserts one record and returns its generated id.
func (s *RecordStore) CreateRecord(ctx context.Context, record telemetry.Record) (string, error) {
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("telemetry store: encode metadata: %w", err)
	}

	id := uuid.NewString()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_id,
	sensor_type,
	value,
	unit,
	ts,
	location,
	is_anomalous,
	ingested_at,
	metadata
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)`, s.quotedTable())

	if _, err := s.db.ExecContext(
		ctx,
		query,
		id,
		record.DeviceID,
		string(record.SensorType),
		record.Value,
		record.Unit,
		record.Timestamp.UTC(),
		record.Location,
		record.IsAnomalous,
		record.IngestedAt.UTC(),
		metadataJSON,
	); err != nil {
		return "", classify(err)
	}
	return id, nil
}

// classify maps Postgres error codes onto the store sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("telemetry store: %w", err)
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "28"), pgErr.Code == "42501":
		return fmt.Errorf("%w: %s", telemetry.ErrStoreUnauthorized, pgErr.Code)
	case pgErr.Code == "42P01", pgErr.Code == "3D000":
		return fmt.Errorf("%w: %s", telemetry.ErrStoreNotFound, pgErr.Code)
	default:
		return fmt.Errorf("telemetry store: %w", err)
	}
}
