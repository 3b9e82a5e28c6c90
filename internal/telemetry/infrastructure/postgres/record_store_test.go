package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	telemetry "sensor-gateway/internal/telemetry/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"28P01", telemetry.ErrStoreUnauthorized},
		{"28000", telemetry.ErrStoreUnauthorized},
		{"42501", telemetry.ErrStoreUnauthorized},
		{"42P01", telemetry.ErrStoreNotFound},
		{"3D000", telemetry.ErrStoreNotFound},
	}
	for _, tc := range cases {
		err := classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code}))
		require.ErrorIs(t, err, tc.want, tc.code)
	}

	err := classify(&pgconn.PgError{Code: "23505"})
	require.False(t, errors.Is(err, telemetry.ErrStoreUnauthorized))
	require.False(t, errors.Is(err, telemetry.ErrStoreNotFound))

	err = classify(errors.New("connection reset"))
	require.ErrorContains(t, err, "connection reset")
}

func TestQuotedTable(t *testing.T) {
	store := &RecordStore{table: "ingest.readings"}
	require.Equal(t, `"ingest"."readings"`, store.quotedTable())

	store = &RecordStore{table: `bad"name`}
	require.Equal(t, `"bad""name"`, store.quotedTable())
}

func TestNewRecordStoreRequiresDB(t *testing.T) {
	_, err := NewRecordStore(nil)
	require.Error(t, err)
}
