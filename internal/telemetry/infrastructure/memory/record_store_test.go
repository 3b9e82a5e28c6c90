package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	telemetry "sensor-gateway/internal/telemetry/domain"
)

func TestRecordStore(t *testing.T) {
	store := NewRecordStore()
	id, err := store.CreateRecord(context.Background(), telemetry.Record{DeviceID: "esp-1", Value: 3})
	require.NoError(t, err)

	got, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, 3.0, got.Value)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.CreateRecord(context.Background(), telemetry.Record{DeviceID: "esp-1"})
		}()
	}
	wg.Wait()
	require.Equal(t, 21, store.Len())
	require.Len(t, store.All(), 21)
}

func TestRecordStoreCancelled(t *testing.T) {
	store := NewRecordStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.CreateRecord(ctx, telemetry.Record{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, store.Len())
}
