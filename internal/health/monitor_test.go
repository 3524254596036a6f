package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

type proberFunc func(ctx context.Context, merchantID string) (*models.Catalog, error)

func (f proberFunc) ReadCatalog(ctx context.Context, merchantID string) (*models.Catalog, error) {
	return f(ctx, merchantID)
}

func hang(ctx context.Context, _ string) (*models.Catalog, error) {
	<-ctx.Done()
	return nil, errcode.New(errcode.Network, 0, ctx.Err())
}

func settled(m *Monitor) func() bool {
	return func() bool {
		s := m.Snapshot().Status
		return s == StatusOK || s == StatusError
	}
}

func TestMonitor_StartsIdle(t *testing.T) {
	m := NewMonitor(proberFunc(hang), "m")
	assert.Equal(t, StatusIdle, m.Snapshot().Status)
	assert.True(t, m.Snapshot().LastChecked.IsZero())
}

func TestMonitor_OK(t *testing.T) {
	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(proberFunc(func(ctx context.Context, _ string) (*models.Catalog, error) {
		return &models.Catalog{}, nil
	}), "m", WithClock(func() time.Time { return fixed }))

	m.Trigger()
	require.Eventually(t, settled(m), time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StatusOK, snap.Status)
	assert.Empty(t, snap.Code)
	assert.Equal(t, fixed, snap.LastChecked)
}

func TestMonitor_TimeoutIsNetworkError(t *testing.T) {
	m := NewMonitor(proberFunc(hang), "m", WithTimeout(30*time.Millisecond))

	m.Trigger()
	assert.Equal(t, StatusChecking, m.Snapshot().Status)

	require.Eventually(t, settled(m), time.Second, 5*time.Millisecond)
	snap := m.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, errcode.Network, snap.Code)
	assert.False(t, snap.LastChecked.IsZero())
}

func TestMonitor_RemoteCode(t *testing.T) {
	m := NewMonitor(proberFunc(func(ctx context.Context, _ string) (*models.Catalog, error) {
		return nil, errcode.New(errcode.Unauthorised, 401, nil)
	}), "m")

	m.Trigger()
	require.Eventually(t, settled(m), time.Second, 5*time.Millisecond)
	assert.Equal(t, errcode.Unauthorised, m.Snapshot().Code)
}

func TestMonitor_TriggerSupersedes(t *testing.T) {
	var calls atomic.Int32
	var cancelled atomic.Int32
	first := make(chan struct{})

	m := NewMonitor(proberFunc(func(ctx context.Context, _ string) (*models.Catalog, error) {
		if calls.Add(1) == 1 {
			close(first)
			<-ctx.Done()
			cancelled.Add(1)
			return nil, ctx.Err()
		}
		return &models.Catalog{}, nil
	}), "m", WithTimeout(time.Minute))

	m.Trigger()
	<-first
	m.Trigger()

	require.Eventually(t, settled(m), time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return cancelled.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the superseded probe never overwrites the newer outcome
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusOK, m.Snapshot().Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMonitor_NotifiesListeners(t *testing.T) {
	m := NewMonitor(proberFunc(func(ctx context.Context, _ string) (*models.Catalog, error) {
		return &models.Catalog{}, nil
	}), "m")

	seen := make(chan Status, 4)
	m.Subscribe(func(s Snapshot) { seen <- s.Status })
	m.Trigger()

	got := map[Status]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-seen:
			got[s] = true
		case <-time.After(time.Second):
			t.Fatal("listener not notified")
		}
	}
	assert.True(t, got[StatusChecking])
	assert.True(t, got[StatusOK])
}

func TestMonitor_StopIgnoresTriggers(t *testing.T) {
	m := NewMonitor(proberFunc(hang), "m")
	m.Stop()
	m.Trigger()
	assert.Equal(t, StatusIdle, m.Snapshot().Status)
}
