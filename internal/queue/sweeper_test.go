package queue

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperLock_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	a := NewSweeperLock(dir)
	b := NewSweeperLock(dir)

	gotA, err := a.TryLock()
	require.NoError(t, err)
	assert.True(t, gotA)

	gotB, err := b.TryLock()
	require.NoError(t, err)
	assert.False(t, gotB)

	require.NoError(t, a.Unlock())

	gotB2, err := b.TryLock()
	require.NoError(t, err)
	assert.True(t, gotB2)
	require.NoError(t, b.Unlock())
}

func TestSweeper_RecoversStaleItemsOnTick(t *testing.T) {
	store := newFakeStore()
	q := New(store, Config{BatchSize: 10, MaxAttempts: 3, VisibilityTimeout: 5 * time.Millisecond, InitialBackoff: time.Millisecond, MaxBackoff: time.Second})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "docs", "d1", "text", 0)
	require.NoError(t, err)
	_, err = q.Reserve(ctx)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	s := NewSweeper(q, t.TempDir(), 5*time.Millisecond, slog.Default())
	s.tick(ctx)

	counts, err := q.Status(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}

func TestSweeper_StartStopLifecycle(t *testing.T) {
	store := newFakeStore()
	q := New(store, DefaultConfig())
	s := NewSweeper(q, t.TempDir(), 5*time.Millisecond, slog.Default())

	s.Start(context.Background())
	time.Sleep(15 * time.Millisecond)
	s.Stop()
}
