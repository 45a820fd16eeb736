package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bf1942ingest/scoutd/internal/model"
	"github.com/stretchr/testify/require"
)

func TestPopDueReturnsImmediatelyWhenAlreadyDue(t *testing.T) {
	q := NewQueue()
	addr := model.Address{IP: "1.2.3.4", Port: 14567}
	q.Push(addr, time.Now().Add(-time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, ok := q.PopDue(ctx)
	require.True(t, ok)
	require.Equal(t, addr, got)
	require.Equal(t, 0, q.Len())
}

func TestPopDueWaitsForFutureEntry(t *testing.T) {
	q := NewQueue()
	addr := model.Address{IP: "1.2.3.4", Port: 14567}
	due := time.Now().Add(80 * time.Millisecond)
	q.Push(addr, due)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	got, ok := q.PopDue(ctx)
	elapsed := time.Since(start)

	require.True(t, ok)
	require.Equal(t, addr, got)
	require.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestPopDuePicksEarliestEntry(t *testing.T) {
	q := NewQueue()
	later := model.Address{IP: "2.2.2.2", Port: 1}
	earlier := model.Address{IP: "1.1.1.1", Port: 1}
	now := time.Now()
	q.Push(later, now.Add(200*time.Millisecond))
	q.Push(earlier, now.Add(-time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, ok := q.PopDue(ctx)
	require.True(t, ok)
	require.Equal(t, earlier, got)
}

func TestPopDueUnblocksOnContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_, ok := q.PopDue(ctx)
		require.False(t, ok)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PopDue did not unblock on cancellation")
	}
}

func TestPopDueWakesOnEarlierPushAfterWaiting(t *testing.T) {
	q := NewQueue()
	far := model.Address{IP: "9.9.9.9", Port: 1}
	near := model.Address{IP: "1.1.1.1", Port: 1}
	q.Push(far, time.Now().Add(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := make(chan model.Address, 1)
	go func() {
		got, ok := q.PopDue(ctx)
		if ok {
			result <- got
		}
	}()

	time.Sleep(30 * time.Millisecond)
	q.Push(near, time.Now().Add(-time.Millisecond))

	select {
	case got := <-result:
		require.Equal(t, near, got)
	case <-time.After(time.Second):
		t.Fatal("PopDue did not wake for the newly-due earlier entry")
	}
}
