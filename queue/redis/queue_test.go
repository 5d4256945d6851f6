package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *InFlightTracker {
	t.Helper()
	mr := miniredis.RunT(t)
	tracker, err := NewInFlightTracker(context.Background(), Config{RedisURL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestNewInFlightTracker_InvalidURL(t *testing.T) {
	_, err := NewInFlightTracker(context.Background(), Config{RedisURL: "not-a-url"})
	assert.Error(t, err)
}

func TestInFlightTracker_MarkProcessingAndCount(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkProcessing(ctx, "extract", "msg-1", time.Now().Add(time.Minute)))
	require.NoError(t, tracker.MarkProcessing(ctx, "extract", "msg-2", time.Now().Add(time.Minute)))

	count, err := tracker.Count(ctx, "extract")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	other, err := tracker.Count(ctx, "load")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other, "queues are tracked independently")
}

func TestInFlightTracker_Release(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkProcessing(ctx, "transform", "msg-1", time.Now().Add(time.Minute)))
	require.NoError(t, tracker.Release(ctx, "transform", "msg-1"))

	count, err := tracker.Count(ctx, "transform")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestInFlightTracker_Expired(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	require.NoError(t, tracker.MarkProcessing(ctx, "load", "stuck", past))
	require.NoError(t, tracker.MarkProcessing(ctx, "load", "fresh", future))

	expired, err := tracker.Expired(ctx, "load", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck"}, expired)
}
