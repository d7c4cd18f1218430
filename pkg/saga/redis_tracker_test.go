package saga

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

func newRedisTracker(t *testing.T) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTracker(client, "test"), mr
}

func deadline(order string, due time.Time) Deadline {
	e := sampleEvent()
	e.OrderID, e.Payload.ID = order, order
	return Deadline{
		OrderID:       order,
		TransactionID: "tx-1",
		Topic:         events.TopicPaymentInput,
		Target:        events.SourcePayment,
		Event:         e,
		Due:           due,
	}
}

func TestRedisTracker_ExpiredInDueOrder(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newRedisTracker(t)
	base := time.UnixMilli(1_700_000_000_000).UTC()

	require.NoError(t, tracker.Track(ctx, deadline("late", base.Add(2*time.Second))))
	require.NoError(t, tracker.Track(ctx, deadline("early", base.Add(time.Second))))
	require.NoError(t, tracker.Track(ctx, deadline("future", base.Add(time.Hour))))

	got, err := tracker.Expired(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].OrderID)
	assert.Equal(t, "late", got[1].OrderID)
	assert.Equal(t, "early", got[0].Event.OrderID)
	assert.True(t, got[0].Due.Equal(base.Add(time.Second)))

	limited, err := tracker.Expired(ctx, base.Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "early", limited[0].OrderID)
}

func TestRedisTracker_TrackReplacesAndClearRemoves(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newRedisTracker(t)
	base := time.UnixMilli(1_700_000_000_000).UTC()

	d := deadline("order-1", base)
	require.NoError(t, tracker.Track(ctx, d))
	d.Attempts = 1
	d.Due = base.Add(time.Minute)
	require.NoError(t, tracker.Track(ctx, d))

	got, err := tracker.Expired(ctx, base.Add(time.Second), 0)
	require.NoError(t, err)
	assert.Empty(t, got, "re-track moves the due time")

	got, err = tracker.Expired(ctx, base.Add(2*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Attempts)

	require.NoError(t, tracker.Clear(ctx, d.Key()))
	assert.False(t, mr.Exists("test:deadline:order-1:tx-1"))
	got, err = tracker.Expired(ctx, base.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisTracker_DropsDanglingIndex(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newRedisTracker(t)
	base := time.UnixMilli(1_700_000_000_000).UTC()

	require.NoError(t, tracker.Track(ctx, deadline("order-1", base)))
	mr.Del("test:deadline:order-1:tx-1")

	got, err := tracker.Expired(ctx, base.Add(time.Second), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	members, err := mr.ZMembers("test:deadlines")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestRedisTracker_WithSweeper(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newRedisTracker(t)
	bus := events.NewMemoryBus()
	base := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, tracker.Track(ctx, deadline("order-1", base)))

	sweeper := NewSweeper(tracker, bus, events.TopicDeadLetter, DefaultSweeperConfig())
	sweeper.now = func() time.Time { return base.Add(time.Second) }
	res, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Redriven)
	assert.Len(t, bus.Published(events.TopicPaymentInput), 1)
}

func TestTrackers_AdvanceOnlyFromInFlightEnvelope(t *testing.T) {
	redisTracker, _ := newRedisTracker(t)
	trackers := map[string]DeadlineTracker{
		"memory": NewMemoryTracker(),
		"redis":  redisTracker,
	}
	for name, tracker := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.UnixMilli(1_700_000_000_000).UTC()
			d := deadline("order-1", base)
			key := d.Key()

			_, ok, err := tracker.Pending(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			swapped, err := tracker.Advance(ctx, key, d.Event.ID, nil)
			require.NoError(t, err)
			assert.False(t, swapped, "nothing tracked yet")

			require.NoError(t, tracker.Track(ctx, d))
			got, ok, err := tracker.Pending(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, d.Event.ID, got.Event.ID)

			next := d
			next.Event = d.Event.Next(events.SourceOrchestrator, events.StatusPending)
			next.Target = events.SourceInventory
			next.Due = base.Add(time.Minute)

			swapped, err = tracker.Advance(ctx, key, "some-other-envelope", &next)
			require.NoError(t, err)
			assert.False(t, swapped)

			swapped, err = tracker.Advance(ctx, key, d.Event.ID, &next)
			require.NoError(t, err)
			assert.True(t, swapped)
			got, _, err = tracker.Pending(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, events.SourceInventory, got.Target)
			assert.Equal(t, next.Event.ID, got.Event.ID)

			swapped, err = tracker.Advance(ctx, key, d.Event.ID, nil)
			require.NoError(t, err)
			assert.False(t, swapped, "old envelope no longer in flight")

			swapped, err = tracker.Advance(ctx, key, next.Event.ID, nil)
			require.NoError(t, err)
			assert.True(t, swapped)
			_, ok, err = tracker.Pending(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)
			left, err := tracker.Expired(ctx, base.Add(time.Hour), 0)
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}
