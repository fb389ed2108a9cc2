package capacity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/db"
	"venuebook/internal/model"
)

var (
	testNow  = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	slotTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
)

func newTracker(t *testing.T) (*Tracker, *db.DB) {
	t.Helper()
	logger := zerolog.Nop()
	database, err := db.Open(filepath.Join(t.TempDir(), "capacity.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	tr := NewTracker(database, &logger)
	tr.SetNow(func() time.Time { return testNow })
	return tr, database
}

func location(id int64) *int64 { return &id }

func TestFindOrCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)

	first, err := tr.FindOrCreate(ctx, 1, location(2), slotTime, 3)
	require.NoError(t, err)
	second, err := tr.FindOrCreate(ctx, 1, location(2), slotTime, 9)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, second.MaxCapacity, "existing slot keeps its capacity")

	other, err := tr.FindOrCreate(ctx, 1, nil, slotTime, 3)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "nil location is its own key")
}

func TestFindOrCreate_ClampsDefaultCapacity(t *testing.T) {
	tr, _ := newTracker(t)
	slot, err := tr.FindOrCreate(context.Background(), 1, nil, slotTime, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, slot.MaxCapacity)
}

func TestFind_DoesNotCreate(t *testing.T) {
	tr, _ := newTracker(t)
	_, err := tr.Find(context.Background(), 1, nil, slotTime)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestReserve_FullSlotRejected(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)

	slot, err := tr.FindOrCreate(ctx, 1, location(1), slotTime, 3)
	require.NoError(t, err)
	slot.CurrentBookings = 3
	require.NoError(t, tr.Save(ctx, slot))

	assert.False(t, slot.IsAvailable(1, testNow))
	ok, err := tr.Reserve(ctx, slot, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, slot.CurrentBookings)
	assert.Equal(t, model.SlotFull, slot.Status())
}

func TestReserveRelease_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)

	slot, err := tr.FindOrCreate(ctx, 1, location(1), slotTime, 5)
	require.NoError(t, err)

	for _, count := range []int{1, 2, 5} {
		before := slot.CurrentBookings
		ok, err := tr.Reserve(ctx, slot, count)
		require.NoError(t, err)
		require.True(t, ok, "reserve %d", count)
		assert.Equal(t, before+count, slot.CurrentBookings)

		ok, err = tr.Release(ctx, slot, count)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, before, slot.CurrentBookings)
	}
}

func TestReserve_Guards(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(*Tracker, *model.CapacitySlot)
		count   int
	}{
		{
			name:  "more than available",
			count: 3,
		},
		{
			name: "blocked slot",
			prepare: func(tr *Tracker, s *model.CapacitySlot) {
				require.NoError(t, tr.SetBlocked(ctx, s, true, "private hire"))
			},
			count: 1,
		},
		{
			name: "slot already started",
			prepare: func(tr *Tracker, _ *model.CapacitySlot) {
				tr.SetNow(func() time.Time { return slotTime })
			},
			count: 1,
		},
		{
			name: "units withheld",
			prepare: func(tr *Tracker, s *model.CapacitySlot) {
				ok, err := tr.Block(ctx, s, 2, "staff shortage")
				require.NoError(t, err)
				require.True(t, ok)
			},
			count: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTracker(t)
			slot, err := tr.FindOrCreate(ctx, 1, location(1), slotTime, 2)
			require.NoError(t, err)
			if tt.prepare != nil {
				tt.prepare(tr, slot)
			}

			ok, err := tr.Reserve(ctx, slot, tt.count)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, 0, slot.CurrentBookings)
		})
	}
}

func TestReserve_InvalidCount(t *testing.T) {
	tr, _ := newTracker(t)
	slot, err := tr.FindOrCreate(context.Background(), 1, nil, slotTime, 2)
	require.NoError(t, err)

	_, err = tr.Reserve(context.Background(), slot, 0)
	var ve *model.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestRelease_MoreThanBooked(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	slot, err := tr.FindOrCreate(ctx, 1, nil, slotTime, 2)
	require.NoError(t, err)

	ok, err := tr.Reserve(ctx, slot, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tr.Release(ctx, slot, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, slot.CurrentBookings)
}

func TestBlockUnblock(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	slot, err := tr.FindOrCreate(ctx, 1, nil, slotTime, 4)
	require.NoError(t, err)

	ok, err := tr.Block(ctx, slot, 3, "maintenance crew")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, slot.AvailableSlots())
	assert.Equal(t, "maintenance crew", slot.BlockReason)
	assert.Equal(t, model.SlotPartial, slot.Status())

	ok, err = tr.Block(ctx, slot, 2, "more")
	require.NoError(t, err)
	assert.False(t, ok, "cannot withhold more than is free")

	ok, err = tr.Unblock(ctx, slot, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.Unblock(ctx, slot, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, slot.BlockedSlots)
	assert.Empty(t, slot.BlockReason)
	assert.Equal(t, model.SlotAvailable, slot.Status())
}

func TestSave_RepairsCounters(t *testing.T) {
	ctx := context.Background()
	tr, database := newTracker(t)
	slot, err := tr.FindOrCreate(ctx, 1, nil, slotTime, 2)
	require.NoError(t, err)

	slot.CurrentBookings = -2
	slot.BlockedSlots = -1
	slot.MaxCapacity = 0
	require.NoError(t, tr.Save(ctx, slot))

	stored, err := database.GetCapacitySlotByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentBookings)
	assert.Equal(t, 0, stored.BlockedSlots)
	assert.Equal(t, 1, stored.MaxCapacity)
}

func TestReserve_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)

	_, err := tr.FindOrCreate(ctx, 1, location(1), slotTime, 1)
	require.NoError(t, err)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			own, err := tr.Find(ctx, 1, location(1), slotTime)
			if !assert.NoError(t, err) {
				return
			}
			<-start
			ok, err := tr.Reserve(ctx, own, 1)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
	final, err := tr.Find(ctx, 1, location(1), slotTime)
	require.NoError(t, err)
	assert.Equal(t, 1, final.CurrentBookings)
}

func TestPurgeStale(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)

	old := testNow.AddDate(0, 0, -40)
	unused, err := tr.FindOrCreate(ctx, 1, nil, old, 2)
	require.NoError(t, err)
	used, err := tr.FindOrCreate(ctx, 1, nil, old.Add(time.Hour), 2)
	require.NoError(t, err)
	used.CurrentBookings = 1
	require.NoError(t, tr.Save(ctx, used))
	recent, err := tr.FindOrCreate(ctx, 1, nil, testNow.AddDate(0, 0, -5), 2)
	require.NoError(t, err)

	n, err := tr.PurgeStale(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = tr.Find(ctx, 1, nil, unused.SlotDatetime)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = tr.Find(ctx, 1, nil, used.SlotDatetime)
	assert.NoError(t, err)
	_, err = tr.Find(ctx, 1, nil, recent.SlotDatetime)
	assert.NoError(t, err)
}
