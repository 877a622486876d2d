package composite

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
)

func TestCoordinator_FinalAfterEveryTile(t *testing.T) {
	var order []bool
	c := NewCoordinator(3, func(_ *grid.Tile, final bool) {
		order = append(order, final)
	})

	tile := &grid.Tile{}
	require.False(t, c.Complete(tile))
	require.False(t, c.Complete(tile))
	require.False(t, c.Done())
	require.True(t, c.Complete(tile))
	require.True(t, c.Done())

	require.Equal(t, []bool{false, false, false, true}, order)
	require.Equal(t, 3, c.Completed())
}

func TestCoordinator_ExtraCallsIgnored(t *testing.T) {
	calls := 0
	c := NewCoordinator(1, func(*grid.Tile, bool) { calls++ })

	require.True(t, c.Complete(&grid.Tile{}))
	require.False(t, c.Complete(&grid.Tile{}))
	require.Equal(t, 2, calls)
	require.Equal(t, 1, c.Completed())
}

func TestCoordinator_ConcurrentCompletion(t *testing.T) {
	const total = 200

	var finals, tiles atomic.Int32
	var lastTile atomic.Pointer[grid.Tile]
	c := NewCoordinator(total, func(tile *grid.Tile, final bool) {
		if final {
			finals.Add(1)
			lastTile.Store(tile)
			return
		}
		tiles.Add(1)
	})

	var wg sync.WaitGroup
	var fired atomic.Int32
	for i := range total {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
			if c.Complete(&grid.Tile{Index: i}) {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), finals.Load())
	require.Equal(t, int32(1), fired.Load())
	require.Equal(t, int32(total), tiles.Load())
	require.NotNil(t, lastTile.Load())
}

func TestCoordinator_NilCallback(t *testing.T) {
	c := NewCoordinator(2, nil)
	require.False(t, c.Complete(&grid.Tile{}))
	require.True(t, c.Complete(&grid.Tile{}))
}

func TestCoordinator_FinalIsLastUnderConcurrency(t *testing.T) {
	const total = 64

	for range 20 {
		// Notifications are serialized, so the slice needs no extra locking.
		var order []bool
		c := NewCoordinator(total, func(_ *grid.Tile, final bool) {
			if !final {
				time.Sleep(time.Duration(rand.IntN(50)) * time.Microsecond)
			}
			order = append(order, final)
		})

		var wg sync.WaitGroup
		for i := range total {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Complete(&grid.Tile{Index: i})
			}()
		}
		wg.Wait()

		require.Len(t, order, total+1)
		for i, final := range order[:total] {
			require.False(t, final, "notification %d was final", i)
		}
		require.True(t, order[total])
	}
}
