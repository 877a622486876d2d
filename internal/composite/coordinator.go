package composite

import (
	"sync"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
)

// TileFunc receives finished tiles. It is called once per tile with
// final=false, then once more with final=true for the tile that completed the job.
type TileFunc func(tile *grid.Tile, final bool)

// Coordinator counts finished tiles and fires the final notification exactly once.
// Complete may be called from several goroutines: notifications are serialized,
// and the final one always follows every per-tile notification.
type Coordinator struct {
	onTile    TileFunc
	mu        sync.Mutex
	completed int
	total     int
	fired     bool
}

// NewCoordinator creates a coordinator for total tiles. onTile may be nil.
func NewCoordinator(total int, onTile TileFunc) *Coordinator {
	return &Coordinator{total: total, onTile: onTile}
}

// Complete records a merged tile and notifies the callback. It returns true
// for the call that fired the final notification. Calls beyond total are ignored.
func (c *Coordinator) Complete(tile *grid.Tile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed >= c.total {
		return false
	}
	c.completed++
	c.notify(tile, false)

	if c.completed < c.total || c.fired {
		return false
	}
	c.fired = true
	c.notify(tile, true)
	return true
}

// Completed returns the number of tiles recorded so far.
func (c *Coordinator) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Done reports whether every tile has completed.
func (c *Coordinator) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed >= c.total
}

func (c *Coordinator) notify(tile *grid.Tile, final bool) {
	if c.onTile != nil {
		c.onTile(tile, final)
	}
}
