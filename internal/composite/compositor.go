// Package composite runs tile compositing jobs: it builds the tile grid,
// routes operations, blends every tile on a worker pool and reports completion.
package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
	"github.com/MeKo-Tech/tilecompose/internal/rawimage"
	"github.com/MeKo-Tech/tilecompose/internal/route"
	"github.com/MeKo-Tech/tilecompose/internal/types"
	"github.com/MeKo-Tech/tilecompose/internal/worker"
)

// DefaultTileSize is the default tile width and height in pixels.
const DefaultTileSize = 256

// ErrInvalidConfig is wrapped by every configuration error returned from New.
var ErrInvalidConfig = errors.New("invalid compose configuration")

// Config describes a compositing job.
type Config struct {
	Logger     *slog.Logger
	Width      int // Target width in pixels
	Height     int // Target height in pixels
	TileWidth  int
	TileHeight int
	// Workers is the worker pool size. Zero composites synchronously on the
	// calling goroutine.
	Workers int
	Routing route.Policy
}

// DefaultConfig returns a config with 256x256 tiles, eight workers and
// lenient routing for a width x height target.
func DefaultConfig(width, height int) Config {
	return Config{
		Width:      width,
		Height:     height,
		TileWidth:  DefaultTileSize,
		TileHeight: DefaultTileSize,
		Workers:    worker.DefaultWorkers,
		Routing:    route.Lenient,
	}
}

// Validate checks the config for values that would make tiling impossible.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: target size must be positive, got %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.TileWidth <= 0 || c.TileHeight <= 0 {
		return fmt.Errorf("%w: tile size must be positive, got %dx%d", ErrInvalidConfig, c.TileWidth, c.TileHeight)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

// Result describes a finished (or cancelled) job.
type Result struct {
	Tiles     []*grid.Tile
	Routing   route.Stats
	Completed int
	Elapsed   time.Duration
}

// Job is a single composition of ops over images from a store.
type Job struct {
	store  *rawimage.Store
	logger *slog.Logger
	ops    []types.ComposeOp
	cfg    Config
}

// New validates cfg and prepares a job. The store must not be modified while
// the job runs; Run seals it for that duration.
func New(cfg Config, store *rawimage.Store, ops []types.ComposeOp) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: image store is nil", ErrInvalidConfig)
	}

	return &Job{
		cfg:    cfg,
		store:  store,
		ops:    ops,
		logger: cfg.Logger,
	}, nil
}

// Run composites every tile and blocks until all submitted tiles are merged.
// onTile (may be nil) is called from a single goroutine as tiles finish, in
// no particular order, followed by one final call once every tile is done.
//
// The context is checked before each tile is submitted. On cancellation no
// further tiles are submitted, tiles already running finish, the final
// notification is not sent, and the error wraps ctx.Err().
//
// Routing errors (strict policy) are returned before any tile work starts.
func (j *Job) Run(ctx context.Context, onTile TileFunc) (*Result, error) {
	start := time.Now()

	release := j.store.Seal()
	defer release()

	tiles := grid.Build(j.cfg.Width, j.cfg.Height, j.cfg.TileWidth, j.cfg.TileHeight)

	stats, err := route.Route(tiles, j.ops, j.store, route.Options{
		Policy: j.cfg.Routing,
		Logger: j.log(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to route operations: %w", err)
	}

	j.log().Info("Compositing tiles",
		"width", j.cfg.Width,
		"height", j.cfg.Height,
		"tiles", len(tiles),
		"ops", stats.Ops,
		"pairs", stats.Pairs,
		"unresolved", stats.Unresolved,
		"dropped", stats.Dropped,
		"workers", j.cfg.Workers,
	)

	pool := worker.New(worker.Config{
		Workers:   j.cfg.Workers,
		QueueSize: queueSize(len(tiles), j.cfg.Workers),
	})
	defer pool.Close()

	coord := NewCoordinator(len(tiles), onTile)

	// Fan-in: every worker reports on one channel drained by one goroutine.
	finished := make(chan *grid.Tile, len(tiles))
	aggregated := make(chan struct{})
	go func() {
		defer close(aggregated)
		for tile := range finished {
			coord.Complete(tile)
		}
	}()

	var inflight sync.WaitGroup
	var runErr error

	for _, tile := range tiles {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		tile.Reset()
		inflight.Add(1)
		pool.Acquire().Submit(worker.Task{
			Store:  j.store,
			Ops:    tile.Ops,
			Pix:    tile.Pix,
			Width:  tile.Width(),
			Height: tile.Height(),
			Left:   tile.Left(),
			Top:    tile.Top(),
		}, func(r worker.Result) {
			defer inflight.Done()
			tile.Pix = r.Pix
			j.log().Debug("Tile merged",
				"tile", tile.Index,
				"ops", len(tile.Ops),
				"worker", r.Worker,
				"elapsed", r.Elapsed,
			)
			finished <- tile
		})
	}

	inflight.Wait()
	close(finished)
	<-aggregated

	result := &Result{
		Tiles:     tiles,
		Routing:   stats,
		Completed: coord.Completed(),
		Elapsed:   time.Since(start),
	}

	if runErr != nil {
		j.log().Warn("Compositing cancelled",
			"completed", result.Completed,
			"tiles", len(tiles),
			"error", runErr,
		)
		return result, fmt.Errorf("compositing cancelled after %d/%d tiles: %w", result.Completed, len(tiles), runErr)
	}

	j.log().Info("Compositing complete", "tiles", result.Completed, "elapsed", result.Elapsed)
	return result, nil
}

func (j *Job) log() *slog.Logger {
	if j.logger != nil {
		return j.logger
	}
	return slog.Default()
}

// queueSize returns a per-worker buffer large enough that submitting every
// tile never blocks.
func queueSize(tiles, workers int) int {
	if workers <= 0 {
		return 1
	}
	return tiles/workers + 1
}
