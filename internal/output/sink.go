// Package output persists composited tiles: one PNG per tile, a single stitched
// mosaic, or an MBTiles database.
package output

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
)

// Sink receives finished tiles.
type Sink interface {
	// WriteTile persists one tile. The tile buffer must not be retained.
	WriteTile(tile *grid.Tile) error
	// Finish is called once after every tile has been written.
	Finish() error
	Close() error
}

// Recorder adapts a Sink to the compositor's tile notifications. Write
// failures are logged and counted, never fatal to the job.
type Recorder struct {
	sink      Sink
	logger    *slog.Logger
	progress  ProgressFunc
	finishErr error
	total     int
	written   int
	failed    int
	done      int
	finished  bool
	mu        sync.Mutex
}

// NewRecorder creates a recorder for a job of total tiles. progress may be nil.
func NewRecorder(sink Sink, total int, logger *slog.Logger, progress ProgressFunc) *Recorder {
	return &Recorder{
		sink:     sink,
		total:    total,
		logger:   logger,
		progress: progress,
	}
}

// OnTile matches composite.TileFunc.
func (r *Recorder) OnTile(tile *grid.Tile, final bool) {
	if final {
		r.finish()
		return
	}

	err := r.sink.WriteTile(tile)

	r.mu.Lock()
	r.done++
	if err != nil {
		r.failed++
	} else {
		r.written++
	}
	done, failed := r.done, r.failed
	r.mu.Unlock()

	if err != nil {
		r.log().Warn("Failed to write tile", "tile", tile.String(), "error", err)
	}
	if r.progress != nil {
		r.progress(done, r.total, failed)
	}
}

func (r *Recorder) finish() {
	err := r.sink.Finish()

	r.mu.Lock()
	r.finished = true
	r.finishErr = err
	r.mu.Unlock()

	if err != nil {
		r.log().Error("Failed to finish output", "error", err)
	}
}

// Written returns the number of tiles persisted successfully.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Failed returns the number of tiles that could not be written.
func (r *Recorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Err returns the Finish error, or an error if the job never finished.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		return errors.New("output was not finished")
	}
	return r.finishErr
}

func (r *Recorder) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

func isEmpty(pix []byte) bool {
	for _, b := range pix {
		if b != 0 {
			return false
		}
	}
	return true
}
