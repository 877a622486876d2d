// Package route assigns compose operations to every tile they may affect.
package route

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
	"github.com/MeKo-Tech/tilecompose/internal/rawimage"
	"github.com/MeKo-Tech/tilecompose/internal/types"
)

// Policy decides what happens to operations that overlap no tile.
type Policy int

const (
	// Lenient drops unrouted operations and counts them in Stats.Dropped.
	Lenient Policy = iota
	// Strict fails routing with a *MissedError when any operation is unrouted.
	Strict
)

// ErrMissedOps matches any *MissedError via errors.Is.
var ErrMissedOps = errors.New("operations missed every tile")

// MissedError reports operations that overlapped no tile under the Strict policy.
type MissedError struct {
	Ops []types.ComposeOp
}

func (e *MissedError) Error() string {
	return fmt.Sprintf("%d operations missed every tile (first: %s)", len(e.Ops), e.Ops[0])
}

func (e *MissedError) Is(target error) bool {
	return target == ErrMissedOps
}

// String returns the policy name as used in configuration
func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	default:
		return "lenient"
	}
}

// ParsePolicy parses "strict" or "lenient" (case-insensitive). Empty means lenient.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, fmt.Errorf("invalid routing policy %q: must be 'lenient' or 'strict'", s)
	}
}

// Stats summarizes a routing pass.
type Stats struct {
	Ops        int // Operations submitted
	Pairs      int // (tile, op) assignments made
	Unresolved int // Operations whose image id is not in the store
	Dropped    int // Resolvable operations that overlapped no tile
}

// Options configures Route.
type Options struct {
	Logger *slog.Logger
	Policy Policy
}

// Route appends every op to each tile it can affect. The test is conservative:
// the op's own image size is used as a margin around the tile, so an op may be
// routed to a tile it does not actually touch. The blend clips per pixel.
//
// Ops keep their global order inside each tile. Ops referencing unknown images
// are skipped. Under Strict, a *MissedError is returned if any resolvable op
// reached no tile; tiles are still populated with everything that did route.
func Route(tiles []*grid.Tile, ops []types.ComposeOp, store *rawimage.Store, opts Options) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stats := Stats{Ops: len(ops)}
	var missed []types.ComposeOp

	for _, op := range ops {
		img, ok := store.Get(op.Image)
		if !ok || img == nil {
			stats.Unresolved++
			logger.Debug("Skipping operation with unknown image", "op", op.String())
			continue
		}

		routed := 0
		for _, tile := range tiles {
			if Overlaps(op, img.Width, img.Height, tile.Bounds) {
				tile.Ops = append(tile.Ops, op)
				routed++
			}
		}

		if routed == 0 {
			stats.Dropped++
			missed = append(missed, op)
			continue
		}
		stats.Pairs += routed
	}

	if len(missed) > 0 {
		if opts.Policy == Strict {
			return stats, &MissedError{Ops: missed}
		}
		logger.Debug("Dropped operations outside the grid", "count", len(missed))
	}

	return stats, nil
}

// Overlaps reports whether an op with a w x h image at (op.X, op.Y) can paint
// into b, using the image size as margin on every side.
func Overlaps(op types.ComposeOp, w, h int, b types.Bounds) bool {
	return op.X > b.Left-w &&
		op.X < b.Right+w &&
		op.Y > b.Top-h &&
		op.Y < b.Bottom+h
}
