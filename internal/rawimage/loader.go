package rawimage

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/gift"
	"golang.org/x/sync/errgroup"

	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// DefaultLoadWorkers is the number of sources decoded concurrently by LoadAll.
	DefaultLoadWorkers = 4

	// DefaultFetchTimeout bounds a single remote image request.
	DefaultFetchTimeout = 30 * time.Second
)

// Source names an image file or http(s) URL and the store id it is loaded under.
type Source struct {
	Path string
	ID   int
}

// LoadError records a source that could not be loaded. The id stays absent
// from the store, so operations referencing it are skipped.
type LoadError struct {
	Err  error
	Path string
	ID   int
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("image %d (%s): %v", e.ID, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadOptions configures LoadAll.
type LoadOptions struct {
	Logger *slog.Logger
	// Scale resizes every image by this factor after decoding (e.g. 0.5 for
	// @2x sprites on a 1x target). Zero or one leaves images untouched.
	Scale   float64
	Workers int
	// Client fetches remote sources (default: a client with DefaultFetchTimeout).
	Client *http.Client
}

// IsRemote reports whether path is an http or https URL.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// LoadFile decodes a single image file and optionally rescales it.
func LoadFile(path string, scale float64) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	return decode(file, scale)
}

// Load decodes an image from a local path or fetches it from an http(s) URL.
func Load(ctx context.Context, client *http.Client, path string, scale float64) (*Image, error) {
	if !IsRemote(path) {
		return LoadFile(path, scale)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: %s", resp.Status)
	}
	return decode(resp.Body, scale)
}

func decode(r io.Reader, scale float64) (*Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return FromImage(Rescale(img, scale)), nil
}

// Rescale resizes img by scale using linear resampling.
// Scales of zero, one or below zero return img unchanged.
func Rescale(img image.Image, scale float64) image.Image {
	if scale <= 0 || scale == 1 {
		return img
	}

	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))

	g := gift.New(gift.Resize(w, h, gift.LinearResampling))
	dst := image.NewNRGBA(g.Bounds(b))
	g.Draw(dst, img)
	return dst
}

// LoadAll decodes all sources concurrently into a new store. A source that
// fails to load is reported in the returned slice and does not stop the others.
// The error is non-nil only for duplicate ids or context cancellation.
func LoadAll(ctx context.Context, sources []Source, opts LoadOptions) (*Store, []LoadError, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultLoadWorkers
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}

	seen := make(map[int]string, len(sources))
	for _, src := range sources {
		if prev, dup := seen[src.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate image id %d (%s and %s)", src.ID, prev, src.Path)
		}
		seen[src.ID] = src.Path
	}

	var mu sync.Mutex
	var failures []LoadError
	loaded := make(map[int]*Image, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			img, err := Load(gctx, client, src.Path, opts.Scale)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Image unavailable; operations using it will be skipped",
					"id", src.ID, "path", src.Path, "error", err)
				failures = append(failures, LoadError{ID: src.ID, Path: src.Path, Err: err})
				return nil
			}
			logger.Debug("Image loaded", "id", src.ID, "path", src.Path, "width", img.Width, "height", img.Height)
			loaded[src.ID] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, failures, fmt.Errorf("image loading cancelled: %w", err)
	}

	store := NewStore()
	for id, img := range loaded {
		if err := store.Put(id, img); err != nil {
			return nil, failures, err
		}
	}

	return store, failures, nil
}
