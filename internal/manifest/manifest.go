// Package manifest loads compositing job descriptions from YAML, JSON or TOML files.
//
// A manifest names the target size, tiling, the images to load and the
// placement operations to apply:
//
//	width: 512
//	height: 512
//	tile_width: 256
//	tile_height: 256
//	workers: 8
//	routing: lenient
//	images:
//	  - {id: 0, path: images/red.png}
//	ops:
//	  - {image: 0, x: 10, y: 10}
package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/MeKo-Tech/tilecompose/internal/rawimage"
	"github.com/MeKo-Tech/tilecompose/internal/route"
	"github.com/MeKo-Tech/tilecompose/internal/types"
)

// Defaults applied to keys missing from a manifest.
const (
	DefaultTileSize = 256
	DefaultWorkers  = 8
	DefaultScale    = 1.0
)

// Image is a source image entry.
type Image struct {
	Path string `mapstructure:"path"`
	ID   int    `mapstructure:"id"`
}

// Op is a placement operation entry.
type Op struct {
	Image int `mapstructure:"image"`
	X     int `mapstructure:"x"`
	Y     int `mapstructure:"y"`
}

// Manifest is a parsed job description.
type Manifest struct {
	// Dir is the directory relative image paths are resolved against.
	Dir        string  `mapstructure:"-"`
	Routing    string  `mapstructure:"routing"`
	Images     []Image `mapstructure:"images"`
	Ops        []Op    `mapstructure:"ops"`
	Width      int     `mapstructure:"width"`
	Height     int     `mapstructure:"height"`
	TileWidth  int     `mapstructure:"tile_width"`
	TileHeight int     `mapstructure:"tile_height"`
	Workers    int     `mapstructure:"workers"`
	Scale      float64 `mapstructure:"scale"`
}

// Load reads and validates the manifest at path. The format is taken from the
// file extension.
func Load(path string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("tile_width", DefaultTileSize)
	v.SetDefault("tile_height", DefaultTileSize)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("routing", route.Lenient.String())
	v.SetDefault("scale", DefaultScale)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}
	m.Dir = filepath.Dir(abs)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks sizes, the routing policy and image entries. Ops that
// reference undeclared images are allowed; they are skipped at compose time.
func (m *Manifest) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", m.Width, m.Height)
	}
	if m.TileWidth <= 0 || m.TileHeight <= 0 {
		return fmt.Errorf("tile_width and tile_height must be positive, got %dx%d", m.TileWidth, m.TileHeight)
	}
	if m.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", m.Workers)
	}
	if m.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %g", m.Scale)
	}
	if _, err := route.ParsePolicy(m.Routing); err != nil {
		return err
	}

	seen := make(map[int]bool, len(m.Images))
	for i, img := range m.Images {
		if img.Path == "" {
			return fmt.Errorf("image %d (entry %d) has no path", img.ID, i)
		}
		if seen[img.ID] {
			return fmt.Errorf("duplicate image id %d", img.ID)
		}
		seen[img.ID] = true
	}
	return nil
}

// Policy returns the parsed routing policy.
func (m *Manifest) Policy() route.Policy {
	p, _ := route.ParsePolicy(m.Routing)
	return p
}

// Sources returns the image entries with local paths resolved against Dir.
// http(s) URLs are passed through unchanged.
func (m *Manifest) Sources() []rawimage.Source {
	out := make([]rawimage.Source, 0, len(m.Images))
	for _, img := range m.Images {
		p := img.Path
		if !rawimage.IsRemote(p) && !filepath.IsAbs(p) && m.Dir != "" {
			p = filepath.Join(m.Dir, p)
		}
		out = append(out, rawimage.Source{ID: img.ID, Path: p})
	}
	return out
}

// ComposeOps returns the operations in file order.
func (m *Manifest) ComposeOps() []types.ComposeOp {
	out := make([]types.ComposeOp, len(m.Ops))
	for i, op := range m.Ops {
		out[i] = types.ComposeOp{Image: op.Image, X: op.X, Y: op.Y}
	}
	return out
}
