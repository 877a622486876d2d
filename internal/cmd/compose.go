package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/tilecompose/internal/composite"
	"github.com/MeKo-Tech/tilecompose/internal/grid"
	"github.com/MeKo-Tech/tilecompose/internal/manifest"
	"github.com/MeKo-Tech/tilecompose/internal/output"
	"github.com/MeKo-Tech/tilecompose/internal/rawimage"
	"github.com/MeKo-Tech/tilecompose/internal/route"
	"github.com/MeKo-Tech/tilecompose/internal/tile"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Composite a job manifest into tiles",
	Long: `Load the images named in a job manifest, place them as described and write
the composited tiles as PNG files, a single mosaic PNG or an MBTiles database.

Flags override the corresponding manifest values when set.`,
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().String("job", "", "Job manifest (YAML, JSON or TOML)")

	// Overrides for manifest values
	composeCmd.Flags().IntP("workers", "w", -1, "Number of compositing workers, 0 for synchronous (default: from manifest)")
	composeCmd.Flags().Int("tile-size", 0, "Tile width and height in pixels (default: from manifest)")
	composeCmd.Flags().String("routing", "", "Routing policy for operations outside the grid: lenient or strict (default: from manifest)")
	composeCmd.Flags().Float64("scale", 0, "Downscale factor applied to source images (default: from manifest)")
	composeCmd.Flags().Int("load-workers", rawimage.DefaultLoadWorkers, "Number of images decoded in parallel")

	// Output
	composeCmd.Flags().String("format", "folder", "Output format: folder, mosaic or mbtiles")
	composeCmd.Flags().String("output-file", "", "Output file for mosaic (.png) and mbtiles (.mbtiles) formats")
	composeCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")
	composeCmd.Flags().Bool("skip-empty", false, "Do not write fully transparent tiles (folder and mbtiles formats)")
	composeCmd.Flags().Bool("gzip", false, "Gzip tile blobs in MBTiles output")

	// Georeferencing for MBTiles output
	composeCmd.Flags().IntP("zoom", "z", 0, "Zoom level the grid is placed at (mbtiles format)")
	composeCmd.Flags().Int("origin-x", 0, "XYZ column of the top-left grid tile (mbtiles format)")
	composeCmd.Flags().Int("origin-y", 0, "XYZ row of the top-left grid tile (mbtiles format)")
	composeCmd.Flags().String("anchor", "", "lon,lat whose tile becomes the top-left grid tile; overrides --origin-x/--origin-y")

	// Run control
	composeCmd.Flags().Bool("progress", true, "Show progress bar")
	composeCmd.Flags().Duration("timeout", 0, "Cancel the job after this duration (0 = no timeout)")
	composeCmd.Flags().Bool("allow-failures", false, "Succeed even if some tiles could not be written")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"compose.job", "job"},
		{"compose.workers", "workers"},
		{"compose.tile_size", "tile-size"},
		{"compose.routing", "routing"},
		{"compose.scale", "scale"},
		{"compose.load_workers", "load-workers"},
		{"compose.format", "format"},
		{"compose.output_file", "output-file"},
		{"compose.png_compression", "png-compression"},
		{"compose.skip_empty", "skip-empty"},
		{"compose.gzip", "gzip"},
		{"compose.zoom", "zoom"},
		{"compose.origin_x", "origin-x"},
		{"compose.origin_y", "origin-y"},
		{"compose.anchor", "anchor"},
		{"compose.progress", "progress"},
		{"compose.timeout", "timeout"},
		{"compose.allow_failures", "allow-failures"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, composeCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

// composeOptions carries the resolved command settings.
type composeOptions struct {
	Job            string
	Format         string
	OutputDir      string
	OutputFile     string
	PNGCompression string
	Routing        string
	Anchor         string
	Workers        int
	TileSize       int
	LoadWorkers    int
	Zoom           int
	OriginX        int
	OriginY        int
	Scale          float64
	Timeout        time.Duration
	Progress       bool
	SkipEmpty      bool
	Gzip           bool
	AllowFailures  bool
}

func runCompose(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	opts := composeOptions{
		Job:            viper.GetString("compose.job"),
		Format:         viper.GetString("compose.format"),
		OutputDir:      viper.GetString("output-dir"),
		OutputFile:     viper.GetString("compose.output_file"),
		PNGCompression: viper.GetString("compose.png_compression"),
		Routing:        viper.GetString("compose.routing"),
		Anchor:         viper.GetString("compose.anchor"),
		Workers:        viper.GetInt("compose.workers"),
		TileSize:       viper.GetInt("compose.tile_size"),
		LoadWorkers:    viper.GetInt("compose.load_workers"),
		Zoom:           viper.GetInt("compose.zoom"),
		OriginX:        viper.GetInt("compose.origin_x"),
		OriginY:        viper.GetInt("compose.origin_y"),
		Scale:          viper.GetFloat64("compose.scale"),
		Timeout:        viper.GetDuration("compose.timeout"),
		Progress:       viper.GetBool("compose.progress"),
		SkipEmpty:      viper.GetBool("compose.skip_empty"),
		Gzip:           viper.GetBool("compose.gzip"),
		AllowFailures:  viper.GetBool("compose.allow_failures"),
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return composeWith(ctx, opts)
}

func composeWith(ctx context.Context, opts composeOptions) error {
	if opts.Job == "" {
		return errors.New("--job is required")
	}

	switch opts.Format {
	case "folder":
	case "mosaic", "mbtiles":
		if opts.OutputFile == "" {
			return fmt.Errorf("--output-file is required when using --format=%s", opts.Format)
		}
	default:
		return fmt.Errorf("invalid format %q: must be 'folder', 'mosaic' or 'mbtiles'", opts.Format)
	}

	level, err := output.ParseCompression(opts.PNGCompression)
	if err != nil {
		return err
	}

	m, err := manifest.Load(opts.Job)
	if err != nil {
		return err
	}

	cfg, scale, err := jobConfig(m, opts)
	if err != nil {
		return err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logger.Info("Starting compose job",
		"job", opts.Job,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"tile_size", fmt.Sprintf("%dx%d", cfg.TileWidth, cfg.TileHeight),
		"images", len(m.Images),
		"ops", len(m.Ops),
		"workers", cfg.Workers,
		"routing", cfg.Routing.String(),
		"format", opts.Format,
	)

	store, loadErrs, err := rawimage.LoadAll(ctx, m.Sources(), rawimage.LoadOptions{
		Logger:  logger,
		Scale:   scale,
		Workers: opts.LoadWorkers,
	})
	if err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}
	if len(loadErrs) > 0 {
		logger.Warn("Some images could not be loaded; their operations will be skipped", "failed", len(loadErrs))
	}
	logger.Debug("Images ready", "count", store.Len(), "ids", store.IDs())

	job, err := composite.New(cfg, store, m.ComposeOps())
	if err != nil {
		return err
	}

	cols, rows := grid.Dimensions(cfg.Width, cfg.Height, cfg.TileWidth, cfg.TileHeight)
	total := cols * rows

	sink, err := newSink(opts, cfg, cols, rows, output.NewEncoder(level))
	if err != nil {
		return err
	}

	var status io.Writer
	if opts.Progress {
		status = os.Stderr
	}
	progress := output.NewProgress(status, total)
	rec := output.NewRecorder(sink, total, logger, progress.Update)

	res, runErr := job.Run(ctx, rec.OnTile)
	progress.Done()

	if err := sink.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close output: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("compose failed: %w", runErr)
	}

	logger.Info(progress.Summary(res))
	logger.Info("Compose complete",
		"tiles", res.Completed,
		"written", rec.Written(),
		"elapsed", res.Elapsed,
	)

	if err := rec.Err(); err != nil {
		return fmt.Errorf("failed to finish output: %w", err)
	}
	if failed := rec.Failed(); failed > 0 {
		if !opts.AllowFailures {
			return fmt.Errorf("%d tiles failed to write", failed)
		}
		logger.Warn("Some tiles failed to write, but continuing due to --allow-failures flag", "failed_count", failed)
	}

	return nil
}

// jobConfig merges manifest values with command overrides.
func jobConfig(m *manifest.Manifest, opts composeOptions) (composite.Config, float64, error) {
	cfg := composite.Config{
		Logger:     logger,
		Width:      m.Width,
		Height:     m.Height,
		TileWidth:  m.TileWidth,
		TileHeight: m.TileHeight,
		Workers:    m.Workers,
		Routing:    m.Policy(),
	}

	if opts.Workers >= 0 {
		cfg.Workers = opts.Workers
	}
	if opts.TileSize > 0 {
		cfg.TileWidth, cfg.TileHeight = opts.TileSize, opts.TileSize
	}
	if opts.Routing != "" {
		p, err := route.ParsePolicy(opts.Routing)
		if err != nil {
			return composite.Config{}, 0, err
		}
		cfg.Routing = p
	}

	scale := m.Scale
	if opts.Scale > 0 {
		scale = opts.Scale
	}

	return cfg, scale, cfg.Validate()
}

func newSink(opts composeOptions, cfg composite.Config, cols, rows int, enc *output.Encoder) (output.Sink, error) {
	switch opts.Format {
	case "mosaic":
		return output.NewMosaicSink(opts.OutputFile, cfg.Width, cfg.Height, enc)
	case "mbtiles":
		origin, err := resolveOrigin(opts)
		if err != nil {
			return nil, err
		}
		logger.Info("Georeferencing grid", "origin", origin.String(), "cols", cols, "rows", rows)
		return output.NewMBTilesSink(output.MBTilesConfig{
			Logger:      logger,
			Path:        opts.OutputFile,
			Description: fmt.Sprintf("Composited from %s", opts.Job),
			Origin:      origin,
			Cols:        cols,
			Rows:        rows,
			TileWidth:   cfg.TileWidth,
			TileHeight:  cfg.TileHeight,
			Gzip:        opts.Gzip,
			SkipEmpty:   opts.SkipEmpty,
		}, enc)
	default:
		return output.NewFolderSink(opts.OutputDir, enc, opts.SkipEmpty)
	}
}

// resolveOrigin returns the XYZ tile that receives grid tile (0,0).
func resolveOrigin(opts composeOptions) (tile.Coords, error) {
	if opts.Zoom < 0 || opts.Zoom > tile.MaxZoom {
		return tile.Coords{}, fmt.Errorf("--zoom must be between 0 and %d, got %d", tile.MaxZoom, opts.Zoom)
	}

	if opts.Anchor != "" {
		p, err := parseLonLat(opts.Anchor)
		if err != nil {
			return tile.Coords{}, fmt.Errorf("invalid anchor: %w", err)
		}
		return tile.At(p, uint32(opts.Zoom)), nil
	}

	if opts.OriginX < 0 || opts.OriginY < 0 {
		return tile.Coords{}, fmt.Errorf("--origin-x and --origin-y must be non-negative")
	}
	origin := tile.NewCoords(uint32(opts.Zoom), uint32(opts.OriginX), uint32(opts.OriginY))
	if !origin.Valid() {
		return tile.Coords{}, fmt.Errorf("%w: origin %s", tile.ErrOutOfRange, origin)
	}
	return origin, nil
}

// parseLonLat parses a point string "lon,lat" in WGS84.
func parseLonLat(s string) (orb.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return orb.Point{}, fmt.Errorf("expected 2 comma-separated values, got %d", len(parts))
	}

	var p orb.Point
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Point{}, fmt.Errorf("invalid number at position %d: %w", i, err)
		}
		p[i] = val
	}

	if p.Lon() < -180 || p.Lon() > 180 {
		return orb.Point{}, fmt.Errorf("longitude %.4f out of range [-180, 180]", p.Lon())
	}
	if p.Lat() < -85.0511 || p.Lat() > 85.0511 {
		return orb.Point{}, fmt.Errorf("latitude %.4f outside the Web Mercator range", p.Lat())
	}

	return p, nil
}
