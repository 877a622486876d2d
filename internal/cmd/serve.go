package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/tilecompose/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve composited tiles from an MBTiles file",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("mbtiles", "", "MBTiles file to serve")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for served tiles")
	serveCmd.Flags().Duration("shutdown-timeout", 5*time.Second, "Grace period for in-flight requests on shutdown")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.mbtiles", "mbtiles")
	mustBind("serve.cache_control", "cache-control")
	mustBind("serve.shutdown_timeout", "shutdown-timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	mbtilesPath := viper.GetString("serve.mbtiles")
	cacheControl := viper.GetString("serve.cache_control")
	shutdownTimeout := viper.GetDuration("serve.shutdown_timeout")

	if mbtilesPath == "" {
		return errors.New("--mbtiles is required")
	}

	h, err := server.NewMBTilesHandler(server.MBTilesConfig{
		MBTilesPath:  mbtilesPath,
		CacheControl: cacheControl,
	}, logger)
	if err != nil {
		return err
	}
	defer h.Close()

	srv := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("tile server listening", "addr", addr, "mbtiles", mbtilesPath)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down tile server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
