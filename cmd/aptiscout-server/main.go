// Command aptiscout-server runs the scraping, enrichment, and monitoring
// pipeline as a long-lived HTTP service: load config, wire the app, serve,
// shut down cleanly on signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aptiscout/aptiscout/internal/app"
	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/server"
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("APTISCOUT_CONFIG"), "path to config.toml (defaults to APTISCOUT_CONFIG, the binary directory, or ./config)")
	flag.Parse()

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aptiscout: startup failed: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Start(ctx)

	srv := server.NewServer(a)
	shutdownChan := make(chan struct{})
	srv.SetShutdownChannel(shutdownChan)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error().Err(err).Msg("http server exited unexpectedly")
			close(shutdownChan)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-shutdownChan:
		a.Logger.Warn().Msg("shutting down after server failure")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	a.Close()
	common.PrintShutdownBanner(a.Logger)
}
