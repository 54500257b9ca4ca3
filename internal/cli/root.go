// Package cli implements the slideflow command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/slideflow/internal/config"
	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/metrics"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/Lllllllleong/slideflow/internal/services"
)

var (
	isDebug     bool
	dataDir     string
	metricsAddr string

	metricsServer *metrics.Server
)

var rootCmd = &cobra.Command{
	Use:   "slideflow",
	Short: "Slide enrichment pipeline",
	Long:  `Slideflow turns every page of a deck into an enriched slide: structured content, a generated visual, optional assets and motion clips.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()

		level := slog.LevelInfo
		if isDebug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})))
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "checkpoint directory (default $DATA_DIR or .slideflow)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	return gcp.GetEnv("DATA_DIR", ".slideflow")
}

// openRuntime loads the configuration and connects every client.
func openRuntime(ctx context.Context) (*services.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.DataDir = resolveDataDir()

	var reg prometheus.Registerer
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		reg = registry
		metricsServer = metrics.NewServer(metricsAddr, registry)
		metricsServer.Start()
	}
	rt, err := services.NewRuntime(ctx, *cfg, slog.Default(), reg)
	if err != nil && metricsServer != nil {
		_ = metricsServer.Stop(ctx)
		metricsServer = nil
	}
	return rt, err
}

// closeRuntime flushes checkpoints with a fresh deadline so an interrupted
// run still records its last state.
func closeRuntime(rt *services.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		slog.Warn("Shutdown was not clean.", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			slog.Warn("Metrics server did not stop cleanly.", "error", err)
		}
		metricsServer = nil
	}
}

// settle runs the scheduler until nothing is eligible and prints a summary.
func settle(ctx context.Context, session *services.Session) error {
	if err := session.Scheduler.RunUntilSettled(ctx); err != nil {
		return fmt.Errorf("pipeline interrupted: %w", err)
	}
	status, completed, failed := models.Summarize(session.Store.Snapshot())
	slog.Info("Pipeline settled.", "status", status, "completed", completed, "failed", failed, "units", session.Store.Len())
	return nil
}

// resolveUnit accepts a unit id or a 1-based page number.
func resolveUnit(store *pipeline.Store, ref string) (string, error) {
	if _, err := store.Get(ref); err == nil {
		return ref, nil
	}
	page, err := strconv.Atoi(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s", pipeline.ErrUnitNotFound, ref)
	}
	for _, u := range store.Snapshot() {
		if u.SequenceIndex == page-1 {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("%w: page %d", pipeline.ErrUnitNotFound, page)
}
