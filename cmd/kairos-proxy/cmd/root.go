package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/metricrelay/kairos-proxy/internal/api"
	"github.com/metricrelay/kairos-proxy/internal/config"
	"github.com/metricrelay/kairos-proxy/internal/state"
	"github.com/metricrelay/kairos-proxy/pkg/logger"
)

const (
	envConfigPath = "KAIROS_PROXY_CONFIG"
	envLogLevel   = "KAIROS_PROXY_LOG_LEVEL"
	envLogFormat  = "KAIROS_PROXY_LOG_FORMAT"

	shutdownTimeout = 30 * time.Second
)

var (
	version   string
	buildTime string
	gitCommit string

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "kairos-proxy",
	Short: "Route time-series queries to backend databases by metric name",
	Long: `kairos-proxy is a reverse proxy that inspects the metric name(s) in an
inbound query request and routes it to whichever configured backend claims
that metric. In Simple mode the request body is forwarded unmodified to the
backend of the first metric; in Multi mode it is split into one sub-request
per backend and the responses are merged.

Running kairos-proxy with no subcommand starts the HTTP server using the
configuration file named by --config or ` + envConfigPath + `.`,
	RunE: runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build metadata printed by the version subcommand.
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(envConfigPath), "path to the TOML configuration file")
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("no configuration file given: pass --config or set %s", envConfigPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := buildLogger(cfg)

	st := state.New(cfg)
	router := api.NewRouter(st, log)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("kairos-proxy starting", "listen", cfg.Listen, "mode", string(cfg.Mode), "backends", len(cfg.Backends))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-quit:
	}

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

// buildLogger applies the KAIROS_PROXY_LOG_LEVEL / KAIROS_PROXY_LOG_FORMAT
// environment overrides (spec §6) on top of the config file's [logging]
// table before constructing the process logger.
func buildLogger(cfg *config.Config) *slog.Logger {
	lc := cfg.Logging
	if v := os.Getenv(envLogLevel); v != "" {
		lc.Level = v
	}
	if v := os.Getenv(envLogFormat); v != "" {
		lc.Format = v
	}

	return logger.NewLogger(logger.Config{
		Level:      lc.Level,
		Format:     lc.Format,
		Output:     lc.Output,
		Filename:   lc.Filename,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
	})
}
