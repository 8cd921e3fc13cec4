// Command msadapter serves pages built for the v1 membership widget through
// an HTML-rewriting reverse proxy that migrates them to v2, and offers the
// same engine as offline tools.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/msadapter/adapter"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "msadapter",
	Short: "Run v1 membership-widget pages against the v2 widget",
	Long: `msadapter rewrites legacy membership-widget markup (hash URLs, deprecated
data attributes) into v2 syntax and serves a v1-compatible API bridge.
Run it as a reverse proxy in front of a site, or use the offline commands
to rewrite, audit or inspect pages.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "msadapter.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and installs the JSON logger on stderr.
func setup() (*adapter.Config, *slog.Logger, error) {
	cfg, err := adapter.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// offlineAdapter builds an adapter without persistence or member API, with
// the mapping file loaded once.
func offlineAdapter(ctx context.Context, cfg *adapter.Config, logger *slog.Logger) (*adapter.Adapter, error) {
	a := adapter.New(cfg, nil, adapter.WithLogger(logger))
	if err := a.ReloadMapping(ctx); err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	return a, nil
}
