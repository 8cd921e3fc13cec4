package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/msadapter/adapter"
	"github.com/hazyhaar/msadapter/internal/store"
	"github.com/hazyhaar/msadapter/observability"
	"github.com/hazyhaar/msadapter/widget"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rewriting reverse proxy",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
	serveCmd.Flags().String("upstream", "", "origin site URL (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("upstream"); v != "" {
		cfg.Upstream = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	upstream, _ := url.Parse(cfg.Upstream)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := observability.Init(st.DB()); err != nil {
		return err
	}
	metrics := observability.NewMetricsManager(st.DB(), 100, 5*time.Second, logger)
	defer metrics.Close()
	events := observability.NewEventLogger(st.DB(), logger)

	client := widget.NewClient(cfg.Widget.PublicKey,
		widget.WithBaseURL(cfg.Widget.BaseURL),
		widget.WithHTTPClient(&http.Client{Timeout: cfg.Widget.Timeout}),
		widget.WithCache(st, cfg.Widget.CacheTTL),
		widget.WithLogger(logger),
	)

	a := adapter.New(cfg, nil,
		adapter.WithWidget(client),
		adapter.WithStore(st),
		adapter.WithMetrics(metrics),
		adapter.WithEvents(events),
		adapter.WithLogger(logger),
	)
	if err := a.ReloadMapping(ctx); err != nil {
		return fmt.Errorf("load mapping: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.Routes(upstream),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("msadapter: listening", "addr", cfg.Listen, "upstream", cfg.Upstream, "bridge", cfg.BridgePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.WatchMapping(gctx) })
	g.Go(func() error {
		janitor(gctx, st, metrics, events, cfg.Retention)
		return nil
	})

	err = g.Wait()
	logger.Info("msadapter: stopped")
	return err
}

// janitor purges expired cache entries and old telemetry every hour.
func janitor(ctx context.Context, st *store.Store, mm *observability.MetricsManager, ev *observability.EventLogger, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := st.PurgeExpired(ctx); err != nil {
			slog.Warn("msadapter: purge member cache", "error", err)
		}
		if _, err := st.PurgeRuns(ctx, retention); err != nil {
			slog.Warn("msadapter: purge runs", "error", err)
		}
		if _, err := mm.Cleanup(ctx, retention); err != nil {
			slog.Warn("msadapter: purge metrics", "error", err)
		}
		if _, err := ev.Cleanup(ctx, retention); err != nil {
			slog.Warn("msadapter: purge events", "error", err)
		}
	}
}
