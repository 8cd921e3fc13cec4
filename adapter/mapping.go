package adapter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hazyhaar/msadapter/observability"
	"github.com/hazyhaar/msadapter/planid"
	"github.com/hazyhaar/msadapter/watch"
)

// ReloadMapping reads MappingFile and publishes the new table. Pages
// already in flight keep the table they started with.
func (a *Adapter) ReloadMapping(ctx context.Context) error {
	if a.cfg.MappingFile == "" {
		return nil
	}
	t, err := planid.LoadFile(a.cfg.MappingFile)
	if err != nil {
		return err
	}
	a.mapping.Store(t)
	a.metrics.Count(observability.MetricMappingReloads, 1, nil)
	a.metrics.Count(observability.MetricMappingEntries, t.Len(), nil)
	a.events.Log(ctx, observability.Event{
		Type:   observability.EventMappingReload,
		Detail: a.cfg.MappingFile + ": " + strconv.Itoa(t.Len()) + " entries",
	})
	a.logger.Info("adapter: mapping loaded", "path", a.cfg.MappingFile, "entries", t.Len())
	return nil
}

// WatchMapping reloads the mapping table whenever MappingFile changes,
// until ctx ends. It returns immediately when no mapping file is set.
func (a *Adapter) WatchMapping(ctx context.Context) error {
	if a.cfg.MappingFile == "" {
		return nil
	}
	w, err := watch.New(a.cfg.MappingFile, watch.Options{
		Debounce: a.cfg.MappingDebounce,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("adapter: watch mapping: %w", err)
	}
	return w.OnChange(ctx, func() error { return a.ReloadMapping(ctx) })
}
