// Package watch provides a "detect change, debounce, reload" loop for a
// single file on disk. It backs hot reload of the membership mapping table.
//
// Changes are picked up from fsnotify events on the file's directory, so
// editors that replace the file through a rename are handled. A slow poll of
// the file's modification stamp runs alongside as a fallback for
// filesystems that drop events.
//
// Typical usage:
//
//	w, err := watch.New("mapping.yaml", watch.Options{Debounce: 300 * time.Millisecond})
//	go w.OnChange(ctx, func() error { return reload() })
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeDetector reads a version token for the watched file. Two calls that
// return different values mean "something changed".
type ChangeDetector func(path string) (int64, error)

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the fallback polling frequency. Default: 5s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// action fires. If more changes arrive during the window the timer
	// resets. 0 means fire immediately. Default: 0.
	Debounce time.Duration
	// Detector overrides the default ModStamp detector.
	Detector ChangeDetector
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Detector == nil {
		o.Detector = ModStamp
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher watches one file and runs an action when it changes. It is safe
// for concurrent use.
type Watcher struct {
	path string
	opts Options

	// stamp is the detector token of the last successfully loaded file.
	stamp atomic.Int64
	// version counts successful reloads.
	version atomic.Int64

	versionMu   sync.Mutex
	versionCond *sync.Cond

	checks   atomic.Int64
	changes  atomic.Int64
	errors   atomic.Int64
	reloads  atomic.Int64
	reloadNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Reloads         int64         `json:"reloads"`
	AvgReloadTime   time.Duration `json:"avg_reload_time"`
}

// New creates a Watcher for path. Call OnChange to start the loop.
func New(path string, opts Options) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	opts.defaults()
	w := &Watcher{path: abs, opts: opts}
	w.versionCond = sync.NewCond(&w.versionMu)
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadNs.Load() / s.Reloads)
	}
	return s
}

// Version returns the number of successful reloads.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled. When the file changes and the
// debounce window passes without further changes, action is called.
//
// If action returns an error the stamp is not advanced, so the next poll
// retries it. OnChange returns an error only if the fsnotify watcher cannot
// be set up.
func (w *Watcher) OnChange(ctx context.Context, action func() error) error {
	log := w.opts.Logger.With("path", w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch: add %s: %w", filepath.Dir(w.path), err)
	}

	if s, err := w.opts.Detector(w.path); err != nil {
		log.Warn("watch: initial stamp failed", "error", err)
	} else {
		w.stamp.Store(s)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := false

	log.Info("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	changed := func(reason string) {
		w.changes.Add(1)
		if w.opts.Debounce <= 0 {
			w.fire(log, action)
			return
		}
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		pending = true
		debounceTimer = time.NewTimer(w.opts.Debounce)
		debounceCh = debounceTimer.C
		log.Debug("watch: change detected, debouncing", "reason", reason)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			changed(ev.Op.String())

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.errors.Add(1)
			log.Warn("watch: fsnotify error", "error", err)

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(w.path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					w.errors.Add(1)
					log.Warn("watch: stamp check failed", "error", err)
				}
				continue
			}
			if cur != w.stamp.Load() && !pending {
				changed("poll")
			}

		case <-debounceCh:
			debounceCh = nil
			if pending {
				pending = false
				w.fire(log, action)
			}
		}
	}
}

// WaitForVersion blocks until the watcher has completed at least target
// successful reloads, or ctx expires.
func (w *Watcher) WaitForVersion(ctx context.Context, target int64) error {
	if w.version.Load() >= target {
		return nil
	}

	done := ctx.Done()
	w.versionMu.Lock()
	defer w.versionMu.Unlock()

	for w.version.Load() < target {
		ch := make(chan struct{})
		go func() {
			select {
			case <-done:
				w.versionMu.Lock()
				w.versionCond.Broadcast()
				w.versionMu.Unlock()
			case <-ch:
			}
		}()

		w.versionCond.Wait()
		close(ch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (w *Watcher) fire(log *slog.Logger, action func() error) {
	stamp, err := w.opts.Detector(w.path)
	if err != nil {
		// Mid-replace: the file is gone for now, the Create event follows.
		w.errors.Add(1)
		log.Debug("watch: file not readable yet", "error", err)
		return
	}
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: reload failed", "error", err)
		return
	}
	elapsed := time.Since(start)
	w.reloads.Add(1)
	w.reloadNs.Add(int64(elapsed))
	w.stamp.Store(stamp)

	w.versionMu.Lock()
	v := w.version.Add(1)
	w.versionCond.Broadcast()
	w.versionMu.Unlock()
	log.Info("watch: reload complete", "version", v, "duration", elapsed)
}

// ModStamp combines the file's modification time and size.
func ModStamp(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.ModTime().UnixNano() ^ fi.Size(), nil
}
