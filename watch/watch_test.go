package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// start runs OnChange in the background and returns a stop func that waits
// for the loop to exit.
func start(t *testing.T, w *Watcher, action func() error) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.OnChange(ctx, action) }()
	// Let the watcher register before the test mutates the file.
	time.Sleep(50 * time.Millisecond)
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("OnChange: %v", err)
		}
	}
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New("", Options{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestModStamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.yaml")
	if _, err := ModStamp(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
	writeFile(t, path, "a")
	a, err := ModStamp(path)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "abc")
	b, _ := ModStamp(path)
	if a == b {
		t.Fatal("stamp must change with size")
	}
}

func TestOnChange_FiresOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "mapping.yaml")
	writeFile(t, path, "[]")

	w, err := New(path, Options{Interval: time.Hour, Debounce: 30 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	var reloads atomic.Int32
	stop := start(t, w, func() error { reloads.Add(1); return nil })
	defer stop()

	writeFile(t, path, "- name: Pro\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.WaitForVersion(ctx, 1); err != nil {
		t.Fatalf("WaitForVersion: %v", err)
	}
	if reloads.Load() != 1 {
		t.Fatalf("reloads = %d", reloads.Load())
	}
}

func TestOnChange_IgnoresSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	writeFile(t, path, "[]")

	w, _ := New(path, Options{Interval: time.Hour})
	var reloads atomic.Int32
	stop := start(t, w, func() error { reloads.Add(1); return nil })

	writeFile(t, filepath.Join(dir, "other.yaml"), "x")
	time.Sleep(100 * time.Millisecond)
	stop()

	if reloads.Load() != 0 {
		t.Fatalf("reloads = %d, want 0", reloads.Load())
	}
}

func TestOnChange_Debounce(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "mapping.yaml")
	writeFile(t, path, "[]")

	w, _ := New(path, Options{Interval: time.Hour, Debounce: 150 * time.Millisecond})
	var reloads atomic.Int32
	stop := start(t, w, func() error { reloads.Add(1); return nil })
	defer stop()

	for i := 0; i < 5; i++ {
		writeFile(t, path, "- name: v"+string(rune('0'+i))+"\n")
		time.Sleep(10 * time.Millisecond)
	}
	if got := reloads.Load(); got != 0 {
		t.Fatalf("reloads during debounce = %d", got)
	}

	time.Sleep(400 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d, want exactly 1", got)
	}
}

func TestOnChange_FailedReloadIsRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "mapping.yaml")
	writeFile(t, path, "[]")

	w, _ := New(path, Options{Interval: 20 * time.Millisecond})
	var calls atomic.Int32
	stop := start(t, w, func() error {
		if calls.Add(1) == 1 {
			return errors.New("bad yaml")
		}
		return nil
	})
	defer stop()

	writeFile(t, path, "- broken\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.WaitForVersion(ctx, 1); err != nil {
		t.Fatalf("WaitForVersion: %v", err)
	}
	s := w.Stats()
	if s.Errors == 0 || s.Reloads == 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestWaitForVersion_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "mapping.yaml")
	writeFile(t, path, "[]")
	w, _ := New(path, Options{Interval: time.Hour})
	stop := start(t, w, func() error { return nil })
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := w.WaitForVersion(ctx, 99); err == nil {
		t.Fatal("expected timeout error")
	}
}
