// Package source feeds notification text into the reconciliation service
// from places other than HTTP.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"payment_reconciliation/internal/domain"
)

const processedDir = "processed"

// Ingester accepts free text for matching.
type Ingester interface {
	IngestText(ctx context.Context, source, text string) (domain.IngestSummary, error)
}

type SpoolOption func(*SpoolWatcher)

// WithSettle sets how long a file must go without writes before it is read.
func WithSettle(d time.Duration) SpoolOption {
	return func(w *SpoolWatcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// SpoolWatcher ingests every file dropped into a directory (mail exports,
// SMS gateway dumps, statement downloads) and moves it to processed/ once
// handled. Files whose name starts with "." or ends in .tmp or .part are
// treated as still being written and ignored.
type SpoolWatcher struct {
	dir      string
	ingester Ingester
	watcher  *fsnotify.Watcher
	settle   time.Duration
	ready    chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
	due    chan string
	done   chan struct{}
}

func NewSpoolWatcher(dir string, ing Ingester, opts ...SpoolOption) (*SpoolWatcher, error) {
	if err := os.MkdirAll(filepath.Join(dir, processedDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w := &SpoolWatcher{
		dir:      dir,
		ingester: ing,
		watcher:  watcher,
		settle:   200 * time.Millisecond,
		ready:    make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		due:      make(chan string, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Ready is closed once Run has picked up the files already in the spool.
func (w *SpoolWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Run processes files until ctx is cancelled, then closes the watcher.
func (w *SpoolWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.stopTimers()
	defer close(w.done)

	if err := w.scanExisting(ctx); err != nil {
		return err
	}
	close(w.ready)
	log.Printf("INFO: Watching spool directory %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !eligible(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("WARN: Spool watcher error: %v", err)

		case path := <-w.due:
			w.process(ctx, path)
		}
	}
}

func (w *SpoolWatcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list spool directory %s: %w", w.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && eligible(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		w.process(ctx, filepath.Join(w.dir, name))
	}
	return nil
}

// schedule (re)arms the settle timer for path.
func (w *SpoolWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.due <- path:
		case <-w.done:
		}
	})
}

func (w *SpoolWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *SpoolWatcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARN: Failed to stat spool file %s: %v", path, err)
		}
		return
	}
	if info.IsDir() {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("ERROR: Failed to read spool file %s: %v", path, err)
		return
	}

	name := filepath.Base(path)
	if _, err := w.ingester.IngestText(ctx, "spool:"+name, string(data)); err != nil {
		// Left in place; the next start picks it up again.
		log.Printf("ERROR: Failed to ingest spool file %s: %v", name, err)
		return
	}

	if err := os.Rename(path, w.processedPath(name)); err != nil {
		log.Printf("ERROR: Failed to move %s to %s: %v", name, processedDir, err)
	}
}

func (w *SpoolWatcher) processedPath(name string) string {
	dst := filepath.Join(w.dir, processedDir, name)
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(w.dir, processedDir, fmt.Sprintf("%s.%d", name, time.Now().UnixNano()))
	}
	return dst
}

func eligible(path string) bool {
	name := filepath.Base(path)
	return !strings.HasPrefix(name, ".") &&
		!strings.HasSuffix(name, ".tmp") &&
		!strings.HasSuffix(name, ".part")
}
