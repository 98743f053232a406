package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/duesledger/duesledger/internal/model"
)

const (
	// DefaultDebounce is how long a file must stay quiet before import.
	DefaultDebounce = 500 * time.Millisecond

	processedDir = "processed"
	failedDir    = "failed"
)

// Sink stores parsed transfers. Implemented by service.ReconcileService.
type Sink interface {
	Import(ctx context.Context, transfers []*model.Transfer) (int, error)
}

// ImportFile parses path and hands its transfers to sink.
func ImportFile(ctx context.Context, sink Sink, path string) (int, error) {
	transfers, err := ParseFile(path)
	if err != nil {
		return 0, err
	}
	return sink.Import(ctx, transfers)
}

// Watcher imports statement files dropped into a directory. Imported files
// are moved to processed/, unparseable ones to failed/.
type Watcher struct {
	dir      string
	sink     Sink
	logger   *slog.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time

	done chan struct{}
}

// NewWatcher creates a Watcher for dir.
func NewWatcher(dir string, sink Sink, logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create statement directory: %w", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		sink:     sink,
		logger:   logger,
		debounce: debounce,
		fsw:      fsw,
		pending:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}, nil
}

// Run processes files already present, then watches for new ones until ctx
// is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("failed to scan statement directory", slog.String("error", err.Error()))
	}
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			w.process(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	w.logger.Info("statement watcher started",
		slog.String("dir", w.dir),
		slog.Duration("debounce", w.debounce),
	)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !Supported(event.Name) || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// Close stops watching and waits for Run to return.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

// flush processes files that have been quiet for the debounce period.
func (w *Watcher) flush(ctx context.Context) {
	cutoff := time.Now().Add(-w.debounce)

	var ready []string
	w.pendingMu.Lock()
	for path, last := range w.pending {
		if last.Before(cutoff) {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)

	n, err := ImportFile(ctx, w.sink, path)
	if err != nil {
		w.logger.Error("statement import failed",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		w.move(path, failedDir)
		return
	}

	w.logger.Info("statement imported", slog.String("file", name), slog.Int("new_transfers", n))
	w.move(path, processedDir)
}

func (w *Watcher) move(path, sub string) {
	dst := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		w.logger.Warn("failed to move statement",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
	}
}
