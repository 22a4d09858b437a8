package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchState is what the inbox watcher remembers about a file it enqueued.
type WatchState struct {
	Path     string `json:"path"`
	ModTime  string `json:"mod_time"`
	Hash     string `json:"hash"`
	LastSeen string `json:"last_seen"`
}

// InboxWatcher enqueues a strategy_run job for every JSON request file
// dropped into the inbox directory. Rapid writes to the same file are
// debounced; a file whose content and mtime were already enqueued is
// skipped.
type InboxWatcher struct {
	Dir      string
	Store    *Store
	Debounce time.Duration
	Logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	watcher  *fsnotify.Watcher
	pending  map[string]time.Time
	lastAt   time.Time
	enqueued int
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewInboxWatcher returns a watcher for dir.
func NewInboxWatcher(dir string, store *Store, logger *zap.Logger) *InboxWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxWatcher{
		Dir:      dir,
		Store:    store,
		Debounce: 500 * time.Millisecond,
		Logger:   logger,
	}
}

// Start enqueues files already waiting in the inbox and then watches for
// new ones. It does not block.
func (w *InboxWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("ensure inbox dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	if err := watcher.Add(w.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch inbox %s: %w", w.Dir, err)
	}
	w.watcher = watcher
	w.pending = make(map[string]time.Time)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	if _, err := w.scanLocked(ctx); err != nil {
		w.Logger.Warn("initial inbox scan failed", zap.Error(err))
	}
	go w.run(ctx)
	w.Logger.Info("watching inbox", zap.String("dir", w.Dir))
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *InboxWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.Logger.Warn("closing inbox watcher", zap.Error(err))
	}
}

// Enqueued reports how many jobs the watcher has queued.
func (w *InboxWatcher) Enqueued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enqueued
}

func (w *InboxWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.Debounce / 4
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isRequestFile(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.Logger.Warn("inbox watcher error", zap.Error(err))
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush enqueues files that have been quiet for the debounce window.
func (w *InboxWatcher) flush(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.Debounce {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)
	for _, path := range ready {
		delete(w.pending, path)
		if _, err := w.enqueueLocked(ctx, path); err != nil {
			w.Logger.Warn("enqueue inbox file failed", zap.String("file", path), zap.Error(err))
		}
	}
}

// Scan enqueues every request file currently in the inbox.
func (w *InboxWatcher) Scan(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scanLocked(ctx)
}

func (w *InboxWatcher) scanLocked(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var ids []string
	for _, e := range entries {
		path := filepath.Join(w.Dir, e.Name())
		if e.IsDir() || !isRequestFile(path) {
			continue
		}
		id, err := w.enqueueLocked(ctx, path)
		if err != nil {
			return ids, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// enqueueLocked queues path unless the same version was queued before.
// It returns "" for a skipped file.
func (w *InboxWatcher) enqueueLocked(ctx context.Context, path string) (string, error) {
	changed, err := w.recordVersion(ctx, path)
	if err != nil || !changed {
		return "", err
	}
	// scheduled_at is part of the job key, keep it strictly increasing
	at := time.Now().UTC().Truncate(time.Microsecond)
	if !at.After(w.lastAt) {
		at = w.lastAt.Add(time.Microsecond)
	}
	w.lastAt = at

	id, _, err := w.Store.EnqueueUnique(ctx, JobStrategyRun, at, StrategyRunPayload{File: path})
	if err != nil {
		return "", err
	}
	w.enqueued++
	w.Logger.Info("inbox request queued", zap.String("file", filepath.Base(path)), zap.String("job_id", id))
	return id, nil
}

// recordVersion stores the file's hash and mtime and reports whether they
// differ from what was stored before.
func (w *InboxWatcher) recordVersion(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	hash, err := hashFile(path)
	if err != nil {
		return false, fmt.Errorf("hash file: %w", err)
	}

	key := "inbox:" + path
	raw, err := w.Store.GetKV(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get watch state: %w", err)
	}
	var prev WatchState
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &prev); err != nil {
			return false, fmt.Errorf("parse watch state: %w", err)
		}
	}

	modTime := info.ModTime().UTC().Format(time.RFC3339Nano)
	if prev.Hash == hash && prev.ModTime == modTime {
		return false, nil
	}
	next, err := json.Marshal(WatchState{
		Path:     path,
		ModTime:  modTime,
		Hash:     hash,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("marshal watch state: %w", err)
	}
	if err := w.Store.SetKV(ctx, key, string(next)); err != nil {
		return false, fmt.Errorf("save watch state: %w", err)
	}
	return true, nil
}

func isRequestFile(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
