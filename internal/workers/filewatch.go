package workers

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
)

// syncPassInterval is the default cadence at which FileWatchingWorker
// reconciles its watcher set against the active subscription list
// (spec.md §4.8 "default 30s").
const syncPassInterval = 30 * time.Second

const maxBackoff = 5 * time.Minute

// FileWatchingWorker implements spec.md §4.8's file watching worker: one
// native recursive watcher per active, eligible subscription, converting
// every filesystem event into a debouncer Record call.
//
// Grounded on github.com/fsnotify/fsnotify for the watcher itself; the
// sync-pass/backoff loop follows the teacher's worker-loop shape
// generalized from a single poll to a per-subscription watcher set.
type FileWatchingWorker struct {
	Enabled       bool
	Subscriptions repo.Subscriptions
	Recorder      Recorder
	Publisher     *realtime.Publisher

	mu       sync.Mutex
	watchers map[model.ID]*subscriptionWatch
	backoff  map[model.ID]backoffState
}

type subscriptionWatch struct {
	watcher *fsnotify.Watcher
	root    string
	cancel  context.CancelFunc
}

// backoffState survives a watcher's disposal so repeated failures keep
// growing the delay instead of resetting every sync pass (spec.md §4.8
// "repeated failures back off exponentially, capped at 5 minutes").
type backoffState struct {
	failures    int
	nextAttempt time.Time
}

// Run blocks, running sync passes until ctx is cancelled.
func (w *FileWatchingWorker) Run(ctx context.Context) {
	if !w.Enabled {
		return
	}
	w.watchers = make(map[model.ID]*subscriptionWatch)
	w.backoff = make(map[model.ID]backoffState)

	ticker := time.NewTicker(syncPassInterval)
	defer ticker.Stop()

	w.syncPass(ctx)
	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			return
		case <-ticker.C:
			w.syncPass(ctx)
		}
	}
}

// syncPass implements spec.md §4.8's "add watchers for newly-active
// subscriptions; remove watchers for subscriptions that have become
// ineligible (paused, deleted, option disabled, path changed)."
func (w *FileWatchingWorker) syncPass(ctx context.Context) {
	subs, err := w.Subscriptions.ListActive(ctx)
	if err != nil {
		log.Error("file watching worker: failed listing active subscriptions", "error", err)
		return
	}

	eligible := make(map[model.ID]model.Subscription)
	for _, sub := range subs {
		if sub.Options.CompareOnFileChange {
			eligible[sub.ID] = sub
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, watch := range w.watchers {
		sub, ok := eligible[id]
		if !ok || sub.Folder.Root != watch.root {
			w.stopWatchLocked(watch)
			delete(w.watchers, id)
		}
	}

	for id, sub := range eligible {
		if _, ok := w.watchers[id]; ok {
			continue
		}
		if state, ok := w.backoff[id]; ok && time.Now().Before(state.nextAttempt) {
			continue
		}
		w.startWatchLocked(ctx, sub)
	}
}

func (w *FileWatchingWorker) startWatchLocked(ctx context.Context, sub model.Subscription) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("file watching worker: failed creating watcher", "subscription", sub.ID, "error", err)
		return
	}
	if err := addRecursive(fw, sub.Folder.Root); err != nil {
		log.Warn("file watching worker: failed watching root", "subscription", sub.ID, "root", sub.Folder.Root, "error", err)
		fw.Close()
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watch := &subscriptionWatch{watcher: fw, root: sub.Folder.Root, cancel: cancel}
	w.watchers[sub.ID] = watch

	go w.watchLoop(watchCtx, sub.ID, watch)
}

// addRecursive registers fw on root and every subdirectory beneath it,
// since fsnotify watches are not recursive on their own.
func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *FileWatchingWorker) watchLoop(ctx context.Context, subscriptionID model.ID, watch *subscriptionWatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watch.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(subscriptionID, watch, event)
		case err, ok := <-watch.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("file watching worker: watcher error", "subscription", subscriptionID, "error", err)
			w.disposeOnFailure(subscriptionID, watch)
			return
		}
	}
}

// disposeOnFailure implements spec.md §4.8's watcher-error recovery:
// dispose the broken watcher, apply exponential backoff capped at five
// minutes, and let the next sync pass recreate it once the backoff
// window has elapsed.
func (w *FileWatchingWorker) disposeOnFailure(subscriptionID model.ID, watch *subscriptionWatch) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state := w.backoff[subscriptionID]
	state.failures++
	delay := time.Duration(1<<uint(state.failures-1)) * time.Second
	if delay > maxBackoff {
		delay = maxBackoff
	}
	state.nextAttempt = time.Now().Add(delay)
	w.backoff[subscriptionID] = state

	w.stopWatchLocked(watch)
	delete(w.watchers, subscriptionID)
}

// handleEvent converts a single fsnotify.Event into a debouncer Record
// call (spec.md §4.8): a rename is decomposed into deleted(old-path) +
// created(new-path). fsnotify reports a rename as a Rename op on the old
// path, so only the deletion half needs synthesizing here; the platform
// layer reports the corresponding Create on the new path separately. A
// newly created directory is added to the watch set so nested files are
// seen too.
func (w *FileWatchingWorker) handleEvent(subscriptionID model.ID, watch *subscriptionWatch, event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = addRecursive(watch.watcher, event.Name)
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(event.Name), ".sql") {
		return
	}

	var kind model.ChangeKind
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		kind = model.ChangeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		kind = model.ChangeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		kind = model.ChangeDeleted
	default:
		return
	}

	w.Recorder.Record(subscriptionID, event.Name, model.SourceFilesystem, kind, nil)
	w.Publisher.Publish(subscriptionID, realtime.EventFileChanged, map[string]any{
		"subscription-id": subscriptionID.String(),
		"path":             event.Name,
		"kind":             string(kind),
	})
}

func (w *FileWatchingWorker) stopWatchLocked(watch *subscriptionWatch) {
	watch.cancel()
	watch.watcher.Close()
}

func (w *FileWatchingWorker) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, watch := range w.watchers {
		w.stopWatchLocked(watch)
		delete(w.watchers, id)
	}
}
