package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/internal/store"
	"github.com/kodu-ai/kodu/pkg/types"
)

// Watcher observes the task's interested files and records a FileVersion
// snapshot whenever one changes on disk.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	workDir  string
	io       *store.IOManager
	bus      *event.Bus
	tracked  map[string]bool // relative path -> watched
	versions map[string]int  // relative path -> last recorded version
	contents map[string]string
	nowMilli func() int64

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewWatcher creates a watcher rooted at workDir, persisting versions through
// the task's IOManager.
func NewWatcher(workDir string, ioman *store.IOManager, bus *event.Bus, nowMilli func() int64) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		workDir:  workDir,
		io:       ioman,
		bus:      bus,
		tracked:  make(map[string]bool),
		versions: make(map[string]int),
		contents: make(map[string]string),
		nowMilli: nowMilli,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins dispatching filesystem events.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

// Track adds an interested file, recording its current content as the first
// version if the file exists.
func (w *Watcher) Track(relPath string) error {
	abs := filepath.Join(w.workDir, relPath)

	w.mu.Lock()
	already := w.tracked[relPath]
	w.tracked[relPath] = true
	w.mu.Unlock()
	if already {
		return nil
	}

	if data, err := os.ReadFile(abs); err == nil {
		w.record(relPath, string(data))
	}
	// Watch the directory; editors often replace files via rename, which
	// drops a watch set on the file itself.
	return w.watcher.Add(filepath.Dir(abs))
}

// Versions returns the last recorded version number for a tracked path.
func (w *Watcher) Versions(relPath string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.versions[relPath]
}

// Stop tears the watcher down.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.handleChange(ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) handleChange(absPath string) {
	rel, err := filepath.Rel(w.workDir, absPath)
	if err != nil {
		return
	}

	w.mu.Lock()
	interested := w.tracked[rel]
	w.mu.Unlock()
	if !interested {
		return
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return
	}
	w.record(rel, string(data))
}

// record persists the next version of a file and publishes the change with a
// compact diff summary.
func (w *Watcher) record(relPath, content string) {
	w.mu.Lock()
	if w.contents[relPath] == content && w.versions[relPath] > 0 {
		w.mu.Unlock()
		return
	}
	previous := w.contents[relPath]
	version := w.versions[relPath] + 1
	w.versions[relPath] = version
	w.contents[relPath] = content
	w.mu.Unlock()

	fv := types.FileVersion{
		Path:      relPath,
		Version:   version,
		Content:   content,
		CreatedAt: w.nowMilli(),
	}
	if err := w.io.SaveFileVersion(fv); err != nil {
		logging.Error().Err(err).Str("path", relPath).Msg("failed to save file version")
		return
	}

	logging.Debug().Str("path", relPath).Int("version", version).
		Str("diff", DiffSummary(previous, content)).Msg("file version recorded")

	if w.bus != nil {
		w.bus.Publish(event.Event{Type: event.FileVersionSaved, Data: event.FileVersionSavedData{
			TaskID: w.io.TaskID(), Path: relPath, Version: version,
		}})
	}
}

// DiffSummary reduces a content change to a "+adds/-dels" line-ish summary
// for logs and milestone commit messages.
func DiffSummary(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)

	var adds, dels int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			adds += len(d.Text)
		case diffmatchpatch.DiffDelete:
			dels += len(d.Text)
		}
	}
	return fmt.Sprintf("+%d/-%d", adds, dels)
}
