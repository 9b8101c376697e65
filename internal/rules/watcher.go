package rules

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last change before
// reloading. Editors typically emit several events per save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the engine when a policy file in the policy directory is
// written, created, removed or renamed. When the directory does not exist yet
// its parent is watched until it appears.
type Watcher struct {
	engine *Engine
	fs     *fsnotify.Watcher
	dir    string

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	debounce     time.Duration
	mu           sync.Mutex
	pendingTimer *time.Timer
	changed      map[string]struct{}
	waitingDir   bool
}

// NewWatcher creates a watcher for the engine's policy directory.
func NewWatcher(engine *Engine) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		engine:   engine,
		fs:       fsw,
		dir:      engine.GetLoader().GetUserDir(),
		stopChan: make(chan struct{}),
		debounce: DefaultDebounce,
	}, nil
}

// Start begins watching in the background. A missing policy directory is not
// an error.
func (w *Watcher) Start() error {
	if w.dir == "" {
		log.Warn("No policy directory configured, watcher not started")
		return nil
	}

	if _, err := os.Stat(w.dir); os.IsNotExist(err) {
		parent := filepath.Dir(w.dir)
		if err := w.fs.Add(parent); err != nil {
			log.Warn("Cannot watch %s for the policy directory: %v", parent, err)
			return nil
		}
		w.mu.Lock()
		w.waitingDir = true
		w.mu.Unlock()
		log.Info("Policy directory %s does not exist yet, waiting for it", w.dir)
	} else if err := w.fs.Add(w.dir); err != nil {
		log.Warn("Cannot watch policy directory: %v", err)
		return nil
	} else {
		log.Info("Watching policy directory: %s", w.dir)
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()

		w.mu.Lock()
		if w.pendingTimer != nil {
			w.pendingTimer.Stop()
		}
		w.mu.Unlock()

		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn("Watcher error: %v", err)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	waiting := w.waitingDir
	w.mu.Unlock()

	if waiting {
		if filepath.Clean(event.Name) == filepath.Clean(w.dir) && event.Op.Has(fsnotify.Create) {
			w.dirAppeared()
		}
		return
	}

	if !isPolicyFile(event.Name) {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	log.Debug("Policy file changed: %s (%s)", filepath.Base(event.Name), event.Op)
	w.scheduleReload(filepath.Base(event.Name))
}

// dirAppeared switches from the parent to the policy directory itself. Files
// may already have been written before the watch was added, so a reload is
// scheduled unconditionally.
func (w *Watcher) dirAppeared() {
	if err := w.fs.Add(w.dir); err != nil {
		log.Warn("Cannot watch policy directory: %v", err)
		return
	}
	_ = w.fs.Remove(filepath.Dir(w.dir))

	w.mu.Lock()
	w.waitingDir = false
	w.mu.Unlock()

	log.Info("Policy directory created, watching %s", w.dir)
	w.scheduleReload("")
}

func (w *Watcher) scheduleReload(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if file != "" {
		if w.changed == nil {
			w.changed = make(map[string]struct{})
		}
		w.changed[file] = struct{}{}
	}
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.doReload)
}

func (w *Watcher) doReload() {
	w.mu.Lock()
	files := make([]string, 0, len(w.changed))
	for f := range w.changed {
		files = append(files, f)
	}
	w.changed = nil
	w.mu.Unlock()

	sort.Strings(files)
	if len(files) > 0 {
		log.Info("Reloading policies (%s changed)", strings.Join(files, ", "))
	} else {
		log.Info("Reloading policies")
	}
	if err := w.engine.Reload(); err != nil {
		log.Error("Failed to reload policies: %v", err)
	}
}
