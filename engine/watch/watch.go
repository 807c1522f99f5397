package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/posebridge/engine/batch"
	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/store"
)

// DefaultSettle is how long a file must stay untouched before it is
// converted. Writers usually emit several events per file.
const DefaultSettle = 500 * time.Millisecond

type Options struct {
	Settle    time.Duration
	OutputExt string
	// Existing converts the files already present when the watch starts.
	Existing bool
	// OnConverted is called after every conversion, successful or not.
	OnConverted func(batch.JobResult)
}

// Watcher converts new or modified array files below a source directory
// into the mirrored location below a destination directory.
type Watcher struct {
	src, dst string
	task     batch.Task
	opts     Options

	fsnotify *fsnotify.Watcher
	metrics  *core.Metrics
	runID    string

	mutex   sync.Mutex
	pending map[string]*settleTimer
	serial  uint64
	ready   chan string
	done    chan struct{}
}

func New(src, dst string, task batch.Task, opts Options) (*Watcher, error) {
	st, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("watch: source %s: %w", src, core.ErrNotFound)
		}
		return nil, fmt.Errorf("watch: source %s: %w", src, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("watch: source %s is not a directory: %w", src, core.ErrFormatMismatch)
	}
	// outputs inside the source would be picked up again
	if rel, err := filepath.Rel(src, dst); err == nil && !strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("watch: destination %s is inside %s: %w", dst, src, core.ErrConfiguration)
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		src:      src,
		dst:      dst,
		task:     task,
		opts:     opts,
		fsnotify: fsWatch,
		metrics:  core.NewMetrics(),
		runID:    core.NewRunID(),
		pending:  make(map[string]*settleTimer),
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
	}, nil
}

func (w *Watcher) Metrics() *core.Metrics {
	return w.metrics
}

// watchRecursive adds every directory below path to the watch list. Files
// already present are scheduled when existing is set.
func (w *Watcher) watchRecursive(path string, existing bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		if existing {
			w.schedule(walkPath)
		}
		return nil
	})
}

// settleTimer is the pending conversion of one path. id tells a timer that
// already fired apart from the one that replaced it.
type settleTimer struct {
	timer *time.Timer
	id    uint64
}

// schedule replaces the settle timer of path with a fresh one.
func (w *Watcher) schedule(path string) {
	if !store.IsSupported(path) {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	w.serial++
	id := w.serial
	w.pending[path] = &settleTimer{
		id:    id,
		timer: time.AfterFunc(w.opts.Settle, func() { w.settled(path, id) }),
	}
}

// settled queues path unless its timer was replaced or cancelled after it
// fired.
func (w *Watcher) settled(path string, id uint64) {
	w.mutex.Lock()
	p, ok := w.pending[path]
	if !ok || p.id != id {
		w.mutex.Unlock()
		return
	}
	delete(w.pending, path)
	w.mutex.Unlock()

	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Watcher) cancel(path string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) stopPending() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) handleEvent(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			// files created before the watch was added are picked up here
			if err := w.watchRecursive(e.Name, true); err != nil {
				core.LogWarn("watch %s: %v", e.Name, err)
			}
			return
		}
	}
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		w.schedule(e.Name)
	}
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		w.cancel(e.Name)
	}
}

func (w *Watcher) convert(in string) error {
	out, err := batch.MirrorPath(w.src, w.dst, in, w.opts.OutputExt)
	if err != nil {
		return err
	}
	clock := core.NewClock()
	clock.Start()
	err = w.task(in, out)
	result := batch.JobResult{Input: in, Output: out, Elapsed: clock.Stop(), Err: err}
	w.metrics.Record(result.Elapsed, err == nil)
	if err != nil {
		core.LogError("watch %s: %s: %v", core.ShortID(w.runID), in, err)
	} else {
		core.LogInfo("watch %s: converted %s to %s", core.ShortID(w.runID), in, out)
	}
	if w.opts.OnConverted != nil {
		w.opts.OnConverted(result)
	}
	return err
}

/**
 * @brief Watches until ctx is done. Conversions run one at a time in the
 * calling goroutine. A configuration error ends the watch and is returned.
 */
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsnotify.Close()
	defer w.stopPending()
	defer close(w.done)

	if err := w.watchRecursive(w.src, w.opts.Existing); err != nil {
		return err
	}
	core.LogInfo("watch %s: watching %s", core.ShortID(w.runID), w.src)

	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return nil
			}
			w.handleEvent(e)

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return nil
			}
			core.LogError("watch %s: %v", core.ShortID(w.runID), err)

		case path := <-w.ready:
			if err := w.convert(path); core.IsFatal(err) {
				return err
			}

		case <-ctx.Done():
			ok, failed := w.metrics.Counts()
			core.LogInfo("watch %s: stopped, %d converted, %d failed", core.ShortID(w.runID), ok, failed)
			return nil
		}
	}
}
