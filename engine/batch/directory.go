package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/store"
)

type Options struct {
	/** @brief Number of parallel workers, defaults to the number of CPUs. */
	Workers int
	/** @brief Replaces the extension of every output file when set, e.g. ".npz". */
	OutputExt string
}

// Failure records one file that could not be converted.
type Failure struct {
	Path string
	Err  error
}

// Report summarizes a directory run.
type Report struct {
	RunID     string
	Succeeded int
	Failed    int
	Failures  []Failure
	Elapsed   time.Duration
	Metrics   *core.Metrics
}

func (r *Report) String() string {
	return fmt.Sprintf("run %s: %d succeeded, %d failed in %s", core.ShortID(r.RunID), r.Succeeded, r.Failed, r.Elapsed.Round(time.Millisecond))
}

// MirrorPath maps a file below src onto the same relative location below dst.
func MirrorPath(src, dst, path, outputExt string) (string, error) {
	rel, err := filepath.Rel(src, path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("batch: %s is outside %s", path, src)
	}
	out := filepath.Join(dst, rel)
	if outputExt != "" {
		out = strings.TrimSuffix(out, filepath.Ext(out)) + outputExt
	}
	return out, nil
}

// Collect lists every supported file below src in lexical order.
func Collect(src string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && store.IsSupported(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

/**
 * @brief Converts every supported file below src into the mirrored location
 * below dst. Per file failures are recorded and the run continues; a
 * configuration error stops the run and is returned.
 */
func ConvertDirectory(ctx context.Context, src, dst string, task Task, opts Options) (*Report, error) {
	st, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("batch: source %s: %w", src, core.ErrNotFound)
		}
		return nil, fmt.Errorf("batch: source %s: %w", src, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("batch: source %s is not a directory: %w", src, core.ErrFormatMismatch)
	}
	files, err := Collect(src)
	if err != nil {
		return nil, fmt.Errorf("batch: walk %s: %w", src, err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	js, err := NewJobSystem(workers, workers)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: core.NewRunID(), Metrics: core.NewMetrics()}
	core.LogInfo("run %s: converting %d files from %s to %s with %d workers", core.ShortID(report.RunID), len(files), src, dst, workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mutex sync.Mutex
		fatal error
	)
	onComplete := func(r JobResult) {
		report.Metrics.Record(r.Elapsed, true)
	}
	onFailure := func(r JobResult) {
		report.Metrics.Record(r.Elapsed, false)
		mutex.Lock()
		defer mutex.Unlock()
		report.Failures = append(report.Failures, Failure{Path: r.Input, Err: r.Err})
		if core.IsFatal(r.Err) && fatal == nil {
			fatal = r.Err
			cancel()
		}
	}

	clock := core.NewClock()
	clock.Start()
submit:
	for _, in := range files {
		out, err := MirrorPath(src, dst, in, opts.OutputExt)
		if err != nil {
			onFailure(JobResult{Input: in, Err: err})
			continue
		}
		select {
		case <-ctx.Done():
			break submit
		default:
		}
		js.Submit(JobTask{Input: in, Output: out, OnStart: task, OnComplete: onComplete, OnFailure: onFailure})
	}
	_ = js.Shutdown()
	report.Elapsed = clock.Stop()

	report.Succeeded, report.Failed = report.Metrics.Counts()
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Path < report.Failures[j].Path })
	core.LogInfo("%s (%.1f files/s, %s per file)", report, report.Metrics.FilesPerSecond(), report.Metrics.AverageDuration())

	if fatal != nil {
		return report, fmt.Errorf("batch: run %s aborted: %w", core.ShortID(report.RunID), fatal)
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}
