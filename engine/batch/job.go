package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/posebridge/engine/core"
)

// Task converts one input file into one output file.
type Task func(inputPath, outputPath string) error

/** @brief Outcome of one job, handed to the completion callbacks. */
type JobResult struct {
	Input   string
	Output  string
	Elapsed time.Duration
	Err     error
}

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	Input  string
	Output string
	/** @brief Invoked when the job starts. Required. */
	OnStart Task
	/** @brief Invoked when OnStart succeeds. Optional. */
	OnComplete func(JobResult)
	/** @brief Invoked when OnStart fails. Optional. */
	OnFailure func(JobResult)
	/** @brief Invoked after either of the above. Optional. */
	OnCompletionCallback func()
}

// JobSystem runs submitted jobs on a fixed number of workers. Every job is
// self contained: workers share nothing but the queue.
type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

// ErrTaskPanic marks a job whose task panicked. The worker survives it.
var ErrTaskPanic = fmt.Errorf("task panicked")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			clock := core.NewClock()
			for job := range js.jobQueue {
				clock.Start()
				err := runTask(job)
				result := JobResult{Input: job.Input, Output: job.Output, Elapsed: clock.Stop(), Err: err}
				if err != nil {
					core.LogError("job %s: %v", job.Input, err)
					if job.OnFailure != nil {
						job.OnFailure(result)
					}
				} else if job.OnComplete != nil {
					job.OnComplete(result)
				}

				if job.OnCompletionCallback != nil {
					job.OnCompletionCallback()
				}
			}
		}()
	}
}

/**
 * @brief Stops accepting jobs and waits for the queued ones to finish.
 */
func (js *JobSystem) Shutdown() error {
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.jobQueue <- jt
}

// runTask turns a panic inside a task into an error for that job only.
func runTask(job JobTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s: %w: %v", job.Input, ErrTaskPanic, r)
		}
	}()
	return job.OnStart(job.Input, job.Output)
}
