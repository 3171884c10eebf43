package systems

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/dozen/engine/core"
)

/**
 * @brief Describes a job to be run. Run is required; OnSuccess and OnFailure
 * are optional and called on the worker once Run returned.
 */
type JobTask struct {
	Name      string
	Run       func(ctx context.Context) error
	OnSuccess func()
	OnFailure func(err error)
}

// JobSystem runs jobs on a fixed set of workers. Recording command buffers
// from several workers is the main user: each worker only touches the
// command buffers of its own job.
type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	pending    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	errs []error
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(ctx context.Context, numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}
	ctx, cancel := context.WithCancel(ctx)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	defer js.pending.Done()

	err := js.ctx.Err()
	if err == nil {
		err = job.Run(js.ctx)
	}
	if err != nil {
		core.LogError("job %s failed: %s", job.Name, err)
		js.mu.Lock()
		js.errs = append(js.errs, core.Wrap(err, "job %s", job.Name))
		js.mu.Unlock()
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnSuccess != nil {
		job.OnSuccess()
	}
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the
 * queue is full.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.pending.Add(1)
	js.jobQueue <- jt
}

// Wait blocks until every submitted job ran and returns the first failure.
// Failures are cleared.
func (js *JobSystem) Wait() error {
	js.pending.Wait()
	js.mu.Lock()
	defer js.mu.Unlock()
	var err error
	if len(js.errs) > 0 {
		err = js.errs[0]
	}
	js.errs = nil
	return err
}

/**
 * @brief Shuts the job system down. Queued jobs that did not start yet fail
 * with the cancellation error.
 */
func (js *JobSystem) Shutdown() error {
	js.cancel()
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}
