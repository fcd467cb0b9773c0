// Package offload optionally runs CPU-bound work (parsing, validation) on a
// small worker pool instead of the calling goroutine. It is feature-flagged
// and defaults to off.
//
// Submission never blocks on a busy pool and never uses errors for control
// flow: Submit returns a tagged result and the caller branches on it,
// falling back to synchronous in-process execution. The externally observed
// result is identical on either path.
package offload

import (
	"time"

	"go.uber.org/zap"

	"github.com/valpere/pseudotran/internal"
)

// Task is one CPU-bound unit of work.
type Task func() any

// Outcome tags a Submit result.
type Outcome int

const (
	// Completed: the pool ran the task; Value holds its result.
	Completed Outcome = iota
	// Fallback: the pool was disabled, saturated, or timed out; the caller
	// must run the task in-process.
	Fallback
)

// Result is the tagged outcome of a pool submission.
type Result struct {
	Outcome Outcome
	Value   any
}

type job struct {
	task Task
	done chan any
}

// Executor is the worker pool. A disabled executor gates everything to the
// synchronous path; Submit on it always returns Fallback.
type Executor struct {
	enabled   bool
	threshold int
	jobs      chan job
	quit      chan struct{}
	log       *zap.SugaredLogger
}

// New creates an Executor. When opts.ProcessPoolEnabled is false no workers
// are started. A nil logger is replaced with a no-op logger.
func New(opts internal.Options, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts = opts.WithDefaults()

	e := &Executor{
		enabled:   opts.ProcessPoolEnabled,
		threshold: opts.OffloadThreshold,
		log:       log,
	}
	if !e.enabled {
		return e
	}

	e.jobs = make(chan job, opts.PoolSize)
	e.quit = make(chan struct{})
	for i := 0; i < opts.PoolSize; i++ {
		go e.worker()
	}
	e.log.Debugw("offload pool started", "workers", opts.PoolSize, "threshold", e.threshold)
	return e
}

func (e *Executor) worker() {
	for {
		select {
		case j := <-e.jobs:
			j.done <- j.task()
		case <-e.quit:
			return
		}
	}
}

// Gate reports whether work of the given input size should be offloaded.
func (e *Executor) Gate(inputSize int) bool {
	return e.enabled && inputSize >= e.threshold
}

// Submit offers the task to the pool. A saturated or disabled pool yields an
// immediate Fallback; a task that misses the timeout is abandoned (the worker
// finishes into the buffered done channel) and Fallback is returned so the
// caller retries in-process.
func (e *Executor) Submit(task Task, timeout time.Duration) Result {
	if !e.enabled {
		return Result{Outcome: Fallback}
	}

	j := job{task: task, done: make(chan any, 1)}
	select {
	case e.jobs <- j:
	default:
		e.log.Debugw("offload pool saturated, falling back")
		return Result{Outcome: Fallback}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-j.done:
		return Result{Outcome: Completed, Value: v}
	case <-timer.C:
		e.log.Warnw("offload task timed out, falling back", "timeout", timeout)
		return Result{Outcome: Fallback}
	}
}

// Close stops the workers. Queued tasks are dropped; in-flight tasks finish
// into their buffered channels.
func (e *Executor) Close() {
	if e.enabled {
		close(e.quit)
	}
}

// Run executes fn either on the pool (when the gate passes and the pool
// accepts it) or synchronously in-process. Exactly one execution path
// produces the returned value, and the value does not depend on the path.
func Run[T any](e *Executor, inputSize int, timeout time.Duration, fn func() T) T {
	if e != nil && e.Gate(inputSize) {
		res := e.Submit(func() any { return fn() }, timeout)
		if res.Outcome == Completed {
			return res.Value.(T)
		}
	}
	return fn()
}
