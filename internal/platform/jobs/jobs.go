// Package jobs runs long simulated work (model training) on a bounded pool of
// worker goroutines with per-job timeouts and cancellation.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	ErrNotFound     = errors.New("job not found")
	ErrFinished     = errors.New("job already finished")
	ErrQueueFull    = errors.New("job queue is full")
	ErrShuttingDown = errors.New("job registry is shutting down")
)

// Job is a snapshot of a registered job.
type Job struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Params      map[string]string `json:"params,omitempty"`
	Status      Status            `json:"status"`
	Progress    float64           `json:"progress"`
	Result      map[string]any    `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	SubmittedBy string            `json:"submittedBy"`
	SubmittedAt time.Time         `json:"submittedAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
}

// Func is the work of a job. It must return promptly once ctx is done.
// report publishes progress in [0,1].
type Func func(ctx context.Context, report func(progress float64)) (map[string]any, error)

type entry struct {
	job    Job
	fn     Func
	cancel context.CancelFunc
	// cancelRequested distinguishes user cancellation from timeouts.
	cancelRequested bool
}

// Config controls a Registry.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// OnTransition, if set, is called after every status change.
	OnTransition func(Job)
}

// Registry tracks submitted jobs and executes them on worker goroutines.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	queue   chan string
	cfg     Config
	logger  zerolog.Logger
	wg      sync.WaitGroup
	closed  bool
	baseCtx context.Context
	stopAll context.CancelFunc
	now     func() time.Time
}

// NewRegistry starts cfg.Workers workers.
func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		jobs:    make(map[string]*entry),
		queue:   make(chan string, cfg.QueueSize),
		cfg:     cfg,
		logger:  logger.With().Str("component", "jobs").Logger(),
		baseCtx: ctx,
		stopAll: cancel,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Submit registers a job and queues it for execution.
func (r *Registry) Submit(kind, submittedBy string, params map[string]string, fn Func) (Job, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Job{}, ErrShuttingDown
	}
	e := &entry{
		job: Job{
			ID:          uuid.NewString(),
			Kind:        kind,
			Params:      params,
			Status:      StatusSubmitted,
			SubmittedBy: submittedBy,
			SubmittedAt: r.now(),
		},
		fn: fn,
	}
	select {
	case r.queue <- e.job.ID:
	default:
		r.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	r.jobs[e.job.ID] = e
	snap := e.job
	r.mu.Unlock()

	r.notify(snap)
	r.logger.Info().Str("job_id", snap.ID).Str("kind", kind).Msg("job submitted")
	return snap, nil
}

func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return e.job, nil
}

// List returns all jobs of kind (all kinds when empty), newest first.
func (r *Registry) List(kind string) []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		if kind == "" || e.job.Kind == kind {
			out = append(out, e.job)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Cancel stops a queued or running job. Queued jobs are cancelled
// immediately; running jobs are cancelled once their Func returns.
func (r *Registry) Cancel(id string) (Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return Job{}, ErrNotFound
	}
	if e.job.Status.Terminal() {
		snap := e.job
		r.mu.Unlock()
		return snap, ErrFinished
	}

	e.cancelRequested = true
	var snap Job
	changed := false
	if e.job.Status == StatusSubmitted {
		now := r.now()
		e.job.Status = StatusCancelled
		e.job.FinishedAt = &now
		changed = true
	} else if e.cancel != nil {
		e.cancel()
	}
	snap = e.job
	r.mu.Unlock()

	if changed {
		r.notify(snap)
	}
	return snap, nil
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// drain. When ctx expires first, running jobs are cancelled and Shutdown
// waits for the workers to return.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stopAll()
		return nil
	case <-ctx.Done():
		r.stopAll()
		<-done
		return ctx.Err()
	}
}

func (r *Registry) worker() {
	defer r.wg.Done()
	for id := range r.queue {
		r.run(id)
	}
}

func (r *Registry) run(id string) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status != StatusSubmitted {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(r.baseCtx, r.cfg.Timeout)
	defer cancel()
	now := r.now()
	e.cancel = cancel
	e.job.Status = StatusRunning
	e.job.StartedAt = &now
	snap := e.job
	fn := e.fn
	r.mu.Unlock()
	r.notify(snap)

	report := func(p float64) {
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		r.mu.Lock()
		if e.job.Status == StatusRunning {
			e.job.Progress = p
		}
		r.mu.Unlock()
	}

	result, err := safeCall(ctx, fn, report)

	r.mu.Lock()
	finished := r.now()
	e.job.FinishedAt = &finished
	e.cancel = nil
	switch {
	case e.cancelRequested:
		e.job.Status = StatusCancelled
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		e.job.Status = StatusFailed
		e.job.Error = "timed out after " + r.cfg.Timeout.String()
	case err != nil && ctx.Err() != nil:
		e.job.Status = StatusCancelled
		e.job.Error = "interrupted by shutdown"
	case err != nil:
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	default:
		e.job.Status = StatusCompleted
		e.job.Progress = 1
		e.job.Result = result
	}
	snap = e.job
	r.mu.Unlock()

	r.notify(snap)
	evt := r.logger.Info()
	if snap.Status == StatusFailed {
		evt = r.logger.Warn().Str("error", snap.Error)
	}
	evt.Str("job_id", snap.ID).Str("status", string(snap.Status)).Msg("job finished")
}

func safeCall(ctx context.Context, fn Func, report func(float64)) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("job panicked")
		}
	}()
	return fn(ctx, report)
}

func (r *Registry) notify(j Job) {
	if r.cfg.OnTransition != nil {
		r.cfg.OnTransition(j)
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
