package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queryvault/queryvault/internal/observability"
	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/site"
)

type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// ErrJobNotFound distinguishes "this job never existed or was already reaped"
// from "still pending"; callers must not keep polling after seeing it.
var ErrJobNotFound = errors.New("jobs: job not found")

// Request carries everything needed to finish the save pipeline once the
// execution completes, possibly on a later poll request.
type Request struct {
	Parsed           query.ParsedQuery
	Site             site.Site
	RequesterID      *int64
	OwnerIP          string
	Title            string
	Description      string
	ParentRevisionID int64
	TextResults      bool
}

// Status is the outcome of a Submit or Poll. Results is set on Success, Err
// on Failure; JobID only when the execution went to the background.
type Status struct {
	State   State
	JobID   string
	Request Request
	Results *query.QueryResults
	Err     error
}

// ExecuteFunc performs the actual query execution for a job.
type ExecuteFunc func(ctx context.Context, request Request) (*query.QueryResults, error)

type Config struct {
	// InlineWait bounds how long Submit blocks hoping to answer synchronously.
	InlineWait time.Duration
	// MaxAge reaps jobs that were never polled to a terminal state.
	MaxAge time.Duration
	// ReapInterval is the reaper tick.
	ReapInterval time.Duration
	// ReapGrace keeps a terminally-observed job around briefly so retried
	// polls see the identical payload.
	ReapGrace time.Duration
}

type job struct {
	id        string
	request   Request
	createdAt time.Time
	done      chan struct{}

	// written by the worker before done is closed
	results *query.QueryResults
	err     error

	// guarded by Runner.mu
	observedAt time.Time
}

// Runner wraps query execution with job semantics: bounded inline wait,
// background hand-off under a generated identifier, and non-blocking polls.
type Runner struct {
	Execute ExecuteFunc
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

func NewRunner(execute ExecuteFunc, cfg Config, logger *slog.Logger) *Runner {
	if cfg.InlineWait <= 0 {
		cfg.InlineWait = 900 * time.Millisecond
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.ReapGrace <= 0 {
		cfg.ReapGrace = 5 * time.Second
	}
	return &Runner{
		Execute: execute,
		Config:  cfg,
		Logger:  logger,
		jobs:    map[string]*job{},
	}
}

// Submit starts the execution on its own worker and waits up to InlineWait
// for it to finish. Fast executions complete synchronously; slow ones are
// registered under a fresh job id and reported Pending.
func (r *Runner) Submit(ctx context.Context, request Request) Status {
	entry := &job{
		id:        uuid.NewString(),
		request:   request,
		createdAt: r.now(),
		done:      make(chan struct{}),
	}

	// The job must outlive the originating request.
	workerCtx := context.WithoutCancel(ctx)
	go func() {
		results, err := r.Execute(workerCtx, request)
		entry.results = results
		entry.err = err
		close(entry.done)
	}()

	timer := time.NewTimer(r.Config.InlineWait)
	defer timer.Stop()

	select {
	case <-entry.done:
		observability.IncrementInlineCompletion()
		return statusFor(entry, "")
	case <-timer.C:
	}

	r.mu.Lock()
	r.jobs[entry.id] = entry
	tracked := len(r.jobs)
	r.mu.Unlock()

	observability.IncrementJobStarted()
	observability.SetTrackedJobs(tracked)
	if r.Logger != nil {
		r.Logger.InfoContext(ctx, "query moved to background job",
			slog.String("job_id", entry.id), slog.String("site", request.Site.Name))
	}
	return Status{State: StatePending, JobID: entry.id, Request: request}
}

// Poll reports a job's state without blocking. Terminal payloads are stable
// across repeated polls until the reaper removes the job.
func (r *Runner) Poll(jobID string) (Status, error) {
	r.mu.Lock()
	entry, ok := r.jobs[jobID]
	if ok {
		select {
		case <-entry.done:
			if entry.observedAt.IsZero() {
				entry.observedAt = r.now()
			}
		default:
			r.mu.Unlock()
			return Status{State: StatePending, JobID: jobID, Request: entry.request}, nil
		}
	}
	r.mu.Unlock()

	if !ok {
		return Status{}, ErrJobNotFound
	}
	return statusFor(entry, jobID), nil
}

// Run drives the reaper until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reaped, tracked := r.ReapOnce()
			if reaped > 0 && r.Logger != nil {
				r.Logger.DebugContext(ctx, "reaped jobs",
					slog.Int("reaped", reaped), slog.Int("tracked", tracked))
			}
		}
	}
}

// ReapOnce removes jobs that were observed terminal (past the grace period)
// or that exceeded MaxAge without ever being polled to completion.
func (r *Runner) ReapOnce() (reaped, tracked int) {
	now := r.now()

	r.mu.Lock()
	for id, entry := range r.jobs {
		expired := now.Sub(entry.createdAt) >= r.Config.MaxAge
		observed := !entry.observedAt.IsZero() && now.Sub(entry.observedAt) >= r.Config.ReapGrace
		if expired || observed {
			delete(r.jobs, id)
			reaped++
		}
	}
	tracked = len(r.jobs)
	r.mu.Unlock()

	observability.IncrementJobsReaped(reaped)
	observability.SetTrackedJobs(tracked)
	return reaped, tracked
}

func statusFor(entry *job, jobID string) Status {
	if entry.err != nil {
		return Status{State: StateFailure, JobID: jobID, Request: entry.request, Err: entry.err}
	}
	return Status{State: StateSuccess, JobID: jobID, Request: entry.request, Results: entry.results}
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
