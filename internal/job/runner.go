package job

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RunnerConfig holds configuration for the job runner.
type RunnerConfig struct {
	// InitialInterval is the first retry delay.
	// Default: 10 seconds
	InitialInterval time.Duration

	// MaxInterval caps the retry delay.
	// Default: 5 minutes
	MaxInterval time.Duration

	Logger zerolog.Logger
}

// Runner executes jobs one at a time on a single worker goroutine and
// reschedules jobs that ask to be retried.
type Runner struct {
	cfg    RunnerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	pending  []Job
	backoffs map[string]backoff.BackOff
	timers   map[string]*time.Timer
	started  bool
	stopped  bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a new runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 10 * time.Second
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Minute
	}

	return &Runner{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "job_runner").Logger(),
		backoffs: make(map[string]backoff.BackOff),
		timers:   make(map[string]*time.Timer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Dispatch queues j. A fresh dispatch supersedes a pending retry of the same action.
func (r *Runner) Dispatch(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		r.logger.Warn().Str("action", j.Action).Msg("runner stopped, dropping job")
		return
	}
	if t, ok := r.timers[j.Action]; ok {
		t.Stop()
		delete(r.timers, j.Action)
	}
	r.enqueueLocked(j)
}

func (r *Runner) enqueueLocked(j Job) {
	r.pending = append(r.pending, j)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start runs the worker loop until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context, h Handler) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	go r.loop(ctx, h)
}

// Stop halts the worker and cancels pending retries. Jobs dispatched afterwards are dropped.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for action, t := range r.timers {
		t.Stop()
		delete(r.timers, action)
	}
	cancel := r.cancel
	started := r.started
	r.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-r.done
}

func (r *Runner) loop(ctx context.Context, h Handler) {
	defer close(r.done)

	for {
		j, ok := r.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
				continue
			}
		}

		if ctx.Err() != nil {
			return
		}
		r.run(ctx, h, j)
	}
}

func (r *Runner) next() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return Job{}, false
	}
	j := r.pending[0]
	r.pending = r.pending[1:]
	return j, true
}

func (r *Runner) run(ctx context.Context, h Handler, j Job) {
	start := time.Now()
	result := h.Handle(ctx, j)

	logger := r.logger.With().
		Str("action", j.Action).
		Str("result", result.String()).
		Dur("duration", time.Since(start)).
		Logger()

	r.mu.Lock()
	defer r.mu.Unlock()

	if result != Retry {
		if b, ok := r.backoffs[j.Action]; ok {
			b.Reset()
		}
		logger.Debug().Msg("job finished")
		return
	}

	if r.stopped {
		return
	}

	b, ok := r.backoffs[j.Action]
	if !ok {
		b = r.newBackOff()
		r.backoffs[j.Action] = b
	}
	delay := b.NextBackOff()
	logger.Info().Dur("delay", delay).Msg("job scheduled for retry")

	if t, ok := r.timers[j.Action]; ok {
		t.Stop()
	}
	r.timers[j.Action] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.stopped {
			return
		}
		delete(r.timers, j.Action)
		r.enqueueLocked(j)
	})
}

func (r *Runner) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

var _ Dispatcher = (*Runner)(nil)
