package job_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushlane/pushlane/internal/job"
)

func newTestRunner() *job.Runner {
	return job.NewRunner(job.RunnerConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
}

func TestRunner_RunsJobsInOrder(t *testing.T) {
	r := newTestRunner()

	var mu sync.Mutex
	var seen []string
	r.Start(context.Background(), job.HandlerFunc(func(_ context.Context, j job.Job) job.Result {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, j.Action)
		return job.Finished
	}))
	defer r.Stop()

	r.Dispatch(job.New("a"))
	r.Dispatch(job.New("b"))
	r.Dispatch(job.New("c"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestRunner_RetriesUntilFinished(t *testing.T) {
	r := newTestRunner()

	var calls atomic.Int32
	r.Start(context.Background(), job.HandlerFunc(func(context.Context, job.Job) job.Result {
		if calls.Add(1) < 3 {
			return job.Retry
		}
		return job.Finished
	}))
	defer r.Stop()

	r.Dispatch(job.New("flaky"))

	require.Eventually(t, func() bool {
		return calls.Load() == 3
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunner_OneJobAtATime(t *testing.T) {
	r := newTestRunner()

	var running, maxRunning, done atomic.Int32
	r.Start(context.Background(), job.HandlerFunc(func(context.Context, job.Job) job.Result {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return job.Finished
	}))
	defer r.Stop()

	for i := 0; i < 5; i++ {
		r.Dispatch(job.New("work"))
	}

	require.Eventually(t, func() bool {
		return done.Load() == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestRunner_DropsAfterStop(t *testing.T) {
	r := newTestRunner()

	var calls atomic.Int32
	r.Start(context.Background(), job.HandlerFunc(func(context.Context, job.Job) job.Result {
		calls.Add(1)
		return job.Finished
	}))
	r.Stop()

	r.Dispatch(job.New("late"))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRecordingDispatcher_Drain(t *testing.T) {
	d := &job.RecordingDispatcher{}
	d.Dispatch(job.New("first"))

	h := job.HandlerFunc(func(_ context.Context, j job.Job) job.Result {
		if j.Action == "first" {
			d.Dispatch(job.New("second"))
			return job.Retry
		}
		return job.Finished
	})

	actions, results := d.Drain(context.Background(), h, 10)
	assert.Equal(t, []string{"first", "second"}, actions)
	assert.Equal(t, []job.Result{job.Retry, job.Finished}, results)
	assert.Empty(t, d.Jobs())
}
