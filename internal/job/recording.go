package job

import (
	"context"
	"sync"
)

// RecordingDispatcher records dispatched jobs without running them.
type RecordingDispatcher struct {
	mu   sync.Mutex
	jobs []Job
}

// Dispatch records j.
func (d *RecordingDispatcher) Dispatch(j Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, j)
}

// Jobs returns the recorded jobs in dispatch order.
func (d *RecordingDispatcher) Jobs() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Job, len(d.jobs))
	copy(out, d.jobs)
	return out
}

// Actions returns the recorded actions in dispatch order.
func (d *RecordingDispatcher) Actions() []string {
	jobs := d.Jobs()
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Action
	}
	return out
}

// Reset forgets recorded jobs.
func (d *RecordingDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = nil
}

// Drain runs recorded jobs through h in FIFO order, including jobs dispatched
// while draining, until none remain or limit jobs have run. Retry results are
// not rescheduled. It returns the actions run and their results.
func (d *RecordingDispatcher) Drain(ctx context.Context, h Handler, limit int) ([]string, []Result) {
	var actions []string
	var results []Result
	for len(actions) < limit {
		d.mu.Lock()
		if len(d.jobs) == 0 {
			d.mu.Unlock()
			break
		}
		j := d.jobs[0]
		d.jobs = d.jobs[1:]
		d.mu.Unlock()

		actions = append(actions, j.Action)
		results = append(results, h.Handle(ctx, j))
	}
	return actions, results
}

var _ Dispatcher = (*RecordingDispatcher)(nil)
