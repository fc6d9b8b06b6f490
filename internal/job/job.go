// Package job provides the serial job substrate that drives registration work.
package job

import "context"

// Actions understood by the agent.
const (
	ActionStartRegistration         = "start_registration"
	ActionUpdatePushRegistration    = "update_push_registration"
	ActionUpdateChannelRegistration = "update_channel_registration"
	ActionUpdateChannelTags         = "update_channel_tags"
	ActionUpdateNamedUser           = "update_named_user"
	ActionUpdateNamedUserTags       = "update_named_user_tags"
)

// Job is a unit of work identified by its action.
type Job struct {
	Action string
	Extras map[string]string
}

// New creates a job for action.
func New(action string) Job {
	return Job{Action: action}
}

// Result is the outcome of running a job.
type Result int

const (
	// Finished means the job is done, successfully or permanently failed.
	Finished Result = iota
	// Retry means the job should run again later with backoff.
	Retry
)

func (r Result) String() string {
	switch r {
	case Finished:
		return "finished"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Handler runs jobs.
type Handler interface {
	Handle(ctx context.Context, j Job) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j Job) Result

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, j Job) Result {
	return f(ctx, j)
}

// Dispatcher schedules jobs for asynchronous execution.
type Dispatcher interface {
	Dispatch(j Job)
}
