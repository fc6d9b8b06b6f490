// Package tagsync drains pending tag group mutations to the backend.
package tagsync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/tags"
	"github.com/pushlane/pushlane/internal/telemetry"
)

// Backend sends one tag group mutation for an audience.
type Backend interface {
	UpdateTagGroups(ctx context.Context, audience backend.Audience, m tags.Mutation) (*backend.Response, error)
}

// Config holds the driver's collaborators.
type Config struct {
	Backend Backend
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
}

// Driver sends queued mutations one at a time, head first.
type Driver struct {
	backend Backend
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// New creates a new driver.
func New(cfg Config) *Driver {
	return &Driver{
		backend: cfg.Backend,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "tag_sync").Logger(),
	}
}

// Sync sends every pending mutation in q for audience. A mutation that gets
// no response or a server error is put back at the head and the job retried,
// unless q was cleared in the meantime because the audience changed.
func (d *Driver) Sync(ctx context.Context, audience backend.Audience, q *tags.Queue) job.Result {
	logger := d.logger.With().Str("selector", audience.Selector).Str("audience_id", audience.ID).Logger()

	for {
		if err := ctx.Err(); err != nil {
			return job.Retry
		}

		m, ok, err := q.Take(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("reading tag queue failed, will retry")
			return job.Retry
		}
		if !ok {
			return job.Finished
		}

		resp, err := d.backend.UpdateTagGroups(ctx, audience, m.Mutation)
		class := backend.Classify(resp, err)

		if class == backend.ClassRetryable {
			restored, rerr := q.Restore(ctx, m)
			switch {
			case rerr != nil:
				logger.Error().Err(rerr).Msg("returning mutation to tag queue failed")
			case !restored:
				logger.Warn().Msg("tag queue was cleared while the update was in flight, dropping mutation")
			}
			event := logger.Error()
			if err != nil {
				event = event.Err(err)
			} else {
				event = event.Int("status", resp.Status)
			}
			event.Msg("tag group update failed, will retry")
			d.metrics.RecordTagMutation(ctx, audience.Selector, "retry")
			return job.Retry
		}

		warnings, message := backend.ParseTagResponseIssues(resp.Body)
		for _, w := range warnings {
			logger.Warn().Str("warning", w).Msg("tag group update warning")
		}

		switch class {
		case backend.ClassSuccess:
			logger.Info().Int("status", resp.Status).Msg("tag groups updated")
			d.metrics.RecordTagMutation(ctx, audience.Selector, "success")
		case backend.ClassBadRequest, backend.ClassForbidden:
			logger.Warn().Int("status", resp.Status).Str("error", message).Msg("tag group update rejected")
			d.metrics.RecordTagMutation(ctx, audience.Selector, "rejected")
		default:
			logger.Warn().Int("status", resp.Status).Str("error", message).Msg("tag group update failed, dropping mutation")
			d.metrics.RecordTagMutation(ctx, audience.Selector, "failure")
		}
	}
}
