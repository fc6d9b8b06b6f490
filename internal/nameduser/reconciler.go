package nameduser

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/telemetry"
)

// Backend is the subset of the backend client the reconciler needs.
type Backend interface {
	AssociateNamedUser(ctx context.Context, id, channelID, deviceType string) (*backend.Response, error)
	DisassociateNamedUser(ctx context.Context, channelID, deviceType string) (*backend.Response, error)
}

// ChannelSource reports the registered channel id, "" if none yet.
type ChannelSource interface {
	ChannelID(ctx context.Context) (string, error)
}

// ReconcilerConfig holds the reconciler's collaborators.
type ReconcilerConfig struct {
	NamedUser  *NamedUser
	Backend    Backend
	Channel    ChannelSource
	Dispatcher job.Dispatcher
	DeviceType string
	Metrics    *telemetry.Metrics
	Logger     zerolog.Logger
}

// Reconciler brings the backend's association in line with the desired id.
type Reconciler struct {
	user       *NamedUser
	backend    Backend
	channel    ChannelSource
	dispatcher job.Dispatcher
	deviceType string
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		user:       cfg.NamedUser,
		backend:    cfg.Backend,
		channel:    cfg.Channel,
		dispatcher: cfg.Dispatcher,
		deviceType: cfg.DeviceType,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "named_user").Logger(),
	}
}

// Update associates or disassociates the channel when the change token has
// not been applied yet.
func (r *Reconciler) Update(ctx context.Context) job.Result {
	state, err := r.user.snapshot(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("loading named user failed, will retry")
		return job.Retry
	}

	if state.changeToken == "" && state.lastApplied == "" {
		r.logger.Debug().Msg("named user never set, skipping update")
		return job.Finished
	}
	if state.changeToken == state.lastApplied {
		r.logger.Debug().Msg("named user already up to date")
		return job.Finished
	}

	channelID, err := r.channel.ChannelID(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("loading channel id failed, will retry")
		return job.Retry
	}
	if channelID == "" {
		r.logger.Debug().Msg("channel not created yet, deferring named user update")
		return job.Finished
	}

	operation := "associate"
	var resp *backend.Response
	if state.id != "" {
		resp, err = r.backend.AssociateNamedUser(ctx, state.id, channelID, r.deviceType)
	} else {
		operation = "disassociate"
		resp, err = r.backend.DisassociateNamedUser(ctx, channelID, r.deviceType)
	}

	logger := r.logger.With().Str("operation", operation).Str("channel_id", channelID).Logger()

	switch backend.Classify(resp, err) {
	case backend.ClassSuccess:
		if err := r.user.markApplied(ctx, state.changeToken); err != nil {
			logger.Error().Err(err).Msg("persisting applied change token failed, will retry")
			return job.Retry
		}
		logger.Info().Int("status", resp.Status).Msg("named user updated")
		r.metrics.RecordNamedUserUpdate(ctx, operation, "success")
		r.dispatcher.Dispatch(job.New(job.ActionUpdateNamedUserTags))
		return job.Finished

	case backend.ClassRetryable:
		event := logger.Error()
		if err != nil {
			event = event.Err(err)
		} else {
			event = event.Int("status", resp.Status)
		}
		event.Msg("named user update failed, will retry")
		r.metrics.RecordNamedUserUpdate(ctx, operation, "retry")
		return job.Retry

	case backend.ClassForbidden:
		logger.Warn().Msg("named user updates are restricted to the server, dropping")
		r.metrics.RecordNamedUserUpdate(ctx, operation, "forbidden")
		return job.Finished

	default:
		logger.Warn().Int("status", resp.Status).Msg("named user update failed")
		r.metrics.RecordNamedUserUpdate(ctx, operation, "failure")
		return job.Finished
	}
}
