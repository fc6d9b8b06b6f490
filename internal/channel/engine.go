package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/store"
	"github.com/pushlane/pushlane/internal/telemetry"
)

// DefaultReregistrationInterval is how long an unchanged payload is trusted
// before it is sent again.
const DefaultReregistrationInterval = 24 * time.Hour

const phaseIdle = -1

// Backend is the subset of the backend client the engine needs.
type Backend interface {
	CreateChannel(ctx context.Context, payload json.Marshaler) (*backend.Response, error)
	UpdateChannel(ctx context.Context, location string, payload json.Marshaler) (*backend.Response, error)
}

// PreferenceSource supplies the current registration preferences.
type PreferenceSource interface {
	Preferences(ctx context.Context) (Preferences, error)
}

// TokenProvider obtains a push token from the push vendor. An empty token
// with a nil error means registration is pending and the token will be
// delivered later.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenSink persists push tokens. It reports whether the token changed.
type TokenSink interface {
	StorePushToken(ctx context.Context, token string) (bool, error)
}

// NamedUserResetter clears a stale server-side named user after a re-install.
type NamedUserResetter interface {
	DisassociateIfNull(ctx context.Context) error
}

// EngineConfig holds the engine's collaborators and policy.
type EngineConfig struct {
	Store       store.Store
	Backend     Backend
	Dispatcher  job.Dispatcher
	Coordinator *Coordinator
	Broadcaster *Broadcaster
	Preferences PreferenceSource
	Device      DeviceAttributes

	// Tokens and TokenSink are optional.
	Tokens    TokenProvider
	TokenSink TokenSink

	// PushTransportAllowed enables push token registration before the
	// channel registration.
	PushTransportAllowed bool

	// ClearNamedUserOnReinstall disassociates a stale named user when the
	// backend reports the channel already existed.
	ClearNamedUserOnReinstall bool
	NamedUser                 NamedUserResetter

	// ReregistrationInterval defaults to DefaultReregistrationInterval.
	ReregistrationInterval time.Duration

	Metrics *telemetry.Metrics
	Clock   func() time.Time
	Logger  zerolog.Logger
}

// Engine decides between channel create and update and applies the result.
type Engine struct {
	repo        *Repository
	backend     Backend
	dispatcher  job.Dispatcher
	coord       *Coordinator
	broadcaster *Broadcaster
	prefs       PreferenceSource
	device      DeviceAttributes
	tokens      TokenProvider
	tokenSink   TokenSink

	pushTransportAllowed      bool
	clearNamedUserOnReinstall bool
	namedUser                 NamedUserResetter
	interval                  time.Duration

	metrics *telemetry.Metrics
	now     func() time.Time
	logger  zerolog.Logger

	phase atomic.Int32
}

// NewEngine creates a new registration engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ReregistrationInterval == 0 {
		cfg.ReregistrationInterval = DefaultReregistrationInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = NewCoordinator()
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NewBroadcaster()
	}

	e := &Engine{
		repo:                      NewRepository(cfg.Store),
		backend:                   cfg.Backend,
		dispatcher:                cfg.Dispatcher,
		coord:                     cfg.Coordinator,
		broadcaster:               cfg.Broadcaster,
		prefs:                     cfg.Preferences,
		device:                    cfg.Device,
		tokens:                    cfg.Tokens,
		tokenSink:                 cfg.TokenSink,
		pushTransportAllowed:      cfg.PushTransportAllowed,
		clearNamedUserOnReinstall: cfg.ClearNamedUserOnReinstall,
		namedUser:                 cfg.NamedUser,
		interval:                  cfg.ReregistrationInterval,
		metrics:                   cfg.Metrics,
		now:                       cfg.Clock,
		logger:                    cfg.Logger.With().Str("component", "channel").Logger(),
	}
	e.phase.Store(phaseIdle)
	return e
}

// Repository returns the engine's persisted channel state.
func (e *Engine) Repository() *Repository {
	return e.repo
}

// Events returns the broadcaster registration events are published on.
func (e *Engine) Events() *Broadcaster {
	return e.broadcaster
}

// State returns the current lifecycle state.
func (e *Engine) State(ctx context.Context) State {
	if p := e.phase.Load(); p != phaseIdle {
		return State(p)
	}
	id, err := e.repo.ChannelID(ctx)
	if err != nil || id == "" {
		return StateUnregistered
	}
	return StateCreated
}

// StartRegistration kicks off registration once per process.
func (e *Engine) StartRegistration(_ context.Context) job.Result {
	if !e.coord.TryStartRegistration() {
		e.logger.Debug().Msg("registration already started")
		return job.Finished
	}

	if e.pushTransportAllowed {
		e.coord.SetPushRegistering(true)
		e.dispatcher.Dispatch(job.New(job.ActionUpdatePushRegistration))
		return job.Finished
	}

	e.logger.Info().Msg("push transport not allowed, registering channel without a push token")
	e.dispatcher.Dispatch(job.New(job.ActionUpdateChannelRegistration))
	return job.Finished
}

// UpdatePushRegistration obtains a push token and then updates the channel.
func (e *Engine) UpdatePushRegistration(ctx context.Context) job.Result {
	e.coord.SetPushRegistering(false)

	if e.tokens != nil {
		token, err := e.tokens.Token(ctx)
		if err != nil {
			e.logger.Error().Err(err).Msg("push registration failed, will retry")
			e.coord.SetPushRegistering(true)
			return job.Retry
		}

		if token == "" {
			e.logger.Info().Msg("push registration pending")
			e.coord.SetPushRegistering(true)
			return job.Finished
		}

		if e.tokenSink != nil {
			changed, err := e.tokenSink.StorePushToken(ctx, token)
			if err != nil {
				e.logger.Error().Err(err).Msg("storing push token failed, will retry")
				e.coord.SetPushRegistering(true)
				return job.Retry
			}
			if changed {
				e.logger.Info().Msg("push token updated")
			}
		}
	}

	e.dispatcher.Dispatch(job.New(job.ActionUpdateChannelRegistration))
	return job.Finished
}

// UpdateRegistration creates the channel if needed, otherwise updates it when
// the payload changed or the re-registration interval passed.
func (e *Engine) UpdateRegistration(ctx context.Context) job.Result {
	if e.coord.PushRegistering() {
		e.logger.Debug().Msg("push registration in progress, skipping registration update")
		return job.Finished
	}

	prefs, err := e.prefs.Preferences(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("loading preferences failed, will retry")
		return job.Retry
	}
	payload := BuildPayload(e.device, prefs)

	rec, err := e.repo.Load(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("loading channel state failed, will retry")
		return job.Retry
	}

	if rec.HasChannel() {
		return e.update(ctx, rec, payload, prefs)
	}
	if rec.ID != "" && rec.Location != "" {
		e.logger.Error().Str("location", rec.Location).Msg("persisted channel location is invalid, creating a new channel")
	}
	return e.create(ctx, payload, prefs)
}

func (e *Engine) create(ctx context.Context, payload Payload, prefs Preferences) job.Result {
	if prefs.ChannelCreationDelayEnabled {
		e.logger.Info().Msg("channel creation is delayed, skipping")
		e.metrics.RecordRegistration(ctx, "create", "skipped")
		return job.Finished
	}

	e.phase.Store(int32(StateCreating))
	defer e.phase.Store(phaseIdle)

	resp, err := e.backend.CreateChannel(ctx, payload)
	class := backend.Classify(resp, err)
	switch {
	case class == backend.ClassRetryable:
		e.logFailure(resp, err).Msg("channel creation failed, will retry")
		e.fail(ctx, "create", "retry", "", true)
		return job.Retry
	// only 200 (existing channel) and 201 (new channel) carry a channel
	case resp.Status == http.StatusOK || resp.Status == http.StatusCreated:
	default:
		e.logger.Error().Int("status", resp.Status).Msg("channel creation failed")
		e.fail(ctx, "create", "failure", "", true)
		return job.Finished
	}

	channelID, err := backend.ParseChannelResponse(resp.Body)
	location := resp.Location()
	if err != nil || location == "" {
		e.logger.Error().Err(err).
			Int("status", resp.Status).
			Str("location", location).
			Msg("channel creation response is missing the channel id or location, will retry")
		e.fail(ctx, "create", "retry", "", true)
		return job.Retry
	}

	if err := e.repo.SaveChannel(ctx, channelID, location); err != nil {
		e.logger.Error().Err(err).Msg("persisting channel failed, will retry")
		return job.Retry
	}
	if err := e.repo.SaveLastRegistration(ctx, payload, e.now()); err != nil {
		e.logger.Warn().Err(err).Msg("persisting last registration failed")
	}

	e.logger.Info().
		Int("status", resp.Status).
		Str("channel_id", channelID).
		Msg("channel created")
	e.metrics.RecordRegistration(ctx, "create", "success")

	if resp.Status == http.StatusOK && e.clearNamedUserOnReinstall && e.namedUser != nil {
		if err := e.namedUser.DisassociateIfNull(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("clearing named user after re-install failed")
		}
	}

	e.dispatcher.Dispatch(job.New(job.ActionUpdateNamedUser))
	e.broadcaster.Publish(RegistrationEvent{ChannelID: channelID, Success: true, IsCreate: true})
	e.dispatcher.Dispatch(job.New(job.ActionUpdateChannelTags))

	// Preferences may have changed while the create was in flight.
	e.dispatcher.Dispatch(job.New(job.ActionUpdateChannelRegistration))

	return job.Finished
}

func (e *Engine) update(ctx context.Context, rec Record, payload Payload, prefs Preferences) job.Result {
	now := e.now()
	last := rec.LastRegistration
	if last.After(now) {
		e.logger.Warn().Time("last_registration", last).Msg("last registration time is in the future, resetting")
		if err := e.repo.ResetLastRegistrationTime(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("resetting last registration time failed")
		}
		last = time.Time{}
	}

	if rec.LastPayload != nil && rec.LastPayload.Equal(payload) && !last.IsZero() && now.Sub(last) < e.interval {
		e.logger.Debug().Str("channel_id", rec.ID).Msg("channel already up to date")
		e.metrics.RecordRegistration(ctx, "update", "skipped")
		return job.Finished
	}

	e.phase.Store(int32(StateUpdating))
	defer e.phase.Store(phaseIdle)

	resp, err := e.backend.UpdateChannel(ctx, rec.Location, payload)
	switch backend.Classify(resp, err) {
	case backend.ClassSuccess:
		if err := e.repo.SaveLastRegistration(ctx, payload, now); err != nil {
			e.logger.Warn().Err(err).Msg("persisting last registration failed")
		}
		e.logger.Info().Int("status", resp.Status).Str("channel_id", rec.ID).Msg("channel updated")
		e.metrics.RecordRegistration(ctx, "update", "success")
		e.broadcaster.Publish(RegistrationEvent{ChannelID: rec.ID, Success: true})
		return job.Finished

	case backend.ClassConflict:
		e.logger.Warn().Str("channel_id", rec.ID).Msg("channel no longer recognized, re-creating")
		e.metrics.RecordRegistration(ctx, "update", "conflict")
		if err := e.repo.ClearChannel(ctx); err != nil {
			e.logger.Error().Err(err).Msg("clearing channel failed, will retry")
			return job.Retry
		}
		e.phase.Store(int32(StateConflictRetry))
		return e.create(ctx, payload, prefs)

	case backend.ClassRetryable:
		e.logFailure(resp, err).Str("channel_id", rec.ID).Msg("channel update failed, will retry")
		e.fail(ctx, "update", "retry", rec.ID, false)
		return job.Retry

	default:
		e.logger.Error().Int("status", resp.Status).Str("channel_id", rec.ID).Msg("channel update failed")
		e.fail(ctx, "update", "failure", rec.ID, false)
		return job.Finished
	}
}

func (e *Engine) fail(ctx context.Context, operation, outcome, channelID string, isCreate bool) {
	e.metrics.RecordRegistration(ctx, operation, outcome)
	e.broadcaster.Publish(RegistrationEvent{ChannelID: channelID, Success: false, IsCreate: isCreate})
}

func (e *Engine) logFailure(resp *backend.Response, err error) *zerolog.Event {
	event := e.logger.Error()
	if err != nil {
		return event.Err(err)
	}
	return event.Int("status", resp.Status)
}
