// Package agent wires channel registration, named user reconciliation and
// tag group sync into a single job handler with a preference API.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/channel"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/nameduser"
	"github.com/pushlane/pushlane/internal/store"
	"github.com/pushlane/pushlane/internal/tags"
	"github.com/pushlane/pushlane/internal/tagsync"
	"github.com/pushlane/pushlane/internal/telemetry"
)

// Backend is everything the agent sends to the registration backend.
type Backend interface {
	channel.Backend
	nameduser.Backend
	tagsync.Backend
}

// Config holds configuration for the agent.
type Config struct {
	Store      store.Store
	Backend    Backend
	Dispatcher job.Dispatcher
	Device     channel.DeviceAttributes
	Defaults   Defaults

	// Tokens defaults to a StoredTokenProvider over Store.
	Tokens channel.TokenProvider

	PushTransportAllowed      bool
	ClearNamedUserOnReinstall bool
	AllowNamedUserSetTags     bool
	ReregistrationInterval    time.Duration

	Metrics *telemetry.Metrics
	Clock   func() time.Time
	Logger  zerolog.Logger
}

// Agent owns the persisted preferences and routes jobs to the registration
// components.
type Agent struct {
	store       store.Store
	dispatcher  job.Dispatcher
	prefs       *preferenceStore
	coord       *channel.Coordinator
	engine      *channel.Engine
	namedUser   *nameduser.NamedUser
	reconciler  *nameduser.Reconciler
	tagDriver   *tagsync.Driver
	channelTags *tags.Queue
	deviceType  channel.DeviceType
	logger      zerolog.Logger
}

// New creates an agent and generates the install identifier on first run.
func New(ctx context.Context, cfg Config) (*Agent, error) {
	if !cfg.Device.DeviceType.Valid() {
		return nil, fmt.Errorf("unsupported device type %q", cfg.Device.DeviceType)
	}
	if cfg.Tokens == nil {
		cfg.Tokens = StoredTokenProvider{Store: cfg.Store}
	}

	logger := cfg.Logger.With().Str("component", "agent").Logger()
	prefs := &preferenceStore{store: cfg.Store, defaults: cfg.Defaults}
	if err := prefs.ensureAPID(ctx); err != nil {
		return nil, err
	}

	namedUser := nameduser.New(nameduser.Config{
		Store:        cfg.Store,
		Dispatcher:   cfg.Dispatcher,
		AllowSetTags: cfg.AllowNamedUserSetTags,
		Logger:       cfg.Logger,
	})

	coord := channel.NewCoordinator()
	engine := channel.NewEngine(channel.EngineConfig{
		Store:                     cfg.Store,
		Backend:                   cfg.Backend,
		Dispatcher:                cfg.Dispatcher,
		Coordinator:               coord,
		Preferences:               prefs,
		Device:                    cfg.Device,
		Tokens:                    cfg.Tokens,
		TokenSink:                 prefs,
		PushTransportAllowed:      cfg.PushTransportAllowed,
		ClearNamedUserOnReinstall: cfg.ClearNamedUserOnReinstall,
		NamedUser:                 namedUser,
		ReregistrationInterval:    cfg.ReregistrationInterval,
		Metrics:                   cfg.Metrics,
		Clock:                     cfg.Clock,
		Logger:                    cfg.Logger,
	})

	return &Agent{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		prefs:      prefs,
		coord:      coord,
		engine:     engine,
		namedUser:  namedUser,
		reconciler: nameduser.NewReconciler(nameduser.ReconcilerConfig{
			NamedUser:  namedUser,
			Backend:    cfg.Backend,
			Channel:    engine.Repository(),
			Dispatcher: cfg.Dispatcher,
			DeviceType: string(cfg.Device.DeviceType),
			Metrics:    cfg.Metrics,
			Logger:     cfg.Logger,
		}),
		tagDriver: tagsync.New(tagsync.Config{
			Backend: cfg.Backend,
			Metrics: cfg.Metrics,
			Logger:  cfg.Logger,
		}),
		channelTags: tags.NewQueue(cfg.Store, store.KeyChannelTagMutations, logger),
		deviceType:  cfg.Device.DeviceType,
		logger:      logger,
	}, nil
}

// Start begins registration.
func (a *Agent) Start() {
	a.dispatcher.Dispatch(job.New(job.ActionStartRegistration))
}

// Handle runs one job.
func (a *Agent) Handle(ctx context.Context, j job.Job) job.Result {
	switch j.Action {
	case job.ActionStartRegistration:
		return a.engine.StartRegistration(ctx)
	case job.ActionUpdatePushRegistration:
		return a.engine.UpdatePushRegistration(ctx)
	case job.ActionUpdateChannelRegistration:
		return a.engine.UpdateRegistration(ctx)
	case job.ActionUpdateChannelTags:
		return a.syncChannelTags(ctx)
	case job.ActionUpdateNamedUser:
		return a.reconciler.Update(ctx)
	case job.ActionUpdateNamedUserTags:
		return a.syncNamedUserTags(ctx)
	default:
		a.logger.Warn().Str("action", j.Action).Msg("unknown job action, dropping")
		return job.Finished
	}
}

func (a *Agent) syncChannelTags(ctx context.Context) job.Result {
	id, err := a.engine.Repository().ChannelID(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("loading channel id failed, will retry")
		return job.Retry
	}
	if id == "" {
		a.logger.Debug().Msg("channel not created yet, deferring channel tag sync")
		return job.Finished
	}
	return a.tagDriver.Sync(ctx, backend.ChannelAudience(string(a.deviceType), id), a.channelTags)
}

func (a *Agent) syncNamedUserTags(ctx context.Context) job.Result {
	id, err := a.namedUser.ID(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("loading named user failed, will retry")
		return job.Retry
	}
	if id == "" {
		a.logger.Debug().Msg("no named user, deferring named user tag sync")
		return job.Finished
	}
	return a.tagDriver.Sync(ctx, backend.NamedUserAudience(id), a.namedUser.Queue())
}

// NamedUser returns the named user.
func (a *Agent) NamedUser() *nameduser.NamedUser {
	return a.namedUser
}

// Events returns the registration event broadcaster.
func (a *Agent) Events() *channel.Broadcaster {
	return a.engine.Events()
}

// ChannelID returns the channel id, "" until the channel is created.
func (a *Agent) ChannelID(ctx context.Context) (string, error) {
	return a.engine.Repository().ChannelID(ctx)
}

// EditTagGroups returns an editor for the channel's tag groups.
func (a *Agent) EditTagGroups() *tags.Editor {
	return tags.NewEditor(func(ctx context.Context, mutations []tags.Mutation) error {
		if err := a.channelTags.Enqueue(ctx, mutations...); err != nil {
			return err
		}
		a.dispatcher.Dispatch(job.New(job.ActionUpdateChannelTags))
		return nil
	}, a.logger)
}

// UpdateRegistration requests a channel registration update.
func (a *Agent) UpdateRegistration() {
	a.dispatcher.Dispatch(job.New(job.ActionUpdateChannelRegistration))
}

// SetPushEnabled toggles push.
func (a *Agent) SetPushEnabled(ctx context.Context, enabled bool) error {
	return a.setBool(ctx, store.KeyPushEnabled, enabled)
}

// SetUserNotificationsEnabled toggles user visible notifications.
func (a *Agent) SetUserNotificationsEnabled(ctx context.Context, enabled bool) error {
	return a.setBool(ctx, store.KeyUserNotificationsEnabled, enabled)
}

// SetChannelTagRegistrationEnabled controls whether device tags are sent with
// the registration payload.
func (a *Agent) SetChannelTagRegistrationEnabled(ctx context.Context, enabled bool) error {
	return a.setBool(ctx, store.KeyChannelTagRegistration, enabled)
}

// SetPushTokenRegistrationEnabled controls whether the push token is sent.
func (a *Agent) SetPushTokenRegistrationEnabled(ctx context.Context, enabled bool) error {
	return a.setBool(ctx, store.KeyPushTokenRegistration, enabled)
}

// SetAnalyticsEnabled controls whether locale and timezone are sent.
func (a *Agent) SetAnalyticsEnabled(ctx context.Context, enabled bool) error {
	return a.setBool(ctx, store.KeyAnalyticsEnabled, enabled)
}

// EnableChannelCreation lifts a configured channel creation delay.
func (a *Agent) EnableChannelCreation(ctx context.Context) error {
	enabled, err := store.GetBool(ctx, a.store, store.KeyChannelCreationDelay, a.prefs.defaults.ChannelCreationDelayEnabled)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	return a.setBool(ctx, store.KeyChannelCreationDelay, false)
}

// SetAlias sets the channel alias. An empty alias clears it.
func (a *Agent) SetAlias(ctx context.Context, alias string) error {
	var err error
	if alias == "" {
		err = a.store.Remove(ctx, store.KeyAlias)
	} else {
		err = a.store.Put(ctx, store.KeyAlias, alias)
	}
	if err != nil {
		return fmt.Errorf("saving alias: %w", err)
	}
	a.UpdateRegistration()
	return nil
}

// SetUserID sets the app user id sent as an identity hint. An empty id
// clears it.
func (a *Agent) SetUserID(ctx context.Context, userID string) error {
	var err error
	if userID == "" {
		err = a.store.Remove(ctx, store.KeyUserID)
	} else {
		err = a.store.Put(ctx, store.KeyUserID, userID)
	}
	if err != nil {
		return fmt.Errorf("saving user id: %w", err)
	}
	a.UpdateRegistration()
	return nil
}

// SetTags replaces the device tags.
func (a *Agent) SetTags(ctx context.Context, values []string) error {
	if err := a.prefs.setTags(ctx, values); err != nil {
		return fmt.Errorf("saving tags: %w", err)
	}
	a.UpdateRegistration()
	return nil
}

// Tags returns the device tags.
func (a *Agent) Tags(ctx context.Context) ([]string, error) {
	return a.prefs.tags(ctx)
}

// SetPushToken delivers a push token from the push vendor.
func (a *Agent) SetPushToken(ctx context.Context, token string) error {
	changed, err := a.prefs.StorePushToken(ctx, token)
	if err != nil {
		return fmt.Errorf("saving push token: %w", err)
	}
	if changed || a.coord.PushRegistering() {
		a.dispatcher.Dispatch(job.New(job.ActionUpdatePushRegistration))
	}
	return nil
}

func (a *Agent) setBool(ctx context.Context, key string, value bool) error {
	if err := store.PutBool(ctx, a.store, key, value); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	a.UpdateRegistration()
	return nil
}

// Status is a snapshot of the agent's registration state.
type Status struct {
	ChannelID                 string    `json:"channel_id,omitempty"`
	ChannelLocation           string    `json:"channel_location,omitempty"`
	State                     string    `json:"state"`
	OptIn                     bool      `json:"opt_in"`
	PushRegistering           bool      `json:"push_registering"`
	LastRegistration          time.Time `json:"last_registration,omitzero"`
	NamedUserID               string    `json:"named_user_id,omitempty"`
	PendingChannelTagGroups   int       `json:"pending_channel_tag_groups"`
	PendingNamedUserTagGroups int       `json:"pending_named_user_tag_groups"`
}

// Status returns a snapshot of the current registration state.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	rec, err := a.engine.Repository().Load(ctx)
	if err != nil {
		return Status{}, err
	}
	s := Status{
		ChannelID:        rec.ID,
		ChannelLocation:  rec.Location,
		State:            a.engine.State(ctx).String(),
		PushRegistering:  a.coord.PushRegistering(),
		LastRegistration: rec.LastRegistration,
	}
	if rec.LastPayload != nil {
		s.OptIn = rec.LastPayload.OptIn
	}
	if s.NamedUserID, err = a.namedUser.ID(ctx); err != nil {
		return Status{}, err
	}
	if s.PendingChannelTagGroups, err = a.channelTags.Len(ctx); err != nil {
		return Status{}, err
	}
	if s.PendingNamedUserTagGroups, err = a.namedUser.Queue().Len(ctx); err != nil {
		return Status{}, err
	}
	return s, nil
}
