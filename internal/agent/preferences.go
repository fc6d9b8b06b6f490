package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pushlane/pushlane/internal/channel"
	"github.com/pushlane/pushlane/internal/store"
	"github.com/pushlane/pushlane/internal/tags"
)

// Defaults are the preference values used on first run.
type Defaults struct {
	PushEnabled                   bool
	UserNotificationsEnabled      bool
	ChannelTagRegistrationEnabled bool
	PushTokenRegistrationEnabled  bool
	AnalyticsEnabled              bool
	ChannelCreationDelayEnabled   bool
}

// DefaultPreferences returns the first-run defaults.
func DefaultPreferences() Defaults {
	return Defaults{
		PushEnabled:                   true,
		ChannelTagRegistrationEnabled: true,
		PushTokenRegistrationEnabled:  true,
		AnalyticsEnabled:              true,
	}
}

// preferenceStore reads and writes registration preferences.
type preferenceStore struct {
	store    store.Store
	defaults Defaults
}

func (p *preferenceStore) Preferences(ctx context.Context) (channel.Preferences, error) {
	var prefs channel.Preferences
	var err error

	bools := []struct {
		key string
		def bool
		dst *bool
	}{
		{store.KeyPushEnabled, p.defaults.PushEnabled, &prefs.PushEnabled},
		{store.KeyUserNotificationsEnabled, p.defaults.UserNotificationsEnabled, &prefs.UserNotificationsEnabled},
		{store.KeyChannelTagRegistration, p.defaults.ChannelTagRegistrationEnabled, &prefs.ChannelTagRegistrationEnabled},
		{store.KeyPushTokenRegistration, p.defaults.PushTokenRegistrationEnabled, &prefs.PushTokenRegistrationEnabled},
		{store.KeyAnalyticsEnabled, p.defaults.AnalyticsEnabled, &prefs.AnalyticsEnabled},
		{store.KeyChannelCreationDelay, p.defaults.ChannelCreationDelayEnabled, &prefs.ChannelCreationDelayEnabled},
	}
	for _, b := range bools {
		if *b.dst, err = store.GetBool(ctx, p.store, b.key, b.def); err != nil {
			return channel.Preferences{}, err
		}
	}

	if prefs.PushToken, err = store.GetString(ctx, p.store, store.KeyPushToken, ""); err != nil {
		return channel.Preferences{}, err
	}
	if prefs.Alias, err = store.GetString(ctx, p.store, store.KeyAlias, ""); err != nil {
		return channel.Preferences{}, err
	}
	if prefs.APID, err = store.GetString(ctx, p.store, store.KeyAPID, ""); err != nil {
		return channel.Preferences{}, err
	}
	if prefs.UserID, err = store.GetString(ctx, p.store, store.KeyUserID, ""); err != nil {
		return channel.Preferences{}, err
	}
	if prefs.Tags, err = p.tags(ctx); err != nil {
		return channel.Preferences{}, err
	}
	return prefs, nil
}

func (p *preferenceStore) tags(ctx context.Context) ([]string, error) {
	var stored []string
	err := store.GetJSON(ctx, p.store, store.KeyTags, &stored)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return stored, err
}

func (p *preferenceStore) setTags(ctx context.Context, values []string) error {
	return store.PutJSON(ctx, p.store, store.KeyTags, tags.NormalizeTags(values...).Sorted())
}

// StorePushToken persists token and reports whether it changed.
func (p *preferenceStore) StorePushToken(ctx context.Context, token string) (bool, error) {
	current, err := store.GetString(ctx, p.store, store.KeyPushToken, "")
	if err != nil {
		return false, err
	}
	if current == token {
		return false, nil
	}
	if token == "" {
		return true, p.store.Remove(ctx, store.KeyPushToken)
	}
	return true, p.store.Put(ctx, store.KeyPushToken, token)
}

// ensureAPID generates the install identifier once.
func (p *preferenceStore) ensureAPID(ctx context.Context) error {
	_, ok, err := p.store.Get(ctx, store.KeyAPID)
	if err != nil || ok {
		return err
	}
	if err := p.store.Put(ctx, store.KeyAPID, uuid.NewString()); err != nil {
		return fmt.Errorf("saving apid: %w", err)
	}
	return nil
}

// StoredTokenProvider hands out the push token last delivered to the agent.
// No token means registration is pending until one is delivered.
type StoredTokenProvider struct {
	Store store.Store
}

// Token returns the persisted push token or "".
func (p StoredTokenProvider) Token(ctx context.Context) (string, error) {
	return store.GetString(ctx, p.Store, store.KeyPushToken, "")
}
