// Package store provides the durable key-value persistence used by the agent.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Store errors.
var (
	ErrNotFound = errors.New("key not found")
)

// Persisted keys.
const (
	KeyChannelID             = "channel.id"
	KeyChannelLocation       = "channel.location"
	KeyLastRegistration      = "channel.last_registration_payload"
	KeyLastRegistrationTime  = "channel.last_registration_time"
	KeyChannelTagMutations   = "channel.pending_tag_group_mutations"
	KeyNamedUserID           = "named_user.id"
	KeyNamedUserChangeToken  = "named_user.change_token"
	KeyNamedUserLastApplied  = "named_user.last_updated_token"
	KeyNamedUserTagMutations = "named_user.pending_tag_group_mutations"

	KeyPushEnabled              = "push.enabled"
	KeyUserNotificationsEnabled = "push.user_notifications_enabled"
	KeyPushToken                = "push.token"
	KeyAlias                    = "push.alias"
	KeyTags                     = "push.tags"
	KeyChannelTagRegistration   = "push.channel_tag_registration_enabled"
	KeyPushTokenRegistration    = "push.token_registration_enabled"
	KeyAnalyticsEnabled         = "push.analytics_enabled"
	KeyChannelCreationDelay     = "push.channel_creation_delay_enabled"
	KeyAPID                     = "push.apid"
	KeyUserID                   = "push.user_id"
)

// Store defines the interface for key-value persistence.
type Store interface {
	// Get returns the value for key. The bool is false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// GetString returns the value for key or def when the key is absent.
func GetString(ctx context.Context, s Store, key, def string) (string, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// PutOptionalString stores value, or removes key when value is nil.
func PutOptionalString(ctx context.Context, s Store, key string, value *string) error {
	if value == nil {
		return s.Remove(ctx, key)
	}
	return s.Put(ctx, key, *value)
}

// GetOptionalString returns nil when the key is absent.
func GetOptionalString(ctx context.Context, s Store, key string) (*string, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// GetBool returns the boolean stored under key or def.
func GetBool(ctx context.Context, s Store, key string, def bool) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}

// PutBool stores a boolean under key.
func PutBool(ctx context.Context, s Store, key string, value bool) error {
	return s.Put(ctx, key, strconv.FormatBool(value))
}

// GetInt64 returns the integer stored under key or def.
func GetInt64(ctx context.Context, s Store, key string, def int64) (int64, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

// PutInt64 stores an integer under key.
func PutInt64(ctx context.Context, s Store, key string, value int64) error {
	return s.Put(ctx, key, strconv.FormatInt(value, 10))
}

// GetJSON decodes the JSON value stored under key into dst.
// Returns ErrNotFound when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dst any) error {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes value as JSON and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Put(ctx, key, string(data))
}
