package channel

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pushlane/pushlane/internal/store"
)

// State is the registration lifecycle state.
type State int

const (
	StateUnregistered State = iota
	StateCreating
	StateCreated
	StateUpdating
	StateConflictRetry
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	case StateUpdating:
		return "updating"
	case StateConflictRetry:
		return "conflict_retry"
	default:
		return "unknown"
	}
}

// Record is the persisted channel state.
type Record struct {
	ID       string
	Location string

	// LastPayload is the last payload the backend accepted, nil if none.
	LastPayload *Payload

	// LastRegistration is when LastPayload was accepted. Zero if never.
	LastRegistration time.Time
}

// HasChannel reports whether both the channel id and a usable location are known.
func (r Record) HasChannel() bool {
	if r.ID == "" || r.Location == "" {
		return false
	}
	u, err := url.Parse(r.Location)
	return err == nil && u.IsAbs()
}

// Repository persists channel state.
type Repository struct {
	store store.Store
}

// NewRepository creates a repository over s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Load reads the full channel record. An unreadable last payload is treated as absent.
func (r *Repository) Load(ctx context.Context) (Record, error) {
	var rec Record
	var err error

	if rec.ID, err = store.GetString(ctx, r.store, store.KeyChannelID, ""); err != nil {
		return Record{}, err
	}
	if rec.Location, err = store.GetString(ctx, r.store, store.KeyChannelLocation, ""); err != nil {
		return Record{}, err
	}

	raw, ok, err := r.store.Get(ctx, store.KeyLastRegistration)
	if err != nil {
		return Record{}, err
	}
	if ok {
		if p, err := ParsePayload([]byte(raw)); err == nil {
			rec.LastPayload = &p
		}
	}

	ms, err := store.GetInt64(ctx, r.store, store.KeyLastRegistrationTime, 0)
	if err != nil {
		ms = 0
	}
	if ms > 0 {
		rec.LastRegistration = time.UnixMilli(ms)
	}

	return rec, nil
}

// ChannelID returns the persisted channel id, or "" if the channel is not created.
func (r *Repository) ChannelID(ctx context.Context) (string, error) {
	return store.GetString(ctx, r.store, store.KeyChannelID, "")
}

// SaveChannel persists the channel id and location.
func (r *Repository) SaveChannel(ctx context.Context, id, location string) error {
	if err := r.store.Put(ctx, store.KeyChannelID, id); err != nil {
		return fmt.Errorf("saving channel id: %w", err)
	}
	if err := r.store.Put(ctx, store.KeyChannelLocation, location); err != nil {
		return fmt.Errorf("saving channel location: %w", err)
	}
	return nil
}

// ClearChannel forgets the channel id and location.
func (r *Repository) ClearChannel(ctx context.Context) error {
	if err := r.store.Remove(ctx, store.KeyChannelID); err != nil {
		return err
	}
	return r.store.Remove(ctx, store.KeyChannelLocation)
}

// SaveLastRegistration persists the last accepted payload and when it was accepted.
func (r *Repository) SaveLastRegistration(ctx context.Context, p Payload, at time.Time) error {
	if err := store.PutJSON(ctx, r.store, store.KeyLastRegistration, p); err != nil {
		return err
	}
	return store.PutInt64(ctx, r.store, store.KeyLastRegistrationTime, at.UnixMilli())
}

// ResetLastRegistrationTime zeroes the last registration time.
func (r *Repository) ResetLastRegistrationTime(ctx context.Context) error {
	return store.PutInt64(ctx, r.store, store.KeyLastRegistrationTime, 0)
}
