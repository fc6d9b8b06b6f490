// Package nameduser tracks the external identity associated with this
// channel and reconciles it with the backend.
package nameduser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/store"
	"github.com/pushlane/pushlane/internal/tags"
)

// MaxIDLength is the longest named user id the backend accepts.
const MaxIDLength = 128

// ErrInvalidID is returned for ids longer than MaxIDLength.
var ErrInvalidID = errors.New("named user id exceeds maximum length")

// Config holds configuration for the named user.
type Config struct {
	Store      store.Store
	Dispatcher job.Dispatcher
	Logger     zerolog.Logger

	// AllowSetTags lets the tag group editor replace whole groups.
	AllowSetTags bool
}

// NamedUser is the persisted desired identity plus its change tokens.
type NamedUser struct {
	mu           sync.Mutex
	store        store.Store
	dispatcher   job.Dispatcher
	queue        *tags.Queue
	allowSetTags bool
	logger       zerolog.Logger
}

// New creates a named user backed by cfg.Store.
func New(cfg Config) *NamedUser {
	logger := cfg.Logger.With().Str("component", "named_user").Logger()
	return &NamedUser{
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		queue:        tags.NewQueue(cfg.Store, store.KeyNamedUserTagMutations, logger),
		allowSetTags: cfg.AllowSetTags,
		logger:       logger,
	}
}

// ID returns the desired named user id, or "" when none is set.
func (n *NamedUser) ID(ctx context.Context) (string, error) {
	return store.GetString(ctx, n.store, store.KeyNamedUserID, "")
}

// SetID changes the desired id. Surrounding whitespace is trimmed and an
// empty id means disassociate. Changing the id discards pending named user
// tag mutations.
func (n *NamedUser) SetID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if utf8.RuneCountInString(id) > MaxIDLength {
		return fmt.Errorf("%w: %d characters", ErrInvalidID, utf8.RuneCountInString(id))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	current, err := n.ID(ctx)
	if err != nil {
		return err
	}
	if current == id {
		n.logger.Debug().Msg("named user id unchanged, skipping update")
		return nil
	}

	if id == "" {
		err = n.store.Remove(ctx, store.KeyNamedUserID)
	} else {
		err = n.store.Put(ctx, store.KeyNamedUserID, id)
	}
	if err != nil {
		return fmt.Errorf("saving named user id: %w", err)
	}

	if err := n.rotateTokenLocked(ctx); err != nil {
		return err
	}
	if err := n.queue.Clear(ctx); err != nil {
		return fmt.Errorf("clearing named user tag groups: %w", err)
	}

	n.dispatcher.Dispatch(job.New(job.ActionUpdateNamedUser))
	return nil
}

// ForceUpdate rotates the change token so the current id is sent again.
func (n *NamedUser) ForceUpdate(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.rotateTokenLocked(ctx); err != nil {
		return err
	}
	n.dispatcher.Dispatch(job.New(job.ActionUpdateNamedUser))
	return nil
}

// DisassociateIfNull forces a disassociate when no id is set. Used after a
// re-install where the backend may still hold an old association.
func (n *NamedUser) DisassociateIfNull(ctx context.Context) error {
	id, err := n.ID(ctx)
	if err != nil {
		return err
	}
	if id != "" {
		return nil
	}
	return n.ForceUpdate(ctx)
}

// EditTagGroups returns an editor for the named user's tag groups.
func (n *NamedUser) EditTagGroups() *tags.Editor {
	var opts []tags.EditorOption
	if !n.allowSetTags {
		opts = append(opts, tags.WithoutSet())
	}
	return tags.NewEditor(func(ctx context.Context, mutations []tags.Mutation) error {
		if err := n.queue.Enqueue(ctx, mutations...); err != nil {
			return err
		}
		n.dispatcher.Dispatch(job.New(job.ActionUpdateNamedUserTags))
		return nil
	}, n.logger, opts...)
}

// Queue returns the pending named user tag mutations.
func (n *NamedUser) Queue() *tags.Queue {
	return n.queue
}

type snapshot struct {
	id          string
	changeToken string
	lastApplied string
}

func (n *NamedUser) snapshot(ctx context.Context) (snapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var s snapshot
	var err error
	if s.id, err = n.ID(ctx); err != nil {
		return snapshot{}, err
	}
	if s.changeToken, err = store.GetString(ctx, n.store, store.KeyNamedUserChangeToken, ""); err != nil {
		return snapshot{}, err
	}
	if s.lastApplied, err = store.GetString(ctx, n.store, store.KeyNamedUserLastApplied, ""); err != nil {
		return snapshot{}, err
	}
	return s, nil
}

func (n *NamedUser) markApplied(ctx context.Context, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.store.Put(ctx, store.KeyNamedUserLastApplied, token)
}

func (n *NamedUser) rotateTokenLocked(ctx context.Context) error {
	if err := n.store.Put(ctx, store.KeyNamedUserChangeToken, uuid.NewString()); err != nil {
		return fmt.Errorf("saving named user change token: %w", err)
	}
	return nil
}
