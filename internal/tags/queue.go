package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/store"
)

// Queue is a durable FIFO of pending mutations for one audience. The
// persisted list is kept collapsed after every write.
type Queue struct {
	mu     sync.Mutex
	store  store.Store
	key    string
	logger zerolog.Logger

	// generation is bumped by Clear.
	generation uint64
}

// Taken is a mutation removed from the head of a queue by Take.
type Taken struct {
	Mutation
	generation uint64
}

// NewQueue creates a queue persisted under key.
func NewQueue(s store.Store, key string, logger zerolog.Logger) *Queue {
	return &Queue{
		store:  s,
		key:    key,
		logger: logger.With().Str("queue", key).Logger(),
	}
}

// Enqueue appends mutations and collapses the queue.
func (q *Queue) Enqueue(ctx context.Context, mutations ...Mutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil {
		return err
	}
	return q.save(ctx, Collapse(append(current, mutations...)))
}

// Peek returns the head of the queue without removing it.
func (q *Queue) Peek(ctx context.Context) (Mutation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil || len(current) == 0 {
		return Mutation{}, false, err
	}
	return current[0], true, nil
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop(ctx context.Context) (Mutation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil || len(current) == 0 {
		return Mutation{}, false, err
	}
	if err := q.save(ctx, current[1:]); err != nil {
		return Mutation{}, false, err
	}
	return current[0], true, nil
}

// Take removes the head of the queue like Pop and remembers which
// generation of the queue it came from.
func (q *Queue) Take(ctx context.Context) (Taken, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil || len(current) == 0 {
		return Taken{}, false, err
	}
	if err := q.save(ctx, current[1:]); err != nil {
		return Taken{}, false, err
	}
	return Taken{Mutation: current[0], generation: q.generation}, true, nil
}

// Restore puts t back at the head of the queue. It reports false and drops t
// when the queue was cleared after t was taken.
func (q *Queue) Restore(ctx context.Context, t Taken) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.generation != q.generation {
		return false, nil
	}
	current, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	if err := q.save(ctx, Collapse(append([]Mutation{t.Mutation}, current...))); err != nil {
		return false, err
	}
	return true, nil
}

// PushFront re-inserts m at the head and collapses the queue. Used to return
// a mutation the backend could not accept yet.
func (q *Queue) PushFront(ctx context.Context, m Mutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil {
		return err
	}
	return q.save(ctx, Collapse(append([]Mutation{m}, current...)))
}

// Clear removes every pending mutation. Mutations taken before the clear can
// no longer be restored.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.generation++
	return q.store.Remove(ctx, q.key)
}

// Mutations returns a copy of the pending mutations.
func (q *Queue) Mutations(ctx context.Context) ([]Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.load(ctx)
}

// Len returns the number of pending mutations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	return len(current), err
}

func (q *Queue) load(ctx context.Context) ([]Mutation, error) {
	raw, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, fmt.Errorf("loading tag queue: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var mutations []Mutation
	if err := json.Unmarshal([]byte(raw), &mutations); err != nil {
		q.logger.Error().Err(err).Msg("discarding unreadable tag queue")
		if err := q.store.Remove(ctx, q.key); err != nil {
			return nil, fmt.Errorf("removing tag queue: %w", err)
		}
		return nil, nil
	}
	return mutations, nil
}

func (q *Queue) save(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return q.store.Remove(ctx, q.key)
	}
	if err := store.PutJSON(ctx, q.store, q.key, mutations); err != nil {
		return fmt.Errorf("saving tag queue: %w", err)
	}
	return nil
}
