package nameduser_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/nameduser"
	"github.com/pushlane/pushlane/internal/store"
	"github.com/pushlane/pushlane/internal/tags"
)

type call struct {
	resp *backend.Response
	err  error
}

type namedUserRequest struct {
	associate bool
	id        string
	channelID string
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []namedUserRequest
	results  []call
}

func (b *fakeBackend) AssociateNamedUser(_ context.Context, id, channelID, _ string) (*backend.Response, error) {
	return b.record(namedUserRequest{associate: true, id: id, channelID: channelID})
}

func (b *fakeBackend) DisassociateNamedUser(_ context.Context, channelID, _ string) (*backend.Response, error) {
	return b.record(namedUserRequest{channelID: channelID})
}

func (b *fakeBackend) record(r namedUserRequest) (*backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, r)
	if len(b.results) == 0 {
		return &backend.Response{Status: http.StatusOK, Header: http.Header{}}, nil
	}
	c := b.results[0]
	b.results = b.results[1:]
	return c.resp, c.err
}

type channelSource string

func (c channelSource) ChannelID(context.Context) (string, error) { return string(c), nil }

type harness struct {
	store      *store.InMemoryStore
	dispatcher *job.RecordingDispatcher
	user       *nameduser.NamedUser
	backend    *fakeBackend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewInMemoryStore()
	d := &job.RecordingDispatcher{}
	return &harness{
		store:      s,
		dispatcher: d,
		user:       nameduser.New(nameduser.Config{Store: s, Dispatcher: d, Logger: zerolog.Nop()}),
		backend:    &fakeBackend{},
	}
}

func (h *harness) reconciler(channelID string) *nameduser.Reconciler {
	return nameduser.NewReconciler(nameduser.ReconcilerConfig{
		NamedUser:  h.user,
		Backend:    h.backend,
		Channel:    channelSource(channelID),
		Dispatcher: h.dispatcher,
		DeviceType: "android",
		Logger:     zerolog.Nop(),
	})
}

func TestSetID_TrimsAndDispatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.user.SetID(ctx, "  user-42  "))

	id, err := h.user.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)
	assert.Equal(t, []string{job.ActionUpdateNamedUser}, h.dispatcher.Actions())
}

func TestSetID_SameIDDoesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.user.SetID(ctx, "user-42"))
	token, _, err := h.store.Get(ctx, store.KeyNamedUserChangeToken)
	require.NoError(t, err)

	h.dispatcher.Reset()
	require.NoError(t, h.user.SetID(ctx, "user-42"))

	again, _, err := h.store.Get(ctx, store.KeyNamedUserChangeToken)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Empty(t, h.dispatcher.Actions())
}

func TestSetID_TooLong(t *testing.T) {
	h := newHarness(t)

	err := h.user.SetID(context.Background(), strings.Repeat("a", nameduser.MaxIDLength+1))
	assert.ErrorIs(t, err, nameduser.ErrInvalidID)
	assert.Empty(t, h.dispatcher.Actions())

	assert.NoError(t, h.user.SetID(context.Background(), strings.Repeat("a", nameduser.MaxIDLength)))
}

func TestSetID_ClearsPendingTags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.user.SetID(ctx, "first"))
	require.NoError(t, h.user.EditTagGroups().AddTags("interests", "sports").Apply(ctx))

	n, err := h.user.Queue().Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, h.user.SetID(ctx, "second"))

	n, err = h.user.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEditTagGroups_WithoutSetByDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.user.EditTagGroups().SetTags("loyalty", "gold").Apply(ctx))

	n, err := h.user.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.dispatcher.Actions())
}

func TestEditTagGroups_EnqueuesAndDispatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.user.EditTagGroups().AddTags("interests", "sports").Apply(ctx))

	pending, err := h.user.Queue().Mutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Equal(tags.NewAddMutation("interests", tags.NewTagSet("sports"))))
	assert.Equal(t, []string{job.ActionUpdateNamedUserTags}, h.dispatcher.Actions())
}

func TestDisassociateIfNull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.user.SetID(ctx, "user-42"))
	h.dispatcher.Reset()

	require.NoError(t, h.user.DisassociateIfNull(ctx))
	assert.Empty(t, h.dispatcher.Actions())

	require.NoError(t, h.user.SetID(ctx, ""))
	h.dispatcher.Reset()

	require.NoError(t, h.user.DisassociateIfNull(ctx))
	assert.Equal(t, []string{job.ActionUpdateNamedUser}, h.dispatcher.Actions())
}

func TestUpdate_NeverSetSkips(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, job.Finished, h.reconciler("abc123").Update(context.Background()))
	assert.Empty(t, h.backend.requests)
}

func TestUpdate_NoChannelDefers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.user.SetID(ctx, "user-42"))

	assert.Equal(t, job.Finished, h.reconciler("").Update(ctx))
	assert.Empty(t, h.backend.requests)

	// the token is still pending once a channel exists
	assert.Equal(t, job.Finished, h.reconciler("abc123").Update(ctx))
	assert.Len(t, h.backend.requests, 1)
}

func TestUpdate_AssociateThenUpToDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.user.SetID(ctx, "user-42"))
	h.dispatcher.Reset()

	r := h.reconciler("abc123")
	assert.Equal(t, job.Finished, r.Update(ctx))
	require.Len(t, h.backend.requests, 1)
	assert.Equal(t, namedUserRequest{associate: true, id: "user-42", channelID: "abc123"}, h.backend.requests[0])
	assert.Equal(t, []string{job.ActionUpdateNamedUserTags}, h.dispatcher.Actions())

	assert.Equal(t, job.Finished, r.Update(ctx))
	assert.Len(t, h.backend.requests, 1)
}

func TestUpdate_Disassociate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.reconciler("abc123")

	require.NoError(t, h.user.SetID(ctx, "user-42"))
	require.Equal(t, job.Finished, r.Update(ctx))
	require.NoError(t, h.user.SetID(ctx, ""))
	require.Equal(t, job.Finished, r.Update(ctx))

	require.Len(t, h.backend.requests, 2)
	assert.Equal(t, namedUserRequest{channelID: "abc123"}, h.backend.requests[1])
}

func TestUpdate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		result call
		want   job.Result
	}{
		{"no response", call{err: errors.New("dial tcp: refused")}, job.Retry},
		{"server error", call{resp: &backend.Response{Status: http.StatusServiceUnavailable}}, job.Retry},
		{"forbidden", call{resp: &backend.Response{Status: http.StatusForbidden}}, job.Finished},
		{"bad request", call{resp: &backend.Response{Status: http.StatusBadRequest}}, job.Finished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			require.NoError(t, h.user.SetID(ctx, "user-42"))
			h.dispatcher.Reset()
			h.backend.results = []call{tt.result}

			r := h.reconciler("abc123")
			assert.Equal(t, tt.want, r.Update(ctx))
			assert.Empty(t, h.dispatcher.Actions())

			// a dropped or retried update is still pending
			assert.Equal(t, job.Finished, r.Update(ctx))
			assert.Len(t, h.backend.requests, 2)
		})
	}
}

func TestUpdate_NewIDIsSent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.user.SetID(ctx, "first"))

	r := h.reconciler("abc123")
	require.Equal(t, job.Finished, r.Update(ctx))
	require.NoError(t, h.user.SetID(ctx, "second"))
	require.Equal(t, job.Finished, r.Update(ctx))
	require.Equal(t, job.Finished, r.Update(ctx))

	require.Len(t, h.backend.requests, 2)
	assert.Equal(t, "second", h.backend.requests[1].id)
}
