package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/channel"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/store"
)

type call struct {
	resp *backend.Response
	err  error
}

type fakeBackend struct {
	mu              sync.Mutex
	creates         []channel.Payload
	updates         []channel.Payload
	updateLocations []string
	createResults   []call
	updateResults   []call
}

func (b *fakeBackend) CreateChannel(_ context.Context, payload json.Marshaler) (*backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates = append(b.creates, payload.(channel.Payload))
	return pop(&b.createResults)
}

func (b *fakeBackend) UpdateChannel(_ context.Context, location string, payload json.Marshaler) (*backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, payload.(channel.Payload))
	b.updateLocations = append(b.updateLocations, location)
	return pop(&b.updateResults)
}

func pop(results *[]call) (*backend.Response, error) {
	if len(*results) == 0 {
		return &backend.Response{Status: http.StatusOK, Header: http.Header{}}, nil
	}
	r := (*results)[0]
	*results = (*results)[1:]
	return r.resp, r.err
}

func created(status int, id, location string) call {
	h := http.Header{}
	if location != "" {
		h.Set("Location", location)
	}
	body := `{"ok":true}`
	if id != "" {
		body = `{"ok":true,"channel_id":"` + id + `"}`
	}
	return call{resp: &backend.Response{Status: status, Body: []byte(body), Header: h}}
}

func status(code int) call {
	return call{resp: &backend.Response{Status: code, Header: http.Header{}}}
}

var errTransport = errors.New("connection refused")

type prefsSource struct {
	mu    sync.Mutex
	prefs channel.Preferences
}

func (p *prefsSource) Preferences(context.Context) (channel.Preferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefs, nil
}

func (p *prefsSource) update(fn func(*channel.Preferences)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.prefs)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type resetter struct {
	calls      int
	dispatched func() int
	seenAt     int
}

func (r *resetter) DisassociateIfNull(context.Context) error {
	r.calls++
	r.seenAt = r.dispatched()
	return nil
}

type harness struct {
	store      *store.InMemoryStore
	backend    *fakeBackend
	dispatcher *job.RecordingDispatcher
	prefs      *prefsSource
	clock      *fakeClock
	coord      *channel.Coordinator
	engine     *channel.Engine
}

func newHarness(t *testing.T, mutate func(*channel.EngineConfig)) *harness {
	t.Helper()

	h := &harness{
		store:      store.NewInMemoryStore(),
		backend:    &fakeBackend{},
		dispatcher: &job.RecordingDispatcher{},
		prefs:      &prefsSource{prefs: fullPreferences()},
		clock:      &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		coord:      channel.NewCoordinator(),
	}

	cfg := channel.EngineConfig{
		Store:       h.store,
		Backend:     h.backend,
		Dispatcher:  h.dispatcher,
		Coordinator: h.coord,
		Preferences: h.prefs,
		Device:      testDevice,
		Clock:       h.clock.Now,
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.engine = channel.NewEngine(cfg)
	return h
}

func (h *harness) createChannel(t *testing.T) {
	t.Helper()
	h.backend.createResults = append(h.backend.createResults, created(http.StatusCreated, "abc123", "https://x/channels/abc123"))
	require.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	h.dispatcher.Reset()
}

func TestEngine_CreateSuccess(t *testing.T) {
	h := newHarness(t, nil)
	events, cancel := h.engine.Events().Subscribe()
	defer cancel()

	h.backend.createResults = []call{created(http.StatusCreated, "abc123", "https://x/channels/abc123")}

	assert.Equal(t, channel.StateUnregistered, h.engine.State(context.Background()))
	result := h.engine.UpdateRegistration(context.Background())
	require.Equal(t, job.Finished, result)

	rec, err := h.engine.Repository().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.ID)
	assert.Equal(t, "https://x/channels/abc123", rec.Location)
	require.NotNil(t, rec.LastPayload)
	assert.True(t, rec.LastPayload.Equal(h.backend.creates[0]))
	assert.Equal(t, h.clock.now.UnixMilli(), rec.LastRegistration.UnixMilli())
	assert.Equal(t, channel.StateCreated, h.engine.State(context.Background()))

	assert.Equal(t, []string{
		job.ActionUpdateNamedUser,
		job.ActionUpdateChannelTags,
		job.ActionUpdateChannelRegistration,
	}, h.dispatcher.Actions())

	ev := <-events
	assert.Equal(t, channel.RegistrationEvent{ChannelID: "abc123", Success: true, IsCreate: true}, ev)
}

type orderingDispatcher struct {
	events <-chan channel.RegistrationEvent
	seen   map[string]int
	all    []string
}

func (d *orderingDispatcher) Dispatch(j job.Job) {
	if _, ok := d.seen[j.Action]; !ok {
		d.seen[j.Action] = len(d.events)
	}
	d.all = append(d.all, j.Action)
}

func TestEngine_CreateSideEffectOrder(t *testing.T) {
	b := channel.NewBroadcaster()
	events, cancel := b.Subscribe()
	defer cancel()

	d := &orderingDispatcher{events: events, seen: map[string]int{}}
	r := &resetter{dispatched: func() int { return len(d.all) }}

	h := newHarness(t, func(cfg *channel.EngineConfig) {
		cfg.Broadcaster = b
		cfg.Dispatcher = d
		cfg.ClearNamedUserOnReinstall = true
		cfg.NamedUser = r
	})
	h.backend.createResults = []call{created(http.StatusOK, "abc123", "https://x/channels/abc123")}

	require.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))

	assert.Equal(t, 1, r.calls)
	assert.Equal(t, 0, r.seenAt, "disassociate runs before any dispatch")
	assert.Equal(t, 0, d.seen[job.ActionUpdateNamedUser], "named user dispatched before broadcast")
	assert.Equal(t, 1, d.seen[job.ActionUpdateChannelTags], "tag sync dispatched after broadcast")
}

func TestEngine_Create201DoesNotClearNamedUser(t *testing.T) {
	r := &resetter{dispatched: func() int { return 0 }}
	h := newHarness(t, func(cfg *channel.EngineConfig) {
		cfg.ClearNamedUserOnReinstall = true
		cfg.NamedUser = r
	})
	h.backend.createResults = []call{created(http.StatusCreated, "abc123", "https://x/channels/abc123")}

	h.engine.UpdateRegistration(context.Background())
	assert.Equal(t, 0, r.calls)
}

func TestEngine_CreateFailures(t *testing.T) {
	tests := []struct {
		name   string
		result call
		want   job.Result
	}{
		{"no response", call{err: errTransport}, job.Retry},
		{"server error", status(http.StatusServiceUnavailable), job.Retry},
		{"missing location", created(http.StatusCreated, "abc123", ""), job.Retry},
		{"missing channel id", created(http.StatusCreated, "", "https://x/channels/abc123"), job.Retry},
		{"client error", status(http.StatusBadRequest), job.Finished},
		{"forbidden", status(http.StatusForbidden), job.Finished},
		{"accepted without channel", created(http.StatusAccepted, "abc123", "https://x/channels/abc123"), job.Finished},
		{"no content", status(http.StatusNoContent), job.Finished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			events, cancel := h.engine.Events().Subscribe()
			defer cancel()

			h.backend.createResults = []call{tt.result}
			assert.Equal(t, tt.want, h.engine.UpdateRegistration(context.Background()))

			id, err := h.engine.Repository().ChannelID(context.Background())
			require.NoError(t, err)
			assert.Empty(t, id)
			assert.Empty(t, h.dispatcher.Actions())

			ev := <-events
			assert.False(t, ev.Success)
			assert.True(t, ev.IsCreate)
		})
	}
}

func TestEngine_CreationDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.prefs.update(func(p *channel.Preferences) { p.ChannelCreationDelayEnabled = true })

	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	assert.Empty(t, h.backend.creates)
}

func TestEngine_SkipsWhilePushRegistering(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.SetPushRegistering(true)

	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	assert.Empty(t, h.backend.creates)
}

func TestEngine_PayloadEqualityGate(t *testing.T) {
	h := newHarness(t, nil)
	h.createChannel(t)

	// Unchanged payload right after create.
	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	assert.Empty(t, h.backend.updates)

	h.prefs.update(func(p *channel.Preferences) { p.Alias = "new-alias" })
	h.clock.now = h.clock.now.Add(time.Minute)

	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	h.clock.now = h.clock.now.Add(time.Minute)
	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))

	require.Len(t, h.backend.updates, 1)
	assert.Equal(t, "new-alias", h.backend.updates[0].Alias)
	assert.Equal(t, "https://x/channels/abc123", h.backend.updateLocations[0])
}

func TestEngine_ReregistersAfterInterval(t *testing.T) {
	h := newHarness(t, nil)
	h.createChannel(t)

	h.clock.now = h.clock.now.Add(24 * time.Hour)
	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	assert.Len(t, h.backend.updates, 1)
}

func TestEngine_FutureRegistrationTimeIsReset(t *testing.T) {
	h := newHarness(t, nil)
	h.createChannel(t)

	require.NoError(t, store.PutInt64(context.Background(), h.store, store.KeyLastRegistrationTime,
		h.clock.now.Add(48*time.Hour).UnixMilli()))

	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	assert.Len(t, h.backend.updates, 1)

	rec, err := h.engine.Repository().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.clock.now.UnixMilli(), rec.LastRegistration.UnixMilli())
}

func TestEngine_ConflictRecreatesWithSamePayload(t *testing.T) {
	h := newHarness(t, nil)
	h.createChannel(t)

	h.prefs.update(func(p *channel.Preferences) { p.Alias = "changed" })
	h.backend.updateResults = []call{status(http.StatusConflict)}
	h.backend.createResults = []call{created(http.StatusCreated, "def456", "https://x/channels/def456")}

	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))

	require.Len(t, h.backend.updates, 1)
	require.Len(t, h.backend.creates, 2)
	assert.True(t, h.backend.updates[0].Equal(h.backend.creates[1]))

	rec, err := h.engine.Repository().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "def456", rec.ID)
	assert.Equal(t, "https://x/channels/def456", rec.Location)
}

func TestEngine_ConflictThenCreateFailureLeavesChannelCleared(t *testing.T) {
	h := newHarness(t, nil)
	h.createChannel(t)

	h.prefs.update(func(p *channel.Preferences) { p.Alias = "changed" })
	h.backend.updateResults = []call{status(http.StatusConflict)}
	h.backend.createResults = []call{status(http.StatusInternalServerError)}

	assert.Equal(t, job.Retry, h.engine.UpdateRegistration(context.Background()))

	id, err := h.engine.Repository().ChannelID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestEngine_UpdateFailures(t *testing.T) {
	tests := []struct {
		name   string
		result call
		want   job.Result
	}{
		{"no response", call{err: errTransport}, job.Retry},
		{"server error", status(http.StatusBadGateway), job.Retry},
		{"not found", status(http.StatusNotFound), job.Finished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.createChannel(t)

			h.prefs.update(func(p *channel.Preferences) { p.Alias = "changed" })
			h.backend.updateResults = []call{tt.result}

			assert.Equal(t, tt.want, h.engine.UpdateRegistration(context.Background()))

			rec, err := h.engine.Repository().Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "abc123", rec.ID)
			assert.NotEqual(t, "changed", rec.LastPayload.Alias)
		})
	}
}

func TestEngine_InvalidLocationCreates(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Repository().SaveChannel(context.Background(), "abc123", "::not a url"))

	h.backend.createResults = []call{created(http.StatusCreated, "new", "https://x/channels/new")}
	assert.Equal(t, job.Finished, h.engine.UpdateRegistration(context.Background()))
	assert.Len(t, h.backend.creates, 1)
	assert.Empty(t, h.backend.updates)
}

func TestEngine_StartRegistrationOnce(t *testing.T) {
	h := newHarness(t, func(cfg *channel.EngineConfig) { cfg.PushTransportAllowed = true })

	assert.Equal(t, job.Finished, h.engine.StartRegistration(context.Background()))
	assert.Equal(t, job.Finished, h.engine.StartRegistration(context.Background()))

	assert.Equal(t, []string{job.ActionUpdatePushRegistration}, h.dispatcher.Actions())
	assert.True(t, h.coord.PushRegistering())
}

func TestEngine_StartRegistrationWithoutPushTransport(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.StartRegistration(context.Background())
	assert.Equal(t, []string{job.ActionUpdateChannelRegistration}, h.dispatcher.Actions())
	assert.False(t, h.coord.PushRegistering())
}

type tokenFunc func(context.Context) (string, error)

func (f tokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type sinkRecorder struct{ tokens []string }

func (s *sinkRecorder) StorePushToken(_ context.Context, token string) (bool, error) {
	s.tokens = append(s.tokens, token)
	return true, nil
}

func TestEngine_UpdatePushRegistration(t *testing.T) {
	sink := &sinkRecorder{}
	h := newHarness(t, func(cfg *channel.EngineConfig) {
		cfg.Tokens = tokenFunc(func(context.Context) (string, error) { return "tok", nil })
		cfg.TokenSink = sink
	})
	h.coord.SetPushRegistering(true)

	assert.Equal(t, job.Finished, h.engine.UpdatePushRegistration(context.Background()))
	assert.False(t, h.coord.PushRegistering())
	assert.Equal(t, []string{"tok"}, sink.tokens)
	assert.Equal(t, []string{job.ActionUpdateChannelRegistration}, h.dispatcher.Actions())
}

func TestEngine_UpdatePushRegistrationFailureRetries(t *testing.T) {
	h := newHarness(t, func(cfg *channel.EngineConfig) {
		cfg.Tokens = tokenFunc(func(context.Context) (string, error) { return "", errTransport })
	})

	assert.Equal(t, job.Retry, h.engine.UpdatePushRegistration(context.Background()))
	assert.True(t, h.coord.PushRegistering())
	assert.Empty(t, h.dispatcher.Actions())
}

func TestEngine_UpdatePushRegistrationPending(t *testing.T) {
	h := newHarness(t, func(cfg *channel.EngineConfig) {
		cfg.Tokens = tokenFunc(func(context.Context) (string, error) { return "", nil })
	})

	assert.Equal(t, job.Finished, h.engine.UpdatePushRegistration(context.Background()))
	assert.True(t, h.coord.PushRegistering())
	assert.Empty(t, h.dispatcher.Actions())
}
