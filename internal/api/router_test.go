package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushlane/pushlane/internal/agent"
	"github.com/pushlane/pushlane/internal/api"
	"github.com/pushlane/pushlane/internal/api/middleware"
	"github.com/pushlane/pushlane/internal/api/models"
	"github.com/pushlane/pushlane/internal/auth"
	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/channel"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/resilience"
	"github.com/pushlane/pushlane/internal/store"
)

const signingKey = "test-secret-key-for-testing-only"

type testEnv struct {
	router     http.Handler
	agent      *agent.Agent
	dispatcher *job.RecordingDispatcher
	token      string
}

// newTestEnv builds the router around a real agent. Jobs are recorded, not
// run, so the backend is never contacted.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	registry := resilience.NewRegistry()
	httpClient := resilience.NewClient(func() resilience.ClientConfig {
		cfg := resilience.DefaultClientConfig(backend.ClientName)
		cfg.Registry = registry
		return cfg
	}())

	d := &job.RecordingDispatcher{}
	a, err := agent.New(ctx, agent.Config{
		Store: store.NewInMemoryStore(),
		Backend: backend.NewClient(backend.ClientConfig{
			BaseURL:    "http://127.0.0.1:1",
			AppKey:     "key",
			AppSecret:  "secret",
			HTTPClient: httpClient,
			Logger:     zerolog.Nop(),
		}),
		Dispatcher: d,
		Device:     channel.DeviceAttributes{DeviceType: channel.DeviceAndroid},
		Defaults:   agent.DefaultPreferences(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	jwtService := auth.NewJWTService(auth.JWTConfig{SigningKey: signingKey})
	token, _, err := jwtService.GenerateToken("fleet-operator", "")
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		Logger:    zerolog.New(io.Discard),
		Agent:     a,
		Registry:  registry,
		Tokens:    jwtService,
		RateLimit: middleware.ControlRateLimit(100),
	})

	return &testEnv{router: router, agent: a, dispatcher: d, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) agent.Status {
	t.Helper()
	var s agent.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return s
}

func TestRouter_HealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/v1/ops/status"},
		{http.MethodPost, "/v1/registration/update"},
		{http.MethodPut, "/v1/push"},
		{http.MethodGet, "/v1/channel/tags"},
		{http.MethodPut, "/v1/channel/tags"},
		{http.MethodPost, "/v1/channel/tag-groups"},
		{http.MethodPut, "/v1/named-user"},
		{http.MethodDelete, "/v1/named-user"},
		{http.MethodPost, "/v1/named-user/tag-groups"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, http.NoBody))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
	assert.Empty(t, env.dispatcher.Jobs())
}

func TestRouter_SystemStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Equal(t, "unregistered", status.Registration.State)
	require.Len(t, status.Backends, 1)
	assert.Equal(t, backend.ClientName, status.Backends[0].Name)
	assert.Equal(t, "closed", status.Backends[0].Circuit)
}

func TestRouter_UpdateRegistration(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/registration/update", "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{job.ActionUpdateChannelRegistration}, env.dispatcher.Actions())
}

func TestRouter_UpdatePush(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/v1/push", `{"user_notifications_enabled":true,"token":"fcm-token"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{
		job.ActionUpdateChannelRegistration,
		job.ActionUpdatePushRegistration,
	}, env.dispatcher.Actions())

	w = env.do(t, http.MethodPut, "/v1/push", `{"token":"fcm-token"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	// same token, nothing new to register
	assert.Len(t, env.dispatcher.Jobs(), 2)
}

func TestRouter_UpdatePush_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"unknown field", `{"push":true}`},
		{"malformed", `{"push_enabled":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/v1/push", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
	assert.Empty(t, env.dispatcher.Jobs())
}

func TestRouter_ChannelTags(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/v1/channel/tags", `{"tags":["beta"," alpha "]}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, http.MethodGet, "/v1/channel/tags", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tags":["alpha","beta"]}`, w.Body.String())
}

func TestRouter_ChannelTagGroups(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/channel/tag-groups",
		`{"add":{"interests":["sports"]},"remove":{"interests":["news"]}}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, decodeStatus(t, w).PendingChannelTagGroups)
	assert.Equal(t, []string{job.ActionUpdateChannelTags}, env.dispatcher.Actions())

	w = env.do(t, http.MethodPost, "/v1/channel/tag-groups", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_NamedUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/v1/named-user", `{"id":" user-42 "}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "user-42", decodeStatus(t, w).NamedUserID)
	assert.Equal(t, []string{job.ActionUpdateNamedUser}, env.dispatcher.Actions())

	w = env.do(t, http.MethodPost, "/v1/named-user/tag-groups", `{"add":{"loyalty":["gold"]}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, decodeStatus(t, w).PendingNamedUserTagGroups)

	w = env.do(t, http.MethodDelete, "/v1/named-user", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	status := decodeStatus(t, w)
	assert.Empty(t, status.NamedUserID)
	// changing the named user drops its pending tag edits
	assert.Zero(t, status.PendingNamedUserTagGroups)
}

func TestRouter_NamedUser_Invalid(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"id":""}`, `{"id":"` + strings.Repeat("x", 129) + `"}`} {
		w := env.do(t, http.MethodPut, "/v1/named-user", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	assert.Empty(t, env.dispatcher.Jobs())
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/named-user", strings.NewReader("id=user"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_SecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/status", "")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
