package handler

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/agent"
	"github.com/pushlane/pushlane/internal/api/models"
	"github.com/pushlane/pushlane/internal/api/response"
	"github.com/pushlane/pushlane/internal/tags"
)

// RegistrationHandler handles channel registration endpoints. Changes are
// persisted before the response and synced by background jobs, so successful
// writes answer 202 with the current status.
type RegistrationHandler struct {
	agent  *agent.Agent
	logger zerolog.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(a *agent.Agent, logger zerolog.Logger) *RegistrationHandler {
	return &RegistrationHandler{agent: a, logger: logger}
}

// UpdateRegistration handles POST /v1/registration/update.
func (h *RegistrationHandler) UpdateRegistration(w http.ResponseWriter, r *http.Request) {
	h.agent.UpdateRegistration()
	requestLogger(h.logger, r).Info().Msg("registration update requested")
	h.accepted(w, r)
}

// UpdatePush handles PUT /v1/push.
func (h *RegistrationHandler) UpdatePush(w http.ResponseWriter, r *http.Request) {
	var req models.PushRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid push settings", errs)
		return
	}

	ctx := r.Context()
	if req.PushEnabled != nil {
		if err := h.agent.SetPushEnabled(ctx, *req.PushEnabled); err != nil {
			h.fail(w, r, err, "failed to save push settings")
			return
		}
	}
	if req.UserNotificationsEnabled != nil {
		if err := h.agent.SetUserNotificationsEnabled(ctx, *req.UserNotificationsEnabled); err != nil {
			h.fail(w, r, err, "failed to save push settings")
			return
		}
	}
	if req.UserID != nil {
		if err := h.agent.SetUserID(ctx, strings.TrimSpace(*req.UserID)); err != nil {
			h.fail(w, r, err, "failed to save user id")
			return
		}
	}
	if req.Token != nil {
		if err := h.agent.SetPushToken(ctx, *req.Token); err != nil {
			h.fail(w, r, err, "failed to save push token")
			return
		}
	}
	h.accepted(w, r)
}

// GetTags handles GET /v1/channel/tags.
func (h *RegistrationHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	values, err := h.agent.Tags(r.Context())
	if err != nil {
		h.fail(w, r, err, "failed to read tags")
		return
	}
	if values == nil {
		values = []string{}
	}
	response.JSON(w, r, http.StatusOK, models.TagsResponse{Tags: values})
}

// SetTags handles PUT /v1/channel/tags.
func (h *RegistrationHandler) SetTags(w http.ResponseWriter, r *http.Request) {
	var req models.TagsRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if err := h.agent.SetTags(r.Context(), req.Tags); err != nil {
		h.fail(w, r, err, "failed to save tags")
		return
	}
	h.accepted(w, r)
}

// EditTagGroups handles POST /v1/channel/tag-groups.
func (h *RegistrationHandler) EditTagGroups(w http.ResponseWriter, r *http.Request) {
	var req models.TagGroupsRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid tag group edit", errs)
		return
	}
	if err := applyTagGroups(r, h.agent.EditTagGroups(), req); err != nil {
		h.fail(w, r, err, "failed to queue tag group edit")
		return
	}
	h.accepted(w, r)
}

func (h *RegistrationHandler) accepted(w http.ResponseWriter, r *http.Request) {
	status, err := h.agent.Status(r.Context())
	if err != nil {
		h.fail(w, r, err, "failed to read registration status")
		return
	}
	response.Accepted(w, r, status)
}

func (h *RegistrationHandler) fail(w http.ResponseWriter, r *http.Request, err error, detail string) {
	requestLogger(h.logger, r).Error().Err(err).Str("path", r.URL.Path).Msg(detail)
	response.InternalError(w, r, detail)
}

// applyTagGroups replays a request onto editor in set, remove, add order.
func applyTagGroups(r *http.Request, editor *tags.Editor, req models.TagGroupsRequest) error {
	for group, values := range req.Set {
		editor.SetTags(group, values...)
	}
	for group, values := range req.Remove {
		editor.RemoveTags(group, values...)
	}
	for group, values := range req.Add {
		editor.AddTags(group, values...)
	}
	return editor.Apply(r.Context())
}
