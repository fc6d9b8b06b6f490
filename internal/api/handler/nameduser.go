package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/agent"
	"github.com/pushlane/pushlane/internal/api/models"
	"github.com/pushlane/pushlane/internal/api/response"
	"github.com/pushlane/pushlane/internal/nameduser"
)

// NamedUserHandler handles named user endpoints.
type NamedUserHandler struct {
	agent  *agent.Agent
	logger zerolog.Logger
}

// NewNamedUserHandler creates a new NamedUserHandler.
func NewNamedUserHandler(a *agent.Agent, logger zerolog.Logger) *NamedUserHandler {
	return &NamedUserHandler{agent: a, logger: logger}
}

// SetNamedUser handles PUT /v1/named-user.
func (h *NamedUserHandler) SetNamedUser(w http.ResponseWriter, r *http.Request) {
	var req models.NamedUserRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid named user", errs)
		return
	}
	h.setID(w, r, req.ID)
}

// ClearNamedUser handles DELETE /v1/named-user.
func (h *NamedUserHandler) ClearNamedUser(w http.ResponseWriter, r *http.Request) {
	h.setID(w, r, "")
}

// EditTagGroups handles POST /v1/named-user/tag-groups.
func (h *NamedUserHandler) EditTagGroups(w http.ResponseWriter, r *http.Request) {
	var req models.TagGroupsRequest
	if !response.Decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid tag group edit", errs)
		return
	}
	if err := applyTagGroups(r, h.agent.NamedUser().EditTagGroups(), req); err != nil {
		requestLogger(h.logger, r).Error().Err(err).Msg("failed to queue named user tag group edit")
		response.InternalError(w, r, "failed to queue tag group edit")
		return
	}
	h.accepted(w, r)
}

func (h *NamedUserHandler) setID(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.agent.NamedUser().SetID(r.Context(), id); err != nil {
		if errors.Is(err, nameduser.ErrInvalidID) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		requestLogger(h.logger, r).Error().Err(err).Msg("failed to save named user")
		response.InternalError(w, r, "failed to save named user")
		return
	}
	requestLogger(h.logger, r).Info().Bool("cleared", id == "").Msg("named user changed")
	h.accepted(w, r)
}

func (h *NamedUserHandler) accepted(w http.ResponseWriter, r *http.Request) {
	status, err := h.agent.Status(r.Context())
	if err != nil {
		requestLogger(h.logger, r).Error().Err(err).Msg("failed to read registration status")
		response.InternalError(w, r, "failed to read registration status")
		return
	}
	response.Accepted(w, r, status)
}
