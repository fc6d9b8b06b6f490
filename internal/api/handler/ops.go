// Package handler provides HTTP handlers for the agent control API.
package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/agent"
	"github.com/pushlane/pushlane/internal/api/models"
	"github.com/pushlane/pushlane/internal/api/response"
	"github.com/pushlane/pushlane/internal/resilience"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version  string
	agent    *agent.Agent
	registry *resilience.Registry
	logger   zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler. registry may be nil.
func NewOpsHandler(version string, a *agent.Agent, registry *resilience.Registry, logger zerolog.Logger) *OpsHandler {
	return &OpsHandler{
		version:  version,
		agent:    a,
		registry: registry,
		logger:   logger,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(time.Now()),
		Details: map[string]interface{}{"version": h.version},
	})
}

// SystemStatus handles GET /v1/ops/status - registration state and backend
// client health.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	reg, err := h.agent.Status(r.Context())
	if err != nil {
		requestLogger(h.logger, r).Error().Err(err).Msg("failed to read registration status")
		response.InternalError(w, r, "failed to read registration status")
		return
	}

	status := models.SystemStatus{
		Status:       models.HealthStatusOK,
		Time:         models.Timestamp(time.Now()),
		Registration: reg,
		Backends:     []models.BackendStatus{},
	}

	if h.registry != nil {
		for _, health := range h.registry.GetAllHealth() {
			b := backendStatus(health)
			status.Backends = append(status.Backends, b)
			status.Status = worse(status.Status, b.Status)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func backendStatus(h *resilience.Health) models.BackendStatus {
	b := models.BackendStatus{
		Name:    h.Name,
		Status:  models.HealthStatusOK,
		Circuit: h.CircuitState.String(),
	}
	switch {
	case h.IsUnhealthy():
		b.Status = models.HealthStatusFail
	case h.IsDegraded():
		b.Status = models.HealthStatusDegraded
	}
	if h.LastSuccessAt != nil {
		ts := models.Timestamp(*h.LastSuccessAt)
		b.LastSuccessAt = &ts
	}
	if h.LastFailureAt != nil {
		ts := models.Timestamp(*h.LastFailureAt)
		b.LastFailureAt = &ts
	}
	if h.LastError != "" {
		msg := h.LastError
		b.Message = &msg
	}
	return b
}

func worse(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
