package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushlane/pushlane/internal/api/models"
)

func TestNewProblem_UnknownStatus(t *testing.T) {
	p := models.NewProblem(http.StatusTeapot, "req_test123", "short and stout")

	assert.Equal(t, models.ProblemTypeInternal, p.Type)
	assert.Equal(t, http.StatusText(http.StatusTeapot), p.Title)
	assert.Equal(t, http.StatusTeapot, p.Status)
	assert.Equal(t, "short and stout", p.Detail)
}

func TestProblem_WriteFor(t *testing.T) {
	p := models.NewNotFound("req_test123", "no such route")

	w := httptest.NewRecorder()
	p.WriteFor(w, httptest.NewRequest(http.MethodGet, "/v1/nowhere", nil))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "/v1/nowhere", result.Instance)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_test123", "invalid input", []models.FieldError{
		{Field: "id", Message: "required"},
	})
	p.Instance = "/v1/named-user"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.ProblemTypeValidation, result.Type)
	assert.Equal(t, "/v1/named-user", result.Instance)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "id", result.Errors[0].Field)
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		name    string
		problem *models.Problem
		typ     string
		status  int
	}{
		{"bad request", models.NewBadRequest("req_1", "d", nil), models.ProblemTypeValidation, http.StatusBadRequest},
		{"unauthorized", models.NewUnauthorized("req_1", "d"), models.ProblemTypeUnauthorized, http.StatusUnauthorized},
		{"tls required", models.NewTLSRequired("req_1"), models.ProblemTypeTLSRequired, http.StatusForbidden},
		{"not found", models.NewNotFound("req_1", "d"), models.ProblemTypeNotFound, http.StatusNotFound},
		{"media type", models.NewUnsupportedMediaType("req_1", "d"), models.ProblemTypeUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{"rate limited", models.NewTooManyRequests("req_1", "d"), models.ProblemTypeTooManyRequests, http.StatusTooManyRequests},
		{"internal", models.NewInternalError("req_1", "d"), models.ProblemTypeInternal, http.StatusInternalServerError},
		{"unavailable", models.NewServiceUnavailable("req_1", "d"), models.ProblemTypeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.problem.Type)
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, "req_1", tt.problem.TraceID)
			assert.NotEmpty(t, tt.problem.Title)
			assert.NotEmpty(t, tt.problem.Detail)
		})
	}
}
