package models

import "github.com/pushlane/pushlane/internal/agent"

// Health represents the liveness of the agent process.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus combines registration state with backend client health.
type SystemStatus struct {
	Status       HealthStatus    `json:"status"`
	Time         Timestamp       `json:"time"`
	Registration agent.Status    `json:"registration"`
	Backends     []BackendStatus `json:"backends"`
}

// BackendStatus is the circuit breaker view of one outbound client.
type BackendStatus struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	Circuit       string       `json:"circuit"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}
