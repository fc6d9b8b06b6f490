package models

import (
	"encoding/json"
	"net/http"
)

const problemBaseURL = "https://pushlane.dev/problems/"

// Problem types.
const (
	ProblemTypeValidation           = problemBaseURL + "validation-error"
	ProblemTypeUnauthorized         = problemBaseURL + "unauthorized"
	ProblemTypeTLSRequired          = problemBaseURL + "tls-required"
	ProblemTypeNotFound             = problemBaseURL + "not-found"
	ProblemTypeUnsupportedMediaType = problemBaseURL + "unsupported-media-type"
	ProblemTypeTooManyRequests      = problemBaseURL + "too-many-requests"
	ProblemTypeInternal             = problemBaseURL + "internal-error"
	ProblemTypeUnavailable          = problemBaseURL + "service-unavailable"
)

// Problem is an RFC 7807 body. Every control API error is written as
// application/problem+json with the request id as TraceID.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError is a validation failure on one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type problemKind struct {
	typ   string
	title string
}

var problemKinds = map[int]problemKind{
	http.StatusBadRequest:           {ProblemTypeValidation, "Validation error"},
	http.StatusUnauthorized:         {ProblemTypeUnauthorized, "Unauthorized"},
	http.StatusForbidden:            {ProblemTypeTLSRequired, "TLS required"},
	http.StatusNotFound:             {ProblemTypeNotFound, "Not found"},
	http.StatusUnsupportedMediaType: {ProblemTypeUnsupportedMediaType, "Unsupported media type"},
	http.StatusTooManyRequests:      {ProblemTypeTooManyRequests, "Too many requests"},
	http.StatusInternalServerError:  {ProblemTypeInternal, "Internal server error"},
	http.StatusServiceUnavailable:   {ProblemTypeUnavailable, "Service unavailable"},
}

// NewProblem returns the problem registered for status. Unknown statuses get
// the internal error type with the status text as title.
func NewProblem(status int, traceID, detail string) *Problem {
	kind, ok := problemKinds[status]
	if !ok {
		kind = problemKind{typ: ProblemTypeInternal, title: http.StatusText(status)}
	}
	return &Problem{
		Type:    kind.typ,
		Title:   kind.title,
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write writes the problem to w.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-Id", p.TraceID)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteFor sets Instance to the request path and writes the problem.
func (p *Problem) WriteFor(w http.ResponseWriter, r *http.Request) {
	p.Instance = r.URL.Path
	p.Write(w)
}

func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

func NewUnauthorized(traceID, detail string) *Problem {
	return NewProblem(http.StatusUnauthorized, traceID, detail)
}

func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(http.StatusNotFound, traceID, detail)
}

// NewTLSRequired rejects a request a proxy marked as plain HTTP.
func NewTLSRequired(traceID string) *Problem {
	return NewProblem(http.StatusForbidden, traceID, "this endpoint requires HTTPS")
}

func NewUnsupportedMediaType(traceID, detail string) *Problem {
	return NewProblem(http.StatusUnsupportedMediaType, traceID, detail)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return NewProblem(http.StatusTooManyRequests, traceID, detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(http.StatusInternalServerError, traceID, detail)
}

func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewProblem(http.StatusServiceUnavailable, traceID, detail)
}
