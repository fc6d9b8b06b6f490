package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/api/middleware"
)

// requestLogger tags base with the request id and the control token subject.
func requestLogger(base zerolog.Logger, r *http.Request) *zerolog.Logger {
	ctx := base.With().Str("request_id", middleware.GetRequestID(r.Context()))
	if sub := middleware.GetSubject(r.Context()); sub != "" {
		ctx = ctx.Str("subject", sub)
	}
	l := ctx.Logger()
	return &l
}
