// Package httpserver contains HTTP handlers and middleware.
//
// Two surfaces share this package: the collector (log ingestion) and the
// analysis API (text-to-SQL queries, alerts, streaming). Every error leaves
// the process as a sanitized error envelope with a stable machine code.
package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/loglens/loglens/internal/domain"
	"github.com/loglens/loglens/pkg/redact"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps envelope codes to HTTP statuses.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidationError, domain.CodeInvalidRequest,
		domain.CodeMissingParameter, domain.CodeInvalidSQL:
		return http.StatusBadRequest
	case domain.CodeLLMTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeLLMError:
		return http.StatusBadGateway
	case domain.CodeServiceUnavailable, domain.CodePoolExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the sanitized envelope for err. Details must already be
// safe for clients.
func writeError(w http.ResponseWriter, r *http.Request, err error, details map[string]any) {
	code := domain.CodeOf(err)
	env := domain.NewEnvelope(code, redact.Error(err), details)
	if reqID := r.Header.Get("X-Request-Id"); reqID != "" {
		env.RequestID = reqID
	}
	if code == domain.CodeServiceUnavailable || code == domain.CodePoolExhausted {
		retry := 30
		env.RetryAfter = &retry
	}
	writeJSON(w, statusFor(code), env)
}
