package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/filedrop/internal/core"
	"github.com/JonMunkholm/filedrop/internal/logging"
)

// ErrorResponse is the JSON body of every failed API request. Errors is set
// for validation failures only and maps the offending field to its reasons.
type ErrorResponse struct {
	Message string              `json:"message"`
	Action  string              `json:"action,omitempty"`
	Code    string              `json:"code"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// statusFor maps an upload error to its HTTP status.
func statusFor(err error) int {
	var (
		verr    *core.ValidationError
		missing *core.MissingUploadError
		serr    *core.StorageWriteError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, core.ErrChunkOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &serr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error with the request id and writes the
// mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err,
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request error", args...)
	} else {
		logger.Warn("request error", args...)
	}

	body := ErrorResponse{Message: msg.Message, Action: msg.Action, Code: msg.Code}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		// The reason stays in the log line above.
		body.Message = s.translator.Translate(core.LanguageFromContext(r.Context()), core.MsgUploadValidation)
		body.Errors = map[string][]string{verr.Field: {body.Message}}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	writeJSON(w, status, body)
}
