package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/filedrop/internal/core"
	"github.com/JonMunkholm/filedrop/internal/logging"
)

// SessionHeader carries the session id on pending chunk responses so clients
// can poll progress or abort.
const SessionHeader = "X-Upload-Session"

// handleUpload accepts one single-shot upload or one chunk.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	if field == "" {
		field = s.opts.FieldName
	}
	if s.opts.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestSize)
	}

	r = r.WithContext(s.withLanguage(r))

	res, err := s.uploader.Handle(r, field)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if res.Pending != nil {
		w.Header().Set(SessionHeader, res.SessionID)
	} else {
		logging.WithFields(r.Context(),
			"protocol", res.Protocol,
			"session_id", res.SessionID,
		).Debug("upload finished", "path", res.Commit.Path)
	}
	writeJSON(w, http.StatusOK, res.Response())
}

// handleProgress reports a chunked session's progress.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.uploader.Progress(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		core.UploadResponse
		Progress *core.Progress `json:"progress"`
	}{core.PendingResponse(p.Percent), p})
}

// handleAbort discards a chunked session.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.uploader.Abort(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"finalize": s.uploader.Limiter().Status(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := s.history.Recent(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": entries})
}

func (s *Server) withLanguage(r *http.Request) context.Context {
	lang := s.translator.Match(r.Header.Get("Accept-Language"))
	return core.ContextWithLanguage(r.Context(), lang)
}
