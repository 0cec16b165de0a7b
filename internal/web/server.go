// Package web provides the HTTP API of the upload service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/filedrop/internal/core"
	"github.com/JonMunkholm/filedrop/internal/history"
	mw "github.com/JonMunkholm/filedrop/internal/web/middleware"
)

// Negotiator picks the response language and resolves message keys.
type Negotiator interface {
	core.Translator
	Match(acceptLanguage string) string
}

// HistoryReader lists committed uploads.
type HistoryReader interface {
	Recent(ctx context.Context, limit, offset int) ([]history.Entry, error)
}

// Deps are the collaborators of a Server. History may be nil.
type Deps struct {
	Uploader   *core.Uploader
	Translator Negotiator
	History    HistoryReader
}

// Options configures a Server.
type Options struct {
	Addr           string
	FieldName      string
	MaxRequestSize int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// RequestsPerMinute per client IP; 0 disables rate limiting.
	RequestsPerMinute int
	TrustedProxies    []string
}

// Server is the HTTP server for uploads.
type Server struct {
	uploader   *core.Uploader
	translator Negotiator
	history    HistoryReader
	opts       Options

	router  *chi.Mux
	limiter *rateLimiter
	server  *http.Server
	stop    context.CancelFunc
}

// NewServer creates a Server.
func NewServer(deps Deps, opts Options) *Server {
	if opts.FieldName == "" {
		opts.FieldName = "file"
	}
	s := &Server{
		uploader:   deps.Uploader,
		translator: deps.Translator,
		history:    deps.History,
		opts:       opts,
		router:     chi.NewRouter(),
	}
	if opts.RequestsPerMinute > 0 {
		s.limiter = newRateLimiter(opts.RequestsPerMinute, time.Minute)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.ClientIP(s.opts.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.opts.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.opts.RequestTimeout))
	}
	s.router.Use(securityHeaders)
	if s.limiter != nil {
		s.router.Use(s.limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/upload/{sessionID}/progress", s.handleProgress)
		r.Delete("/upload/{sessionID}", s.handleAbort)

		if s.history != nil {
			r.Get("/history", s.handleHistory)
		}
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	if s.limiter != nil {
		go s.limiter.run(ctx)
	}

	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.opts.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v with status. Encoding errors are only logged since the
// header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
