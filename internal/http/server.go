// Package http serves the admin JSON API over the members service.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"membership/internal/log"
	"membership/internal/members"
	"membership/internal/middleware/ratelimit"
	"membership/internal/middleware/security"
	"membership/internal/middleware/trace"
	"membership/internal/session"
)

// Options wires the server to its collaborators.
type Options struct {
	Addr    string
	Members *members.Service
	Gate    *session.Gate
	Logger  *log.Logger
	// RateLimitPerMinute bounds POST and PATCH requests per client.
	RateLimitPerMinute int
	// Ready reports whether the backing stores are usable; nil means always.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	members   *members.Service
	gate      *session.Gate
	logger    *log.Logger
	ready     func(context.Context) error
	startedAt time.Time

	detector    *security.Detector
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware

	shutdownOnce sync.Once
}

// adminHandler runs after the session gate has admitted an admin.
type adminHandler func(w http.ResponseWriter, r *http.Request, claims session.Claims)

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		members:   opts.Members,
		gate:      opts.Gate,
		logger:    logger,
		ready:     opts.Ready,
		startedAt: time.Now(),
		detector:  security.NewDetector(logger),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /sign-in", s.handleSignIn)

	mux.HandleFunc("POST /sign-out", s.admin(s.handleSignOut))
	mux.HandleFunc("GET /metrics", s.admin(s.handleMetrics))
	mux.HandleFunc("GET /{$}", s.admin(s.handleDashboard))
	mux.HandleFunc("POST /members", s.admin(s.handleCreateMember))
	mux.HandleFunc("GET /member/{id}", s.admin(s.handleMemberDetail))
	mux.HandleFunc("PATCH /member/{id}", s.admin(s.handleUpdateMember))
	mux.HandleFunc("POST /member/{id}/payments", s.admin(s.handleRecordPayment))
	mux.HandleFunc("POST /member/{id}/meat", s.admin(s.handleMeat))
	mux.HandleFunc("GET /meat-distribution", s.admin(s.handleMeatDistribution))
	mux.HandleFunc("GET /transactions", s.admin(s.handleTransactions))

	limit := s.rateLimiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, msgRateLimited).Write(w)
	}, http.MethodPost, http.MethodPatch)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var handler http.Handler = mux
	handler = limit(handler)
	handler = s.detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// SessionCookie carries the session id issued by POST /sign-in.
const SessionCookie = "membership_session"

// admin wraps h with the session gate. Any gate failure sends the client
// back to sign-in.
func (s *Server) admin(h adminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if c, err := r.Cookie(SessionCookie); err == nil {
			sessionID = c.Value
		}
		claims, err := s.gate.Authorize(r.Context(), sessionID)
		if err != nil {
			writeError(w, r, "authorize", err)
			return
		}
		h(w, r, claims)
	}
}

func sessionCookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	}
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
