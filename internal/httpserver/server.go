// internal/httpserver/server.go
//
// HTTP server wiring for the mists backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs, logging).
//   - Public endpoints: "/", "/health", "/catalog", "/debug/catalog".
//   - Round endpoints (optional auth): POST /round/new, POST /round/answer.
//   - Scoreboard and settings (optional auth): /stats/me, /settings.
//   - Daily round endpoints (optional auth): mounted under /daily.
//   - Auth endpoints: /auth/*.
//   - WebSocket play loop: GET /ws.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Optional auth decorates requests with user context when a valid token is present;
//     guests are tracked by an anonymous cookie instead.
//   - /ws sits outside the timeout group; a hijacked connection outlives any
//     per-request deadline.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/robalobadob/mists/internal/auth"
	"github.com/robalobadob/mists/internal/catalog"
	"github.com/robalobadob/mists/internal/daily"
	"github.com/robalobadob/mists/internal/database"
	"github.com/robalobadob/mists/internal/puzzle"
	"github.com/robalobadob/mists/internal/stats"
	"github.com/robalobadob/mists/internal/store"
)

// Options are the knobs the command line hands to the server.
type Options struct {
	ClientOrigin   string        // CORS origin; default http://localhost:5173
	DailySalt      string        // HMAC key for the daily round
	PublicURL      string        // base URL encoded in the daily QR code; derived from the request when empty
	SecureCookies  bool          // Secure + SameSite=None cookies for cross-site deployments
	RequestTimeout time.Duration // per-request handler bound; default 10s
}

// Server bundles router, round store, generator and persistence.
type Server struct {
	r      *chi.Mux
	opts   Options
	rounds store.Store
	gen    *puzzle.Generator
	stats  stats.Store
	users  *auth.Users
	tokens *auth.Tokens
	daily  *dailyServer

	upgrader websocket.Upgrader

	now func() time.Time
}

// New constructs a Server, installs middleware, and registers routes.
func New(db *database.DB, rounds store.Store, gen *puzzle.Generator, tokens *auth.Tokens, opts Options) *Server {
	if opts.ClientOrigin == "" {
		opts.ClientOrigin = "http://localhost:5173"
	}
	if opts.DailySalt == "" {
		opts.DailySalt = "local_dev_salt"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	s := &Server{
		r:      chi.NewRouter(),
		opts:   opts,
		rounds: rounds,
		gen:    gen,
		stats:  stats.NewSQLStore(db),
		users:  auth.NewUsers(db),
		tokens: tokens,
		now:    time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(requestLogger)   // one zerolog line per request
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(s.cors)          // credentials-friendly CORS

	// WebSocket play loop, outside the timeout group.
	s.r.With(s.withOptionalAuth()).Get("/ws", s.handleWS)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(opts.RequestTimeout)) // bound handler time
		r.Use(jsonContentType)                    // default JSON responses

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"service":"mists","endpoints":["/health","/catalog","POST /round/new","POST /round/answer","/stats/me","/settings","/daily/*","/auth/*","/ws"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		})
		r.Get("/catalog", s.handleCatalog)

		// Debug: catalog counts
		r.Get("/debug/catalog", func(w http.ResponseWriter, r *http.Request) {
			tokens, attrs := catalog.Stats()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"source":     catalog.Source(),
				"tokens":     tokens,
				"attributes": attrs,
				"inFlight":   s.rounds.Len(),
			})
		})

		// Play endpoints: OPTIONAL AUTH (guests can play)
		r.Group(func(r chi.Router) {
			r.Use(s.withOptionalAuth())
			r.Post("/round/new", s.handleNewRound)
			r.Post("/round/answer", s.handleAnswer)
			r.Get("/stats/me", s.handleStats)
			r.Delete("/stats/me", s.handleResetStats)
			r.Get("/settings", s.handleSettings)
			r.Put("/settings", s.handleSaveSettings)

			s.daily = s.mountDaily(r, daily.NewStore(db))
		})

		s.mountAuthRoutes(r)
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ServeHTTP lets the Server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.r.ServeHTTP(w, r) }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       10 * time.Minute,
		// Request contexts end with ctx; hijacked /ws connections watch it.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ------------------------------- small util --------------------------------

// errorBody is the shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON sets the status and encodes v.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": code} and an optional human-readable message.
func writeError(w http.ResponseWriter, status int, code string, msg ...string) {
	body := errorBody{Error: code}
	if len(msg) > 0 {
		body.Message = msg[0]
	}
	writeJSON(w, status, body)
}
