package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mists/internal/auth"
)

// credentials is the payload of signup and login.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// mountAuthRoutes registers /auth/*.
func (s *Server) mountAuthRoutes(r chi.Router) {
	r.Post("/auth/signup", s.handleSignup)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)

	// Current user (gated)
	r.With(s.requireAuth()).Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(userFrom(r.Context()))
	})
}

// handleSignup creates a new user, signs a JWT, sets auth cookie, and claims guest history.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	u, err := s.users.Create(r.Context(), body.Username, body.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username_taken")
		return
	case errors.Is(err, auth.ErrInvalidSignup):
		writeError(w, http.StatusBadRequest, "invalid_signup", err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("create user")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	s.login(w, r, u)
}

// handleLogin authenticates user, sets cookie, and claims guest history.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	u, err := s.users.Authenticate(r.Context(), body.Username, body.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("find user")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	s.login(w, r, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, u *auth.User) {
	tok, exp, err := s.tokens.Sign(u.ID, u.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign_failed")
		return
	}
	s.setAuthCookie(w, tok, exp)
	if anon := anonID(r); anon != "" {
		s.claimGuest(r.Context(), "anon:"+anon, u.Owner())
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"createdAt": u.CreatedAt,
		"token":     tok,
	})
}

// claimGuest attaches a guest's scoreboard, settings and daily results to
// an account (best effort).
func (s *Server) claimGuest(ctx context.Context, from, to string) {
	if err := s.stats.Claim(ctx, from, to); err != nil {
		log.Warn().Err(err).Str("to", to).Msg("claim guest stats")
	}
	if err := s.daily.store.Claim(ctx, from, to); err != nil {
		log.Warn().Err(err).Str("to", to).Msg("claim guest daily results")
	}
}

// handleLogout clears the auth cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearAuthCookie(w)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
