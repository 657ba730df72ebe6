// internal/httpserver/routes_daily.go
//
// HTTP routes for the daily round.
// Exposes four endpoints under /daily:
//   - POST /daily/new         → start today's round (creates or reuses the session)
//   - POST /daily/answer      → answer today's round, once
//   - GET  /daily/leaderboard → results for today (or ?date=YYYY-MM-DD)
//   - GET  /daily/qr          → PNG QR code pointing at the daily page
//
// Each owner can answer once per day (enforced by the DB primary key).
// Open sessions live in the round store, so unanswered ones are reaped like
// any other round. The round itself is derived from date + salt.

package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/robalobadob/mists/internal/daily"
	"github.com/robalobadob/mists/internal/stats"
	"github.com/robalobadob/mists/internal/store"
)

// dailyServer wraps dependencies for /daily endpoints.
type dailyServer struct {
	srv      *Server
	store    *daily.Store
	sessions map[string]string // round id keyed by owner|date
	mu       sync.Mutex        // guards sessions
}

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router, st *daily.Store) *dailyServer {
	dd := &dailyServer{
		srv:      s,
		store:    st,
		sessions: make(map[string]string),
	}
	r.Route("/daily", func(r chi.Router) {
		r.Post("/new", dd.handleNew)
		r.Post("/answer", dd.handleAnswer)
		r.Get("/leaderboard", dd.handleLeaderboard)
		r.Get("/qr", dd.handleQR)
	})
	return dd
}

// today returns the current date key.
func (d *dailyServer) today() string {
	return daily.DateKey(d.srv.now())
}

// -----------------------------------------------------------------------------
// /daily/new

// dailyNewRes is returned by /daily/new. Round fields are empty once played.
type dailyNewRes struct {
	newRoundRes
	Date   string `json:"date"`
	Played bool   `json:"played"`
}

// handleNew creates or reuses a daily session for the current date.
// - If the owner already has a DB row for today → Played=true.
// - Otherwise reuse the open session or draw today's round.
func (d *dailyServer) handleNew(w http.ResponseWriter, r *http.Request) {
	owner := d.srv.owner(w, r)
	date := d.today()

	played, err := d.store.AlreadyPlayed(r.Context(), owner, date)
	if err != nil {
		log.Error().Err(err).Msg("daily already played")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if played {
		_ = json.NewEncoder(w).Encode(dailyNewRes{Date: date, Played: true})
		return
	}

	key := owner + "|" + date
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.sessions[key]; ok {
		if sess, err := d.srv.rounds.Get(r.Context(), id); err == nil {
			_ = json.NewEncoder(w).Encode(dailyNewRes{newRoundRes: sessionView(sess), Date: date})
			return
		}
	}

	round, items, err := daily.Round(d.srv.now(), d.srv.opts.DailySalt, d.srv.gen.Catalog(), d.srv.gen.Options()...)
	if err != nil {
		d.srv.roundFailed(w, err)
		return
	}
	sess := &store.Session{
		ID:         uuid.NewString(),
		Owner:      owner,
		Difficulty: stats.Normal,
		Round:      round,
		Items:      items,
		Daily:      date,
		StartedAt:  d.srv.now(),
	}
	if err := d.srv.rounds.Save(r.Context(), sess); err != nil {
		d.srv.roundFailed(w, err)
		return
	}

	// Drop keys of past days.
	for k := range d.sessions {
		if !strings.HasSuffix(k, "|"+date) {
			delete(d.sessions, k)
		}
	}
	d.sessions[key] = sess.ID

	_ = json.NewEncoder(w).Encode(dailyNewRes{newRoundRes: sessionView(sess), Date: date})
}

// -----------------------------------------------------------------------------
// /daily/answer

type dailyAnswerRes struct {
	Correct       bool   `json:"correct"`
	CorrectID     string `json:"correctId"`
	Discriminator string `json:"discriminator"`
	ElapsedMs     int64  `json:"elapsedMs"`
	Date          string `json:"date"`
}

// handleAnswer checks the pick for today's round and stores the result.
// Daily rounds do not touch the free-play scoreboard.
func (d *dailyServer) handleAnswer(w http.ResponseWriter, r *http.Request) {
	owner := d.srv.owner(w, r)

	var req answerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoundID == "" {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}

	sess, err := d.srv.rounds.Get(r.Context(), req.RoundID)
	if err != nil || sess.Owner != owner || sess.Daily == "" {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if !sess.Round.Contains(req.TokenID) {
		writeError(w, http.StatusBadRequest, "unknown_token")
		return
	}
	if sess, err = d.srv.rounds.Take(r.Context(), req.RoundID); err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	res := dailyAnswerRes{
		Correct:       sess.Round.IsCorrect(req.TokenID),
		CorrectID:     sess.Round.Correct.ID,
		Discriminator: sess.Round.Discriminator,
		ElapsedMs:     d.srv.now().Sub(sess.StartedAt).Milliseconds(),
		Date:          sess.Daily,
	}
	stored, err := d.store.InsertResult(r.Context(), daily.Result{
		OwnerID: owner, Date: sess.Daily, Correct: res.Correct, ElapsedMs: res.ElapsedMs,
	})
	if err != nil {
		log.Error().Err(err).Msg("insert daily result")
		// Put the round back so a retry keeps the original start time.
		if err := d.srv.rounds.Save(r.Context(), sess); err != nil {
			log.Error().Err(err).Str("round", sess.ID).Msg("restore daily round")
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if !stored {
		writeError(w, http.StatusConflict, "already_played")
		return
	}

	d.mu.Lock()
	delete(d.sessions, owner+"|"+sess.Daily)
	d.mu.Unlock()

	_ = json.NewEncoder(w).Encode(res)
}

// -----------------------------------------------------------------------------
// /daily/leaderboard

// lbRes is returned by /daily/leaderboard.
type lbRes struct {
	Date string        `json:"date"`
	Top  []daily.LBRow `json:"top"`
}

// handleLeaderboard returns the leaderboard for the given date (default today).
func (d *dailyServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = d.today()
	}
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	rows, err := d.store.Leaderboard(r.Context(), date, limit)
	if err != nil {
		log.Error().Err(err).Msg("daily leaderboard")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(lbRes{Date: date, Top: rows})
}

// -----------------------------------------------------------------------------
// /daily/qr

// handleQR generates a PNG QR code for the daily page URL using go-qrcode.
func (d *dailyServer) handleQR(w http.ResponseWriter, r *http.Request) {
	url := d.srv.opts.PublicURL
	if url == "" {
		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		url = scheme + "://" + r.Host
	}
	url = strings.TrimSuffix(url, "/") + "/daily"

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr_failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
