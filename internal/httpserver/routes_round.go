// internal/httpserver/routes_round.go
//
// Free-play rounds, scoreboard and settings.
//   - POST   /round/new    → draw a round, keep it in the round store, return the four tokens
//   - POST   /round/answer → check a pick once, record a win or loss
//   - GET    /stats/me     → scoreboard of the caller (account or guest)
//   - DELETE /stats/me     → reset the scoreboard
//   - GET    /settings     → caller's settings (defaults when never saved)
//   - PUT    /settings     → validate and save settings
//   - GET    /catalog      → every token with its attributes and image file
//
// The correct choice never leaves the server before the round is answered.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mists/internal/catalog"
	"github.com/robalobadob/mists/internal/puzzle"
	"github.com/robalobadob/mists/internal/stats"
	"github.com/robalobadob/mists/internal/store"
)

var (
	errUnknownToken = errors.New("token is not part of the round")
	errWrongKind    = errors.New("round belongs to another mode")
)

// item is one token as the UI needs it.
type item struct {
	ID    string `json:"id"`
	Asset string `json:"asset"`
}

func toItems(tokens []puzzle.Token) []item {
	out := make([]item, len(tokens))
	for i, t := range tokens {
		out[i] = item{ID: t.ID, Asset: catalog.AssetPath(t.ID)}
	}
	return out
}

// ------------------------------ /catalog -----------------------------------

type catalogToken struct {
	ID         string   `json:"id"`
	Attributes []string `json:"attributes"`
	Asset      string   `json:"asset"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	tokens := s.gen.Catalog().Tokens()
	out := make([]catalogToken, len(tokens))
	for i, t := range tokens {
		out[i] = catalogToken{ID: t.ID, Attributes: t.Attributes, Asset: catalog.AssetPath(t.ID)}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"tokens": out})
}

// ------------------------------ /round -------------------------------------

type newRoundReq struct {
	Difficulty string `json:"difficulty"` // "normal" | "hard"; empty means normal
}

type newRoundRes struct {
	RoundID    string           `json:"roundId"`
	Difficulty stats.Difficulty `json:"difficulty"`
	EntranceID string           `json:"entranceId"`
	Items      []item           `json:"items"`
	Attempts   int              `json:"attempts"`
}

func sessionView(sess *store.Session) newRoundRes {
	return newRoundRes{
		RoundID:    sess.ID,
		Difficulty: sess.Difficulty,
		EntranceID: sess.Round.Entrance.ID,
		Items:      toItems(sess.Items),
		Attempts:   sess.Round.Attempts,
	}
}

// startRound draws a round for owner and keeps it until answered or reaped.
func (s *Server) startRound(ctx context.Context, owner string, d stats.Difficulty) (*store.Session, error) {
	round, err := s.gen.Next()
	if err != nil {
		return nil, err
	}
	sess := &store.Session{
		ID:         uuid.NewString(),
		Owner:      owner,
		Difficulty: d,
		Round:      round,
		Items:      s.gen.Shuffle(round),
		StartedAt:  s.now(),
	}
	if err := s.rounds.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// handleNewRound creates a new round in the store and returns its tokens.
func (s *Server) handleNewRound(w http.ResponseWriter, r *http.Request) {
	var req newRoundReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	d, err := stats.ParseDifficulty(req.Difficulty)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_difficulty", err.Error())
		return
	}

	sess, err := s.startRound(r.Context(), s.owner(w, r), d)
	if err != nil {
		s.roundFailed(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sessionView(sess))
}

// roundFailed maps generator and store failures to responses.
func (s *Server) roundFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, puzzle.ErrRoundGenerationFailed) {
		log.Error().Err(err).Msg("generate round")
		writeError(w, http.StatusServiceUnavailable, "round_generation_failed")
		return
	}
	log.Error().Err(err).Msg("save round")
	writeError(w, http.StatusInternalServerError, "save_failed")
}

type answerReq struct {
	RoundID string `json:"roundId"`
	TokenID string `json:"tokenId"`
}

type answerRes struct {
	Correct       bool        `json:"correct"`
	CorrectID     string      `json:"correctId"`
	Discriminator string      `json:"discriminator"`
	ElapsedMs     int64       `json:"elapsedMs"`
	Stats         stats.Stats `json:"stats"`
}

// answerRound consumes the owner's round and records the outcome. Rounds of
// other owners look exactly like missing ones.
func (s *Server) answerRound(ctx context.Context, owner string, req answerReq) (*answerRes, error) {
	sess, err := s.rounds.Get(ctx, req.RoundID)
	if err != nil {
		return nil, err
	}
	if sess.Owner != owner {
		return nil, store.ErrNotFound
	}
	if sess.Daily != "" {
		return nil, errWrongKind
	}
	if !sess.Round.Contains(req.TokenID) {
		return nil, errUnknownToken
	}
	if sess, err = s.rounds.Take(ctx, req.RoundID); err != nil {
		return nil, err
	}

	correct := sess.Round.IsCorrect(req.TokenID)
	elapsed := s.now().Sub(sess.StartedAt)
	st, err := s.stats.Record(ctx, owner, sess.Difficulty, correct, elapsed)
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("record stats")
	}
	return &answerRes{
		Correct:       correct,
		CorrectID:     sess.Round.Correct.ID,
		Discriminator: sess.Round.Discriminator,
		ElapsedMs:     elapsed.Milliseconds(),
		Stats:         st,
	}, nil
}

// handleAnswer checks a pick. 404 for unknown or answered rounds, 400 for a
// token that is not one of the round's four.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	res, err := s.answerRound(r.Context(), s.owner(w, r), req)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errWrongKind):
		writeError(w, http.StatusNotFound, "not_found")
		return
	case errors.Is(err, errUnknownToken):
		writeError(w, http.StatusBadRequest, "unknown_token")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}

// ------------------------------ /stats -------------------------------------

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	board, err := s.stats.Scoreboard(r.Context(), s.owner(w, r))
	if err != nil {
		log.Error().Err(err).Msg("load scoreboard")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(board)
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if err := s.stats.Reset(r.Context(), s.owner(w, r)); err != nil {
		log.Error().Err(err).Msg("reset scoreboard")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// ------------------------------ /settings ----------------------------------

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Settings(r.Context(), s.owner(w, r))
	if err != nil {
		log.Error().Err(err).Msg("load settings")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	st := stats.DefaultSettings()
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	// Validate normalizes the difficulty, so the echo matches what is stored.
	if err := st.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}
	if err := s.stats.SaveSettings(r.Context(), s.owner(w, r), st); err != nil {
		log.Error().Err(err).Msg("save settings")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(st)
}
