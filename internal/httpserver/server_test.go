package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/mists/internal/auth"
	"github.com/robalobadob/mists/internal/catalog"
	"github.com/robalobadob/mists/internal/database"
	"github.com/robalobadob/mists/internal/database/dbtest"
	"github.com/robalobadob/mists/internal/puzzle"
	"github.com/robalobadob/mists/internal/stats"
	"github.com/robalobadob/mists/internal/store"
)

type testEnv struct {
	db     *database.DB
	srv    *Server
	ts     *httptest.Server
	client *http.Client
}

func newTestEnv(t *testing.T, gen *puzzle.Generator) *testEnv {
	t.Helper()
	if gen == nil {
		c, err := catalog.Load("")
		require.NoError(t, err)
		gen = puzzle.NewSeededGenerator(c, 42)
	}
	rounds := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = rounds.Close() })

	db := dbtest.Open(t)
	srv := New(db, rounds, gen, auth.NewTokens("test-secret", time.Hour), Options{DailySalt: "salt"})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{db: db, srv: srv, ts: ts, client: &http.Client{Jar: jar}}
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (e *testEnv) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := e.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

// correctFor peeks at the server side of a round.
func (e *testEnv) correctFor(t *testing.T, roundID string) string {
	t.Helper()
	sess, err := e.srv.rounds.Get(context.Background(), roundID)
	require.NoError(t, err)
	return sess.Round.Correct.ID
}

func TestHealthAndCatalog(t *testing.T) {
	e := newTestEnv(t, nil)

	var health map[string]bool
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/health", nil, &health))
	assert.True(t, health["ok"])

	var cat struct {
		Tokens []catalogToken `json:"tokens"`
	}
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/catalog", nil, &cat))
	require.Len(t, cat.Tokens, 8)
	assert.Equal(t, "circle_leaf_fill.png", cat.Tokens[0].Asset)

	var nf errorBody
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/nope", nil, &nf))
	assert.Equal(t, "not_found", nf.Error)
}

func TestRound_NewAndAnswer(t *testing.T) {
	e := newTestEnv(t, nil)

	var round newRoundRes
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/round/new", newRoundReq{Difficulty: "hard"}, &round))
	assert.NotEmpty(t, round.RoundID)
	assert.Equal(t, stats.Hard, round.Difficulty)
	require.Len(t, round.Items, 4)

	ids := map[string]bool{}
	for _, it := range round.Items {
		ids[it.ID] = true
		assert.Equal(t, it.ID+".png", it.Asset)
	}
	assert.True(t, ids[round.EntranceID], "the entrance is one of the items")

	var bad errorBody
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, "POST", "/round/answer", answerReq{RoundID: round.RoundID, TokenID: "not-in-round"}, &bad))
	assert.Equal(t, "unknown_token", bad.Error)

	correct := e.correctFor(t, round.RoundID)
	var res answerRes
	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/round/answer", answerReq{RoundID: round.RoundID, TokenID: correct}, &res))
	assert.True(t, res.Correct)
	assert.Equal(t, correct, res.CorrectID)
	assert.NotEmpty(t, res.Discriminator)
	assert.Equal(t, 1, res.Stats.Wins)

	assert.Equal(t, http.StatusNotFound,
		e.do(t, "POST", "/round/answer", answerReq{RoundID: round.RoundID, TokenID: correct}, nil),
		"a round can only be answered once")

	var board stats.Scoreboard
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/stats/me", nil, &board))
	assert.Equal(t, 1, board.Hard.Wins)
	assert.Equal(t, 0, board.Normal.Played())

	assert.Equal(t, http.StatusOK, e.do(t, "DELETE", "/stats/me", nil, nil))
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/stats/me", nil, &board))
	assert.Equal(t, stats.Scoreboard{}, board)
}

func TestRound_WrongAnswerIsALoss(t *testing.T) {
	e := newTestEnv(t, nil)

	var round newRoundRes
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/round/new", nil, &round))
	var res answerRes
	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/round/answer", answerReq{RoundID: round.RoundID, TokenID: round.EntranceID}, &res))
	assert.False(t, res.Correct)
	assert.Equal(t, stats.Stats{Losses: 1, ElapsedMs: res.ElapsedMs}, res.Stats)
}

func TestRound_OtherOwnersCannotAnswer(t *testing.T) {
	e := newTestEnv(t, nil)

	var round newRoundRes
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/round/new", nil, &round))

	stranger := &testEnv{srv: e.srv, ts: e.ts, client: &http.Client{}}
	assert.Equal(t, http.StatusNotFound,
		stranger.do(t, "POST", "/round/answer", answerReq{RoundID: round.RoundID, TokenID: round.EntranceID}, nil))
}

func TestRound_InvalidDifficulty(t *testing.T) {
	e := newTestEnv(t, nil)
	var body errorBody
	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/round/new", newRoundReq{Difficulty: "nightmare"}, &body))
	assert.Equal(t, "invalid_difficulty", body.Error)
}

func TestRound_GenerationFailed(t *testing.T) {
	c, err := puzzle.NewCatalog([]puzzle.Token{
		{ID: "a", Attributes: []string{"a"}},
		{ID: "b", Attributes: []string{"b"}},
		{ID: "c", Attributes: []string{"c"}},
		{ID: "d", Attributes: []string{"d"}},
	})
	require.NoError(t, err)
	e := newTestEnv(t, puzzle.NewSeededGenerator(c, 1, puzzle.WithMaxAttempts(5)))

	var body errorBody
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, "POST", "/round/new", nil, &body))
	assert.Equal(t, "round_generation_failed", body.Error)
}

func TestSettings(t *testing.T) {
	e := newTestEnv(t, nil)

	var got stats.Settings
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/settings", nil, &got))
	assert.Equal(t, stats.DefaultSettings(), got)

	want := stats.Settings{Difficulty: "HARD", ReducedMotion: true, ShowCorrect: true, ShowCorrectDurationMs: 3000}
	require.Equal(t, http.StatusOK, e.do(t, "PUT", "/settings", want, &got))
	assert.Equal(t, stats.Hard, got.Difficulty)

	require.Equal(t, http.StatusOK, e.do(t, "GET", "/settings", nil, &got))
	assert.True(t, got.ReducedMotion)
	assert.Equal(t, 3000, got.ShowCorrectDurationMs)

	var body errorBody
	want.ShowCorrectDurationMs = 60_000
	assert.Equal(t, http.StatusBadRequest, e.do(t, "PUT", "/settings", want, &body))
	assert.Equal(t, "invalid_settings", body.Error)
}

func TestAuth_SignupClaimsGuestHistory(t *testing.T) {
	e := newTestEnv(t, nil)

	// Play one round as a guest.
	var round newRoundRes
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/round/new", nil, &round))
	correct := e.correctFor(t, round.RoundID)
	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/round/answer", answerReq{RoundID: round.RoundID, TokenID: correct}, nil))

	assert.Equal(t, http.StatusUnauthorized, e.do(t, "GET", "/auth/me", nil, nil))

	var bad errorBody
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, "POST", "/auth/signup", credentials{Username: "ada", Password: "short"}, &bad))
	assert.Equal(t, "invalid_signup", bad.Error)

	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/auth/signup", credentials{Username: "ada", Password: "password1"}, nil))
	assert.Equal(t, http.StatusConflict,
		e.do(t, "POST", "/auth/signup", credentials{Username: "ADA", Password: "password1"}, nil))

	var me authUser
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/auth/me", nil, &me))
	assert.Equal(t, "ada", me.Username)

	var board stats.Scoreboard
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/stats/me", nil, &board))
	assert.Equal(t, 1, board.Normal.Wins, "guest wins move to the new account")

	require.Equal(t, http.StatusOK, e.do(t, "POST", "/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, e.do(t, "GET", "/auth/me", nil, nil))

	assert.Equal(t, http.StatusUnauthorized,
		e.do(t, "POST", "/auth/login", credentials{Username: "ada", Password: "wrong-pass"}, nil))
	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/auth/login", credentials{Username: "ada", Password: "password1"}, nil))
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/auth/me", nil, &me))
}

func TestAuth_BearerToken(t *testing.T) {
	e := newTestEnv(t, nil)

	var signup struct {
		Token string `json:"token"`
	}
	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/auth/signup", credentials{Username: "bob", Password: "password1"}, &signup))

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+signup.Token)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"bob"`)
}

func TestDaily(t *testing.T) {
	e := newTestEnv(t, nil)
	day := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	e.srv.now = func() time.Time { return day }

	var first, again dailyNewRes
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/daily/new", nil, &first))
	assert.Equal(t, "2026-10-16", first.Date)
	assert.False(t, first.Played)
	require.Len(t, first.Items, 4)

	require.Equal(t, http.StatusOK, e.do(t, "POST", "/daily/new", nil, &again))
	assert.Equal(t, first.RoundID, again.RoundID, "the open session is reused")

	// Another player gets the same tokens in the same order.
	other := &testEnv{srv: e.srv, ts: e.ts, client: &http.Client{}}
	var theirs dailyNewRes
	require.Equal(t, http.StatusOK, other.do(t, "POST", "/daily/new", nil, &theirs))
	assert.NotEqual(t, first.RoundID, theirs.RoundID)
	assert.Equal(t, first.Items, theirs.Items)

	assert.Equal(t, http.StatusNotFound,
		e.do(t, "POST", "/round/answer", answerReq{RoundID: first.RoundID, TokenID: first.EntranceID}, nil),
		"daily rounds are answered under /daily")

	correct := e.correctFor(t, first.RoundID)
	var res dailyAnswerRes
	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/daily/answer", answerReq{RoundID: first.RoundID, TokenID: correct}, &res))
	assert.True(t, res.Correct)
	assert.Equal(t, "2026-10-16", res.Date)

	var played dailyNewRes
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/daily/new", nil, &played))
	assert.True(t, played.Played)
	assert.Empty(t, played.RoundID)

	var lb lbRes
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/daily/leaderboard?date=2026-10-16", nil, &lb))
	require.Len(t, lb.Top, 1)
	assert.True(t, lb.Top[0].Correct)
	assert.Equal(t, "guest", lb.Top[0].Name)

	var board stats.Scoreboard
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/stats/me", nil, &board))
	assert.Equal(t, stats.Scoreboard{}, board, "daily rounds stay off the free-play scoreboard")
}

func TestDaily_AnswerKeepsRoundWhenResultNotStored(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	var round dailyNewRes
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/daily/new", nil, &round))
	before, err := e.srv.rounds.Get(ctx, round.RoundID)
	require.NoError(t, err)
	started := before.StartedAt
	correct := before.Round.Correct.ID

	_, err = e.db.ExecContext(ctx, `ALTER TABLE daily_results RENAME TO daily_results_off`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError,
		e.do(t, "POST", "/daily/answer", answerReq{RoundID: round.RoundID, TokenID: correct}, nil))
	_, err = e.db.ExecContext(ctx, `ALTER TABLE daily_results_off RENAME TO daily_results`)
	require.NoError(t, err)

	after, err := e.srv.rounds.Get(ctx, round.RoundID)
	require.NoError(t, err, "the open round survives a failed write")
	assert.Equal(t, started, after.StartedAt)

	var res dailyAnswerRes
	require.Equal(t, http.StatusOK,
		e.do(t, "POST", "/daily/answer", answerReq{RoundID: round.RoundID, TokenID: correct}, &res))
	assert.True(t, res.Correct)
}

func TestDaily_QR(t *testing.T) {
	e := newTestEnv(t, nil)

	res, err := e.client.Get(e.ts.URL + "/daily/qr")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	magic := make([]byte, 4)
	_, err = io.ReadFull(res.Body, magic)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(magic))
}

func TestWebSocket_PlayLoop(t *testing.T) {
	e := newTestEnv(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(e.ts), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var round wsRoundMessage
	require.NoError(t, conn.ReadJSON(&round))
	assert.Equal(t, "round", round.Type)
	require.Len(t, round.Items, 4)

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "answer", RoundID: round.RoundID, TokenID: "nope"}))
	var wsErr wsErrorMessage
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, "unknown_token", wsErr.Error)

	correct := e.correctFor(t, round.RoundID)
	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "answer", RoundID: round.RoundID, TokenID: correct}))

	var result wsResultMessage
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "result", result.Type)
	assert.True(t, result.Correct)
	assert.Equal(t, 1, result.Stats.Wins)

	var next wsRoundMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "round", next.Type)
	assert.NotEqual(t, round.RoundID, next.RoundID)

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "new", Difficulty: "hard"}))
	var hard wsRoundMessage
	require.NoError(t, conn.ReadJSON(&hard))
	assert.Equal(t, stats.Hard, hard.Difficulty)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestWebSocket_Origin(t *testing.T) {
	e := newTestEnv(t, nil)

	hdr := http.Header{"Origin": {"https://elsewhere.invalid"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL(e.ts), hdr)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	for _, origin := range []string{e.srv.opts.ClientOrigin, e.ts.URL} {
		conn, res, err := websocket.DefaultDialer.Dial(wsURL(e.ts), http.Header{"Origin": {origin}})
		require.NoError(t, err, origin)
		assert.Equal(t, http.StatusSwitchingProtocols, res.StatusCode)
		_ = conn.Close()
	}
}

func TestWebSocket_OversizedFrameDisconnects(t *testing.T) {
	e := newTestEnv(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(e.ts), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var round wsRoundMessage
	require.NoError(t, conn.ReadJSON(&round))

	big := `{"type":"answer","roundId":"` + strings.Repeat("x", 4*wsMaxFrameSize) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	var msg map[string]any
	err = conn.ReadJSON(&msg)
	require.Error(t, err)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "server should hang up: %v", err)
}

func TestWebSocket_ClosedWhenServerContextEnds(t *testing.T) {
	e := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewUnstartedServer(e.srv)
	ts.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	ts.Start()
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var round wsRoundMessage
	require.NoError(t, conn.ReadJSON(&round))

	cancel()
	var msg map[string]any
	err = conn.ReadJSON(&msg)
	require.Error(t, err)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection should close before the read deadline: %v", err)
}
