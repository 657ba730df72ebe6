// internal/httpserver/ws.go
//
// WebSocket play loop on GET /ws.
//
// Protocol (JSON text frames):
//   - server → client {"type":"round", ...newRoundRes} on connect and after every result
//   - client → server {"type":"answer","roundId":"...","tokenId":"..."}
//   - server → client {"type":"result", ...answerRes}
//   - client → server {"type":"new","difficulty":"hard"} switches difficulty and deals a fresh round
//   - server → client {"type":"error","error":"..."} for anything that went wrong
//
// Each connection gets a read pump (this handler's goroutine) and a write
// pump fed by a buffered channel; only the read pump sends on it. The write
// pump pings; a client that stops answering pings, or whose request context
// ends (server shutdown), is disconnected.

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mists/internal/puzzle"
	"github.com/robalobadob/mists/internal/stats"
	"github.com/robalobadob/mists/internal/store"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxFrameSize = 1024 // client messages are tiny JSON objects
)

// wsClientMessage is anything a client may send.
type wsClientMessage struct {
	Type       string `json:"type"`                 // "answer" | "new"
	RoundID    string `json:"roundId,omitempty"`    // answer
	TokenID    string `json:"tokenId,omitempty"`    // answer
	Difficulty string `json:"difficulty,omitempty"` // new
}

type wsRoundMessage struct {
	Type string `json:"type"` // "round"
	newRoundRes
}

type wsResultMessage struct {
	Type string `json:"type"` // "result"
	answerRes
}

type wsErrorMessage struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}

// wsClient is one connected player.
type wsClient struct {
	srv        *Server
	conn       *websocket.Conn
	send       chan any
	owner      string
	difficulty stats.Difficulty
}

// handleWS upgrades the connection and runs the play loop until the client
// goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(w, r) // before Upgrade so a new anon cookie lands in the handshake

	var hdr http.Header
	if c := w.Header().Values("Set-Cookie"); len(c) > 0 {
		hdr = http.Header{"Set-Cookie": c}
		w.Header().Del("Set-Cookie")
	}

	conn, err := s.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := &wsClient{
		srv:        s,
		conn:       conn,
		send:       make(chan any, 8),
		owner:      owner,
		difficulty: stats.Normal,
	}
	go c.writePump()
	c.readPump(r.Context())
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		close(c.send)
		_ = c.conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	c.conn.SetReadLimit(wsMaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	c.deal(ctx)

	for {
		var msg wsClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch msg.Type {
		case "answer":
			res, err := c.srv.answerRound(ctx, c.owner, answerReq{RoundID: msg.RoundID, TokenID: msg.TokenID})
			switch {
			case errors.Is(err, store.ErrNotFound), errors.Is(err, errWrongKind):
				c.send <- wsErrorMessage{Type: "error", Error: "not_found"}
				continue
			case errors.Is(err, errUnknownToken):
				c.send <- wsErrorMessage{Type: "error", Error: "unknown_token"}
				continue
			case err != nil:
				c.send <- wsErrorMessage{Type: "error", Error: "server_error"}
				continue
			}
			c.send <- wsResultMessage{Type: "result", answerRes: *res}
			c.deal(ctx)
		case "new":
			d, err := stats.ParseDifficulty(msg.Difficulty)
			if err != nil {
				c.send <- wsErrorMessage{Type: "error", Error: "invalid_difficulty"}
				continue
			}
			c.difficulty = d
			c.deal(ctx)
		default:
			// ignore unknown types
		}
	}
}

// deal starts a round and queues it for the client.
func (c *wsClient) deal(ctx context.Context) {
	sess, err := c.srv.startRound(ctx, c.owner, c.difficulty)
	if err != nil {
		code := "save_failed"
		if errors.Is(err, puzzle.ErrRoundGenerationFailed) {
			code = "round_generation_failed"
		}
		log.Error().Err(err).Str("owner", c.owner).Msg("ws deal")
		c.send <- wsErrorMessage{Type: "error", Error: code}
		return
	}
	c.send <- wsRoundMessage{Type: "round", newRoundRes: sessionView(sess)}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.abandon()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.abandon()
				return
			}
		}
	}
}

// abandon unblocks the read pump, then drains send until it is closed.
func (c *wsClient) abandon() {
	_ = c.conn.Close()
	for range c.send {
	}
}
