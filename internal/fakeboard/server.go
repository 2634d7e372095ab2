// Package fakeboard is an in-memory paint board speaking the same HTTP and
// websocket protocol as the real service. daub's end-to-end tests run the
// engine against it, and `daub fakeboard` serves it for local trials.
package fakeboard

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Options configure a Board.
type Options struct {
	Width, Height int
	Fill          canvas.Color  // initial colour of every cell
	Cooldown      time.Duration // per-token minimum gap between paints
	Tokens        []string      // accepted tokens; empty accepts any non-empty token
	Clock         clock.Clock
	Logger        logrus.FieldLogger
}

type tokenState struct {
	expired  bool
	lastUsed time.Time
}

// Stats counts paint requests by reply.
type Stats struct {
	Painted int `json:"painted"`
	Cooling int `json:"cooling"`
	Expired int `json:"expired"`
	Invalid int `json:"invalid"`
	Unknown int `json:"unknown_token"`
}

// Board is the fake service. It is safe for concurrent use.
type Board struct {
	opts   Options
	grid   *canvas.Grid
	hub    *hub
	logger logrus.FieldLogger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	tokens map[string]*tokenState
	open   bool // accept any token
	stats  Stats
}

// New builds a board with every cell set to opts.Fill.
func New(opts Options) *Board {
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	grid := canvas.NewGrid(opts.Width, opts.Height)
	for x := 0; x < opts.Width; x++ {
		for y := 0; y < opts.Height; y++ {
			grid.Set(canvas.Pos{X: x, Y: y}, opts.Fill)
		}
	}

	b := &Board{
		opts:   opts,
		grid:   grid,
		hub:    newHub(logger),
		logger: logger,
		tokens: make(map[string]*tokenState),
		open:   len(opts.Tokens) == 0,
	}
	for _, t := range opts.Tokens {
		b.tokens[t] = &tokenState{}
	}
	return b
}

// Handler returns the board's routes: GET /board, POST /paint, GET /ws.
func (b *Board) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/board", b.boardHandler)
	mux.HandleFunc("/paint", b.paintHandler)
	mux.HandleFunc("/ws", b.wsHandler)
	return mux
}

// Canvas exposes the board's cells for inspection.
func (b *Board) Canvas() canvas.Canvas {
	return b.grid
}

// Paint sets a cell as if another user had painted it, notifying streams.
func (b *Board) Paint(p canvas.Pos, c canvas.Color) {
	if !b.grid.InBounds(p) {
		return
	}
	b.grid.Set(p, c)
	b.broadcast(p, c)
}

// Expire marks a token as expired; further paints with it are refused.
func (b *Board) Expire(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.tokens[token]
	if !ok {
		st = &tokenState{}
		b.tokens[token] = st
	}
	st.expired = true
}

// Stats returns request counters.
func (b *Board) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Subscribers returns the number of joined streams.
func (b *Board) Subscribers() int {
	return b.hub.count()
}

// Close disconnects all streams.
func (b *Board) Close() {
	b.hub.closeAll()
}

func (b *Board) boardHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(canvas.EncodeSnapshot(b.grid))
}

type reply struct {
	Status int    `json:"status"`
	Data   string `json:"data,omitempty"`
}

func (b *Board) paintHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		b.count(func(s *Stats) { s.Invalid++ })
		writeReply(w, http.StatusOK, reply{Status: 400, Data: "malformed form"})
		return
	}

	token := tokenFrom(r)
	p, c, ok := b.parsePixel(r)
	if !ok {
		b.count(func(s *Stats) { s.Invalid++ })
		writeReply(w, http.StatusOK, reply{Status: 400, Data: "bad pixel"})
		return
	}

	b.mu.Lock()
	st, known := b.tokens[token]
	switch {
	case token == "" || (!known && !b.open):
		b.stats.Unknown++
		b.mu.Unlock()
		writeReply(w, http.StatusForbidden, reply{Status: 403, Data: "unknown token"})
		return
	case known && st.expired:
		b.stats.Expired++
		b.mu.Unlock()
		writeReply(w, http.StatusOK, reply{Status: 401, Data: "token expired"})
		return
	}
	if !known {
		st = &tokenState{}
		b.tokens[token] = st
	}
	now := b.opts.Clock.Now()
	if !st.lastUsed.IsZero() && now.Sub(st.lastUsed) < b.opts.Cooldown {
		b.stats.Cooling++
		b.mu.Unlock()
		writeReply(w, http.StatusOK, reply{Status: 500, Data: "cooling down"})
		return
	}
	st.lastUsed = now
	b.stats.Painted++
	b.mu.Unlock()

	b.grid.Set(p, c)
	b.broadcast(p, c)
	writeReply(w, http.StatusOK, reply{Status: 200, Data: "ok"})
}

func (b *Board) count(f func(*Stats)) {
	b.mu.Lock()
	f(&b.stats)
	b.mu.Unlock()
}

func (b *Board) parsePixel(r *http.Request) (canvas.Pos, canvas.Color, bool) {
	x, errX := strconv.Atoi(r.Form.Get("x"))
	y, errY := strconv.Atoi(r.Form.Get("y"))
	c, errC := strconv.Atoi(r.Form.Get("color"))
	if errX != nil || errY != nil || errC != nil {
		return canvas.Pos{}, 0, false
	}
	p := canvas.Pos{X: x, Y: y}
	if !b.grid.InBounds(p) || !canvas.ValidColor(c) {
		return canvas.Pos{}, 0, false
	}
	return p, canvas.Color(c), true
}

// tokenFrom reads the token from the query string or, failing that, the
// raw Cookie header.
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimSpace(r.Header.Get("Cookie"))
}

func writeReply(w http.ResponseWriter, code int, rep reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(rep)
}

type update struct {
	Type  string `json:"type"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color int    `json:"color"`
}

func (b *Board) broadcast(p canvas.Pos, c canvas.Color) {
	data, err := json.Marshal(update{Type: "paintboard_update", X: p.X, Y: p.Y, Color: int(c)})
	if err != nil {
		return
	}
	b.hub.broadcast(data)
}

type joinRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (b *Board) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(writeWait))
	var join joinRequest
	if err := conn.ReadJSON(&join); err != nil || join.Type != "join_channel" || join.Channel != "paintboard" {
		b.logger.WithError(err).Debug("Rejecting stream without join")
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	sub := &subscriber{conn: conn}
	if err := sub.WriteMessage(websocket.TextMessage, []byte(ackMessage)); err != nil {
		conn.Close()
		return
	}
	b.hub.add(sub)

	// Drain until the client goes away.
	go func() {
		defer func() {
			b.hub.remove(sub)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
