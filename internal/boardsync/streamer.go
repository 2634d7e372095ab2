package boardsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/dyluth/daub/internal/errkind"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// JoinMessage subscribes a fresh connection to the board's update channel.
const JoinMessage = `{"type":"join_channel","channel":"paintboard"}`

const (
	DefaultMinReconnect = 500 * time.Millisecond
	DefaultMaxReconnect = 30 * time.Second

	handshakeTimeout = 10 * time.Second
)

// Update is one pixel change pushed by the board.
type Update struct {
	Type  string `json:"type,omitempty"`
	X     *int   `json:"x"`
	Y     *int   `json:"y"`
	Color *int   `json:"color"`
}

// StreamerConfig configures a Streamer.
type StreamerConfig struct {
	URL string

	Dialer       *websocket.Dialer
	MinReconnect time.Duration
	MaxReconnect time.Duration
	Clock        clock.Clock

	Logger logrus.FieldLogger

	// OnUpdate runs after a valid update has been written to the grid.
	OnUpdate func(canvas.Pos, canvas.Color)
	// OnDrop runs for every frame that was discarded as malformed.
	OnDrop func(error)
	// OnConnect runs once the handshake acknowledgement has been read.
	OnConnect func()
}

// Streamer applies pushed pixel updates to the grid, reconnecting forever.
type Streamer struct {
	grid   *canvas.Grid
	cfg    StreamerConfig
	logger logrus.FieldLogger
}

// NewStreamer builds a streamer writing into grid.
func NewStreamer(grid *canvas.Grid, cfg StreamerConfig) *Streamer {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	if cfg.MinReconnect == 0 {
		cfg.MinReconnect = DefaultMinReconnect
	}
	if cfg.MaxReconnect == 0 {
		cfg.MaxReconnect = DefaultMaxReconnect
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Streamer{grid: grid, cfg: cfg, logger: logger}
}

// Run holds a stream session open until ctx is done, reconnecting with
// exponential backoff after every failure. It returns nil on cancellation.
func (s *Streamer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.MinReconnect
	b.MaxInterval = s.cfg.MaxReconnect
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		acked, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if acked {
			b.Reset()
		}

		wait := b.NextBackOff()
		s.logger.WithError(err).WithField("retry_in", wait).Warn("Board stream lost, reconnecting")

		timer := s.cfg.Clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}

// session runs one connection. It reports whether the handshake completed.
func (s *Streamer) session(ctx context.Context) (bool, error) {
	const op = "board stream"

	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, errkind.New(errkind.StreamConnect, op, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(JoinMessage)); err != nil {
		return false, errkind.New(errkind.StreamConnect, op, fmt.Errorf("failed to join channel: %w", err))
	}

	// The first frame acknowledges the join and never carries a pixel.
	if _, _, err := conn.ReadMessage(); err != nil {
		return false, errkind.New(errkind.StreamConnect, op, fmt.Errorf("no join acknowledgement: %w", err))
	}
	s.logger.WithField("url", s.cfg.URL).Info("Board stream connected")
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect()
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return true, errkind.New(errkind.StreamDecode, op, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handle(data)
	}
}

// handle applies one frame, dropping it if it is not a valid update.
func (s *Streamer) handle(data []byte) {
	pos, color, err := s.decode(data)
	if err != nil {
		s.logger.WithError(err).Debug("Dropped stream frame")
		if s.cfg.OnDrop != nil {
			s.cfg.OnDrop(err)
		}
		return
	}
	s.grid.Set(pos, color)
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(pos, color)
	}
}

func (s *Streamer) decode(data []byte) (canvas.Pos, canvas.Color, error) {
	const op = "decode update"

	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return canvas.Pos{}, 0, errkind.New(errkind.StreamDecode, op, err)
	}
	if u.X == nil || u.Y == nil || u.Color == nil {
		return canvas.Pos{}, 0, errkind.Errorf(errkind.StreamDecode, op, "update missing x, y or color")
	}
	pos := canvas.Pos{X: *u.X, Y: *u.Y}
	if !s.grid.InBounds(pos) {
		return canvas.Pos{}, 0, errkind.Errorf(errkind.StreamDecode, op, "update at %s is off the board", pos)
	}
	if !canvas.ValidColor(*u.Color) {
		return canvas.Pos{}, 0, errkind.Errorf(errkind.StreamDecode, op, "update color %d out of range", *u.Color)
	}
	return pos, canvas.Color(*u.Color), nil
}
