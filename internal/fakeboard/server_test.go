package fakeboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/dyluth/daub/internal/canvas"
	"github.com/dyluth/daub/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoard(t *testing.T, opts Options) (*Board, *httptest.Server) {
	t.Helper()
	opts.Logger = logging.Discard()
	b := New(opts)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return b, srv
}

func paint(t *testing.T, srv *httptest.Server, token string, x, y, color int) (int, reply) {
	t.Helper()
	form := url.Values{"x": {strconv.Itoa(x)}, "y": {strconv.Itoa(y)}, "color": {strconv.Itoa(color)}}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/paint", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Cookie", token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var rep reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	return resp.StatusCode, rep
}

func TestBoardSnapshot(t *testing.T) {
	b, srv := newTestBoard(t, Options{Width: 2, Height: 2, Fill: 1})
	b.Paint(canvas.Pos{X: 1, Y: 0}, 32)

	resp, err := http.Get(srv.URL + "/board")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "11\nw1\n", string(body))
}

func TestPaintReplies(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(1000, 0))
	b, srv := newTestBoard(t, Options{Width: 3, Height: 3, Cooldown: 30 * time.Second, Tokens: []string{"good", "old"}, Clock: fc})
	b.Expire("old")

	code, rep := paint(t, srv, "good", 1, 2, 5)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 200, rep.Status)
	assert.Equal(t, canvas.Color(5), b.Canvas().Get(canvas.Pos{X: 1, Y: 2}))

	_, rep = paint(t, srv, "good", 0, 0, 5)
	assert.Equal(t, 500, rep.Status, "cooling down")

	fc.Increment(30 * time.Second)
	_, rep = paint(t, srv, "good", 0, 0, 5)
	assert.Equal(t, 200, rep.Status)

	_, rep = paint(t, srv, "old", 0, 0, 5)
	assert.Equal(t, 401, rep.Status)

	code, rep = paint(t, srv, "stranger", 0, 0, 5)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, 403, rep.Status)

	_, rep = paint(t, srv, "good", 9, 0, 5)
	assert.Equal(t, 400, rep.Status)

	assert.Equal(t, Stats{Painted: 2, Cooling: 1, Expired: 1, Invalid: 1, Unknown: 1}, b.Stats())
}

func TestPaintQueryToken(t *testing.T) {
	b, srv := newTestBoard(t, Options{Width: 1, Height: 1})

	form := url.Values{"x": {"0"}, "y": {"0"}, "color": {"7"}}
	resp, err := http.PostForm(srv.URL+"/paint?token=abc", form)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, canvas.Color(7), b.Canvas().Get(canvas.Pos{}))
}

func TestStream(t *testing.T) {
	b, srv := newTestBoard(t, Options{Width: 4, Height: 4})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join_channel","channel":"paintboard"}`)))
	_, ack, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, ackMessage, string(ack))

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	paint(t, srv, "someone", 2, 3, 11)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"paintboard_update","x":2,"y":3,"color":11}`, string(msg))
}

func TestStreamRequiresJoin(t *testing.T) {
	_, srv := newTestBoard(t, Options{Width: 1, Height: 1})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
