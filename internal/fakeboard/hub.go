package fakeboard

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// ackMessage answers a join request.
const ackMessage = `{"type":"result","data":"joined"}`

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteMessage sends a websocket message guarded by the subscriber's mutex and write deadline.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	if s == nil || s.conn == nil {
		return errors.New("subscriber closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// hub fans pixel updates out to every joined websocket.
type hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	logger      logrus.FieldLogger
}

func newHub(logger logrus.FieldLogger) *hub {
	return &hub{subscribers: make(map[*subscriber]struct{}), logger: logger}
}

func (h *hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// broadcast writes data to every subscriber, dropping the ones that fail.
func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.WithError(err).Debug("Dropping stream subscriber")
			h.remove(s)
			s.conn.Close()
		}
	}
}

// closeAll disconnects every subscriber.
func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.conn.Close()
	}
}
