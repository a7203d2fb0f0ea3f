package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("signal: backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// wsTransport carries signaling frames over one websocket connection.
type wsTransport struct {
	conn       *websocket.Conn
	send       chan []byte
	pingPeriod time.Duration

	mu     sync.RWMutex
	closed bool

	onClose   func()
	closeOnce sync.Once
}

// Upgrade switches the HTTP request to a websocket signaling transport.
func Upgrade(w http.ResponseWriter, r *http.Request, pingPeriod time.Duration) (Transport, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{
		conn:       ws,
		send:       make(chan []byte, 128),
		pingPeriod: pingPeriod,
	}, nil
}

func (t *wsTransport) Send(m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrConnClosed
	}
	select {
	case t.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *wsTransport) Run(onMessage func(Message), onClose func()) {
	t.onClose = onClose
	go t.writePump()
	go t.readPump(onMessage)
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-t.send:
			if !ok {
				return
			}
			if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (t *wsTransport) readPump(onMessage func(Message)) {
	defer t.Close()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "signal").Msg("readPump read error")
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad json frame")
			continue
		}
		onMessage(m)
	}
}

func (t *wsTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.send)
	_ = t.conn.Close()
	t.mu.Unlock()

	t.closeOnce.Do(func() {
		if t.onClose != nil {
			t.onClose()
		}
	})
}
