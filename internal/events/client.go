// Package events carries the debugger's bidirectional named-event
// channel over a websocket: one connection per browser client, JSON
// envelopes in both directions.
package events

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cppjudge/internal/config"
	"cppjudge/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer: large enough for any
	// plausible submitted source file.
	maxMessageSize = 256 * 1024
)

// Envelope is one named event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowed := os.Getenv("CORS_ALLOWED_ORIGINS"); allowed != "" {
			for _, a := range strings.Split(allowed, ",") {
				if strings.TrimSpace(a) == origin {
					return true
				}
			}
			return false
		}
		// Without an explicit allow-list, only production locks the
		// channel down.
		return !config.IsProductionEnvironment() || origin == ""
	},
}

// Client is one websocket connection driving zero or more debug
// sessions.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler *Handler
}

func newClient(conn *websocket.Conn, h *Handler) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, 64),
		handler: h,
	}
}

// Emit queues a named event for delivery to the client. A client that
// cannot drain its send buffer loses the event rather than wedging the
// session goroutine.
func (c *Client) Emit(event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		logging.L().Error("marshal event payload", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		logging.L().Warn("client send buffer full, dropping event", zap.String("event", event))
	}
}

// readPump pumps envelopes from the websocket to the handler. Each
// event is served on its own goroutine; per-session serialisation is
// the adapter's job, not the transport's.
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.Emit(EventDebugData, statusPayload("invalid message format"))
			continue
		}
		go c.handler.dispatch(c, env)
	}
}

// writePump pumps queued frames to the websocket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
