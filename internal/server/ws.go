package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteTimeout bounds one frame write to a client.
	wsWriteTimeout = 5 * time.Second

	// wsPingInterval keeps idle connections alive through proxies and lets
	// the server notice a vanished client.
	wsPingInterval = 30 * time.Second

	// wsPongWait is how long a client may go silent before the connection is
	// considered dead.
	wsPongWait = 60 * time.Second
)

// upgrader accepts any origin: the server binds to loopback and the overlay UI
// loads from a custom scheme, so origin checks would only reject our own
// client.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsEnvelope is the wire frame of the event stream.
type wsEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// handleEvents upgrades to WebSocket and relays bus events as JSON frames
// until the client disconnects or the subscriber buffer is torn down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	slog.Debug("event stream client connected", "remote", conn.RemoteAddr().String())

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces close frames and pong responses.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			slog.Debug("event stream client disconnected", "remote", conn.RemoteAddr().String())
			return

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsEnvelope{Type: e.Kind.String(), Payload: e.Payload}); err != nil {
				slog.Debug("event stream write failed", "err", err)
				return
			}
		}
	}
}
