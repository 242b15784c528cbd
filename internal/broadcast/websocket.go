package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightline-data/sightline/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1 << 16,
	// Live preview is served to operator dashboards on other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades a request to a WebSocket subscription for one session's
// frame messages. The session id comes from the sessionId query parameter.
func (f *Fanout) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			http.Error(w, "missing sessionId", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			monitoring.Diagf("[Broadcast] upgrade failed: %v", err)
			return
		}

		sub := f.Subscribe(sessionID)
		go f.writePump(conn, sub)
		go readPump(conn)
	}
}

// writePump drains the subscription into the socket until either side goes
// away. Runs on its own goroutine per client.
func (f *Fanout) writePump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		f.Unsubscribe(sub)
		conn.Close()
	}()

	lastPing := time.Now()
	for {
		msg, ok := sub.Next(time.Second)
		if !ok {
			if sub.Closed() {
				return
			}
			// Idle: keep the connection alive.
			if time.Since(lastPing) >= pingPeriod {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
				lastPing = time.Now()
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			monitoring.Tracef("[Broadcast] %s: write to %s failed: %v", sub.SessionID, sub.ID, err)
			return
		}
	}
}

// readPump discards inbound messages; its job is to notice the close
// handshake so the connection's resources are released promptly.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(1 << 10)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
