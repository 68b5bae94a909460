//
//  Copyright © Manetu Inc. All rights reserved.
//

package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manetu/zerotrust/internal/logging"
)

var logger = logging.GetLogger("stream")

const agent = "stream"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler serves the hub as a websocket feed. Each connection receives every
// event published after it connects, encoded as JSON text frames.
func Handler(h *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnf(agent, "upgrade", "websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}

		ch := h.Subscribe(0)
		logger.Debugf(agent, "connect", "subscriber %s connected (%d total)", r.RemoteAddr, h.Subscribers())

		done := make(chan struct{})
		go readPump(conn, done)
		writePump(conn, ch, done)

		h.Unsubscribe(ch)
		_ = conn.Close()
		logger.Debugf(agent, "disconnect", "subscriber %s disconnected", r.RemoteAddr)
	})
}

// readPump discards client frames and signals done when the peer goes away.
func readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, ch chan Event, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
