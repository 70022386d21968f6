package api

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wagate/wagate/internal/bus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.opts.AllowedOrigins) == 0 {
				return true
			}
			if slices.Contains(s.opts.AllowedOrigins, origin) {
				return true
			}
			slog.Warn("api: rejected websocket origin", "origin", origin)
			return false
		},
	}
}

// handleWebSocket streams the tenant's bus events as JSON frames. The first
// frame is the current connection status.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "tenant", tenant, "err", err)
		return
	}

	sub := s.hub.Subscribe(tenant)
	slog.Debug("api: websocket connected", "tenant", tenant)

	initial := bus.NewEvent(tenant, bus.EventConnectionStatus, s.sessions.Status(tenant))
	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, sub, initial, done)

	sub.Close()
	conn.Close()
	slog.Debug("api: websocket disconnected", "tenant", tenant)
}

// readPump discards client frames and signals done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *bus.Subscription, initial bus.Event, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
