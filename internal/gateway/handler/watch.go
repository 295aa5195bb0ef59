package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"tcmdiag/internal/diagnosis"
	"tcmdiag/internal/observability"
)

const (
	watchWriteWait = 10 * time.Second
	watchPongWait  = 60 * time.Second
	watchPingEvery = (watchPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type watchMessage struct {
	Type    string           `json:"type"`
	Session *diagnosis.State `json:"session,omitempty"`
}

// Watch streams the session snapshot: first the stored one, then each
// snapshot persisted afterwards.
func (h *SessionHandler) Watch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	log := observability.LoggerFromContext(r.Context()).With("session_id", sessionID)

	// Subscribe before loading so no save can fall between the two.
	updates, cancelSub := h.hub.Subscribe(sessionID)
	defer cancelSub()

	current, err := h.sessions.Resume(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(watchPongWait)); err != nil {
		log.Warn("watch set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})

	// The reader only drains control frames and notices the client leaving.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(msg watchMessage) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
			return false
		}
		return conn.WriteJSON(msg) == nil
	}

	if !write(watchMessage{Type: "snapshot", Session: current}) {
		return
	}
	lastVersion := current.Version

	ticker := time.NewTicker(watchPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if s.Version <= lastVersion {
				continue
			}
			lastVersion = s.Version
			if !write(watchMessage{Type: "snapshot", Session: s}) {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
