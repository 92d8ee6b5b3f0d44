package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS for WebSocket is handled at the HTTP layer already.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	feedPongWait   = 90 * time.Second
	feedPingPeriod = 30 * time.Second
)

// AppealFeed streams appeal events to a signed-in reviewer. Browsers cannot
// set headers on WebSocket requests, so the token may also come as ?token=.
func (h *Handlers) AppealFeed(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		http.Error(w, "appeal feed is not available", http.StatusServiceUnavailable)
		return
	}

	token := middleware.ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing session token", http.StatusUnauthorized)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	adminID, ok, err := h.AdminSessions.Validate(ctx, token)
	cancel()
	if err != nil || !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := h.Feed.Register(conn)
	defer h.Feed.Unregister(id)
	logrus.WithField("admin_id", adminID.String()).Debug("Reviewer joined appeal feed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// The feed is one-way; reading only services pongs and notices disconnects.
	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
