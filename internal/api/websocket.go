package api

import (
	"context"
	"net/http"

	"vendorbox/internal/auth"
	"vendorbox/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// access is gated by the token, not the origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	if d.Hub == nil {
		d.Log.Error("WebSocket hub not initialized")
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "live events are not enabled", d.Log)
		return
	}
	p, ok := auth.FromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "unauthenticated", "a token is required", d.Log)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("Failed to upgrade connection", zap.Error(err))
		return
	}
	d.Log.Info("WebSocket connected", zap.String("user", p.UserID), zap.String("role", string(p.Role)))

	// the request context ends when the handler returns
	wsConn := ws.NewConn(context.WithoutCancel(r.Context()), conn, d.Hub, p)
	d.Hub.Register(wsConn)

	go wsConn.WritePump()
	go wsConn.ReadPump()
}
