package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/vitaliisemenov/etl-signal-loader/internal/realtime"
)

// StreamEvents upgrades the connection to a WebSocket and registers it as
// a subscriber on the event bus, pushing run/backfill/approval events as
// they happen. Every caller authenticated for the control API may open a
// stream — the feed carries no payload beyond what GET /res/loaders and
// /res/loaders/{code}/history already expose.
func (d *Deps) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if d.Events == nil {
		writeAppErr(w, r, apperr.Internal("event stream is not configured"))
		return
	}

	conn, err := realtime.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger().Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.New().String()
	var sub *realtime.WebSocketSubscriber
	sub = realtime.NewWebSocketSubscriber(r.Context(), id, conn, d.logger(), func() {
		d.Events.Unsubscribe(sub)
	})
	d.Events.Subscribe(sub)
}
