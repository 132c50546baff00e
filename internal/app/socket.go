package app

import (
	"log/slog"
	"time"

	"hermes/internal/socket"
)

// socketHandler returns the single WebSocket handler: every
// connection joins the events topic on open, and any message a client
// sends is rebroadcast to all subscribers.
func (a *Application) socketHandler() socket.Handler {
	return socket.HandlerFuncs{
		Open: func(c *socket.Conn) {
			c.Set("joined_at", time.Now())
			c.Subscribe(eventsTopic)
			c.SendJSON(map[string]any{
				"type": "connection",
				"data": map[string]any{
					"status":  "connected",
					"conn_id": c.ID(),
				},
			})
		},
		Message: func(c *socket.Conn, payload []byte) {
			a.Server.Broker().Publish(eventsTopic, payload)
		},
		Close: func(c *socket.Conn, code int, reason string) {
			a.Logger.Info("websocket closed",
				slog.String("conn_id", c.ID()),
				slog.Int("code", code),
				slog.String("reason", reason))
		},
	}
}
