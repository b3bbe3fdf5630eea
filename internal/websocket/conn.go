package websocket

import (
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pingEvery  = 30 * time.Second
	writeLimit = 10 * time.Second
)

// RequireUpgrade rejects plain HTTP requests to a WebSocket route with 426.
func RequireUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Serve handles GET /api/v1/tournaments/:id/live once the connection is upgraded.
// The client only listens; anything it sends is ignored. Pings keep idle proxies
// from closing the connection.
func Serve(hub *Hub, log *zap.Logger) fiber.Handler {
	return fiberws.New(func(conn *fiberws.Conn) {
		id, err := uuid.Parse(conn.Params("id"))
		if err != nil {
			return
		}
		client := NewClient(id)
		if !hub.Register(client) {
			return
		}
		defer hub.Unregister(client)
		log.Debug("live viewer connected", zap.String("tournament_id", id.String()))

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingEvery)
		defer ping.Stop()
		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeLimit))
				if err := conn.WriteMessage(fiberws.TextMessage, msg); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(fiberws.PingMessage, nil, time.Now().Add(writeLimit)); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}
