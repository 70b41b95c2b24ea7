package ws

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Handler upgrades a connection and binds it to a fresh session for the
// lifetime of the socket.
func Handler(registry *Registry) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		session := registry.OnConnect(uuid.New().String())

		if userID, ok := c.Locals("user_id").(string); ok {
			session.UserID = userID
		}

		client := &Client{
			registry: registry,
			conn:     c,
			session:  session,
		}

		go client.WritePump()
		client.ReadPump()
	})
}

func UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}
