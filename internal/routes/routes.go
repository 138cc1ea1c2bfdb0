package routes

import (
	"obrolan/server/internal/handlers"
	"obrolan/server/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, h *handlers.Handler) {
	// API v1 group
	api := app.Group("/api/v1")

	// Health check (public)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Obrolan API is running",
		})
	})

	// Broadcast room (protected)
	chat := api.Group("/chat", middleware.AuthMiddleware)
	chat.Get("/broadcast", middleware.RelaxedRateLimiter(), h.GetBroadcast)
	chat.Post("/broadcast", middleware.ModerateRateLimiter(), h.SendBroadcast)
	chat.Post("/broadcast/media", middleware.UploadRateLimiter(), h.SendBroadcastMedia)
	chat.Post("/broadcast/read", middleware.ReadStateRateLimiter(), h.MarkBroadcastRead)
	chat.Get("/broadcast/unread", middleware.RelaxedRateLimiter(), h.GetBroadcastUnread)

	// Private conversations (protected)
	chat.Delete("/private/messages/:messageId", h.DeletePrivateMessage)
	chat.Get("/private/:userId", middleware.RelaxedRateLimiter(), h.GetPrivateMessages)
	chat.Post("/private/:userId", middleware.ModerateRateLimiter(), h.SendPrivateMessage)
	chat.Post("/private/:userId/media", middleware.UploadRateLimiter(), h.SendPrivateMedia)
	chat.Post("/private/:userId/read", middleware.ReadStateRateLimiter(), h.MarkPrivateRead)

	api.Get("/conversations", middleware.AuthMiddleware, middleware.RelaxedRateLimiter(), h.GetConversations)
	api.Get("/badge", middleware.AuthMiddleware, middleware.RelaxedRateLimiter(), h.GetBadge)

	// Notification routes (protected)
	notifications := api.Group("/notifications", middleware.AuthMiddleware)
	notifications.Get("/", h.GetNotifications)
	notifications.Put("/read-all", middleware.ReadStateRateLimiter(), h.MarkAllNotificationsRead)
	notifications.Put("/:id/read", middleware.ReadStateRateLimiter(), h.MarkNotificationRead)
	notifications.Post("/alerts", middleware.AlertRateLimiter(), h.SendAlert)

	// Serve uploaded media (public, object names are unguessable)
	app.Get("/media/:owner/:filename", h.GetMedia)

	// WebSocket route (protected)
	api.Get("/ws", middleware.AuthMiddleware, handlers.WebSocketUpgrade, websocket.New(h.WebSocketHandler))

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", middleware.AuthMiddleware, h.GetWebSocketStats)
}
