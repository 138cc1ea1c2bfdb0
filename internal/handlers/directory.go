package handlers

import (
	"obrolan/server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// GetConversations returns the caller's private threads, newest first, plus
// users they have not talked to yet
func (h *Handler) GetConversations(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	listing, err := h.Directory.ListConversations(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    listing,
	})
}
