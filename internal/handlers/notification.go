package handlers

import (
	"obrolan/server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// AlertRequest represents an operator alert request body
type AlertRequest struct {
	Message string `json:"message"`
}

// GetNotifications returns the caller's newest notifications
func (h *Handler) GetNotifications(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	limit := c.QueryInt("limit", 0)

	items, unread, err := h.Notify.List(c.UserContext(), userID, limit)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"notifications": items,
			"unreadCount":   unread,
		},
	})
}

// MarkNotificationRead marks one notification as read
func (h *Handler) MarkNotificationRead(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	if err := h.Notify.MarkRead(c.UserContext(), userID, c.Params("id")); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Notification marked as read",
	})
}

// MarkAllNotificationsRead marks every notification of the caller as read
func (h *Handler) MarkAllNotificationsRead(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	n, err := h.Notify.MarkAllRead(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"updated": n,
		},
	})
}

// SendAlert notifies every user. Admins and developers only.
func (h *Handler) SendAlert(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var req AlertRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	sent, err := h.Notify.Alert(c.UserContext(), userID, middleware.GetRoles(c), req.Message)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"recipients": sent,
		},
	})
}

// GetBadge returns every unread counter for the navbar
func (h *Handler) GetBadge(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	badge, err := h.Notify.Badge(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    badge,
	})
}
