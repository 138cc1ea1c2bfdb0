package handlers

import (
	"obrolan/server/internal/middleware"
	"obrolan/server/internal/models"

	"github.com/gofiber/fiber/v2"
)

// counterpart resolves :userId to a known user other than the caller. On
// failure it has already written the response and returns an empty id.
func (h *Handler) counterpart(c *fiber.Ctx) (string, error) {
	userID := middleware.GetUserID(c)
	otherID := c.Params("userId")

	if otherID == "" || otherID == userID {
		return "", badRequest(c, "Invalid user ID")
	}

	// Check if receiver exists
	if _, err := h.Users.Profile(c.UserContext(), otherID); err != nil {
		return "", h.fail(c, err)
	}
	return otherID, nil
}

// GetPrivateMessages returns message history between the caller and :userId
func (h *Handler) GetPrivateMessages(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	otherID := c.Params("userId")
	if otherID == "" || otherID == userID {
		return badRequest(c, "Invalid user ID")
	}

	q, err := h.historyQuery(c)
	if err != nil {
		return h.fail(c, err)
	}

	msgs, err := h.Messages.ListPrivate(c.UserContext(), userID, models.Private(userID, otherID), q)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    msgs,
	})
}

// SendPrivateMessage sends a direct message to :userId
func (h *Handler) SendPrivateMessage(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	receiverID, err := h.counterpart(c)
	if receiverID == "" {
		return err
	}

	msg, err := h.Messages.PostPrivate(c.UserContext(), userID, receiverID, req.draft())
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    msg,
	})
}

// SendPrivateMedia uploads an image or voice note and sends it to :userId
func (h *Handler) SendPrivateMedia(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	receiverID, err := h.counterpart(c)
	if receiverID == "" {
		return err
	}

	up, err := readUpload(c)
	if err != nil {
		return h.fail(c, err)
	}

	msg, err := h.Messages.PostPrivateMedia(c.UserContext(), userID, receiverID, up.kind, up.data, up.contentType)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    msg,
	})
}

// MarkPrivateRead marks every message from :userId to the caller as read
func (h *Handler) MarkPrivateRead(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	senderID := c.Params("userId")

	n, err := h.Reads.MarkPrivateRead(c.UserContext(), userID, senderID)
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

// DeletePrivateMessage removes a message the caller sent
func (h *Handler) DeletePrivateMessage(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	if err := h.Messages.DeletePrivate(c.UserContext(), c.Params("messageId"), userID); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Message deleted",
	})
}
