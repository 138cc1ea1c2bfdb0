package handlers

import (
	"obrolan/server/internal/messages"
	"obrolan/server/internal/middleware"
	"obrolan/server/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest represents send message request body
type SendMessageRequest struct {
	Content  string `json:"content"`
	Type     string `json:"type"` // text, image, audio
	MediaURL string `json:"mediaUrl,omitempty"`
}

func (r SendMessageRequest) draft() messages.Draft {
	return messages.Draft{
		Kind:     models.MessageKind(r.Type),
		Content:  r.Content,
		MediaURL: r.MediaURL,
	}
}

// GetBroadcast returns a window of the room-wide chat, oldest first
func (h *Handler) GetBroadcast(c *fiber.Ctx) error {
	q, err := h.historyQuery(c)
	if err != nil {
		return h.fail(c, err)
	}

	msgs, err := h.Messages.ListBroadcast(c.UserContext(), q)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    msgs,
	})
}

// SendBroadcast posts a text message to the room-wide chat
func (h *Handler) SendBroadcast(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	msg, err := h.Messages.PostBroadcast(c.UserContext(), userID, req.draft())
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    msg,
	})
}

// SendBroadcastMedia uploads an image or voice note and posts it
func (h *Handler) SendBroadcastMedia(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	up, err := readUpload(c)
	if err != nil {
		return h.fail(c, err)
	}

	msg, err := h.Messages.PostBroadcastMedia(c.UserContext(), userID, up.kind, up.data, up.contentType)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    msg,
	})
}

// MarkBroadcastRead advances the caller's cursor to the newest message
func (h *Handler) MarkBroadcastRead(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	cursor, err := h.Reads.AdvanceToNow(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	unread, err := h.Reads.UnreadBroadcastCount(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"lastReadAt": cursor.LastReadAt,
			"unread":     unread,
		},
	})
}

// GetBroadcastUnread returns how many room messages are newer than the cursor
func (h *Handler) GetBroadcastUnread(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	unread, err := h.Reads.UnreadBroadcastCount(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"unread": unread,
		},
	})
}
