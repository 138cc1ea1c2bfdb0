package handlers

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/directory"
	"obrolan/server/internal/identity"
	"obrolan/server/internal/media"
	"obrolan/server/internal/messages"
	"obrolan/server/internal/notify"
	"obrolan/server/internal/readstate"
	"obrolan/server/internal/store"
	ws "obrolan/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
)

// Handler serves the HTTP API on top of the messaging core
type Handler struct {
	Messages  *messages.Store
	Reads     *readstate.Tracker
	Notify    *notify.Aggregator
	Directory *directory.Directory
	Users     identity.Provider
	Media     *media.LocalStore
	Hub       *ws.Hub

	// HistoryLimit is the page size when the client sends none
	HistoryLimit int
	Log          *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

// fail writes err as the standard error envelope
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = fiber.StatusBadRequest
		if apperr.CodeOf(err) == apperr.CodeTooLarge {
			status = fiber.StatusRequestEntityTooLarge
		}
	case apperr.KindAuthorization:
		status = fiber.StatusForbidden
	case apperr.KindNotFound:
		status = fiber.StatusNotFound
	case apperr.KindTransient:
		status = fiber.StatusServiceUnavailable
	}

	msg := "Internal server error"
	var e *apperr.Error
	if errors.As(err, &e) && e.Msg != "" && status < fiber.StatusInternalServerError {
		msg = e.Msg
	} else if status == fiber.StatusServiceUnavailable {
		msg = "Service temporarily unavailable, please retry"
	}
	if status >= fiber.StatusInternalServerError {
		h.logger().Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}

	body := fiber.Map{
		"success": false,
		"error":   msg,
	}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = code
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// historyQuery reads ?after=&since=&limit= into a store query
func (h *Handler) historyQuery(c *fiber.Ctx) (store.Query, error) {
	q := store.Query{AfterID: c.Query("after"), Limit: h.HistoryLimit}

	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return q, apperr.Validation("handlers.historyQuery", "since must be an RFC3339 timestamp")
		}
		q.Since = t
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, apperr.Validation("handlers.historyQuery", "limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}
