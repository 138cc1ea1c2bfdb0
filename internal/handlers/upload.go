package handlers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/media"
	"obrolan/server/internal/models"

	"github.com/gofiber/fiber/v2"
)

type upload struct {
	kind        models.MessageKind
	data        []byte
	contentType string
}

// readUpload reads the multipart "file" field and the "kind" form value
func readUpload(c *fiber.Ctx) (*upload, error) {
	const op = "handlers.readUpload"

	file, err := c.FormFile("file")
	if err != nil {
		return nil, apperr.Validation(op, "No file uploaded")
	}

	kind := models.MessageKind(c.FormValue("kind", c.Query("kind")))
	if !kind.IsMedia() {
		return nil, apperr.Validation(op, "Invalid media kind. Must be image or audio")
	}

	// Reject before reading the body into memory
	if file.Size > media.MaxFileSize {
		return nil, apperr.WithCode(apperr.Validation(op, "File size exceeds limit of 10MB (uploaded: %.2fMB)", float64(file.Size)/(1024*1024)), apperr.CodeTooLarge)
	}

	f, err := file.Open()
	if err != nil {
		return nil, apperr.Validation(op, "Failed to read upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, media.MaxFileSize+1))
	if err != nil {
		return nil, apperr.Transient(op, err)
	}

	contentType := file.Header.Get(fiber.HeaderContentType)
	if contentType == "" {
		contentType = media.ContentType(filepath.Ext(file.Filename))
	}

	return &upload{kind: kind, data: data, contentType: contentType}, nil
}

// GetMedia serves stored media objects
func (h *Handler) GetMedia(c *fiber.Ctx) error {
	if h.Media == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "File not found",
		})
	}

	filePath, err := h.Media.Path(c.Params("owner"), c.Params("filename"))
	if err != nil {
		return h.fail(c, err)
	}

	// Open file
	file, err := os.Open(filePath)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to open file",
		})
	}
	defer file.Close()

	// Get file info
	fileInfo, err := file.Stat()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to get file info",
		})
	}

	// Set content type based on extension
	c.Set(fiber.HeaderContentType, media.ContentType(filepath.Ext(filePath)))
	c.Set(fiber.HeaderContentLength, fmt.Sprintf("%d", fileInfo.Size()))
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")

	// Stream file to client
	if _, err := io.Copy(c.Response().BodyWriter(), file); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to send file",
		})
	}

	return nil
}
