package media

import (
	"context"
	"strings"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/models"
)

const (
	// MaxFileSize is the largest accepted upload (10MB)
	MaxFileSize = 10 * 1024 * 1024

	// RecorderContentType is what the voice recorder produces
	RecorderContentType = "audio/webm"
)

// Resolver turns an uploaded blob into a stable URL. Implementations must not
// leave a reachable object behind when Upload fails or ctx is cancelled.
type Resolver interface {
	Upload(ctx context.Context, ownerID string, kind models.MessageKind, data []byte, contentType string) (string, error)
}

// Validate checks size and content type against the declared message kind.
// It never touches storage.
func Validate(kind models.MessageKind, size int, contentType string) error {
	const op = "media.Validate"

	if !kind.IsMedia() {
		return apperr.Validation(op, "kind %q does not carry media", kind)
	}
	if size == 0 {
		return apperr.Validation(op, "empty file")
	}
	if size > MaxFileSize {
		return apperr.WithCode(apperr.Validation(op, "file size exceeds limit of 10MB"), apperr.CodeTooLarge)
	}

	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if !strings.HasPrefix(ct, categoryPrefix(kind)) {
		return apperr.WithCode(apperr.Validation(op, "content type %q is not allowed for %s", contentType, kind), apperr.CodeWrongType)
	}
	return nil
}

func categoryPrefix(kind models.MessageKind) string {
	switch kind {
	case models.KindImage:
		return "image/"
	case models.KindAudio:
		return "audio/"
	default:
		return "\x00"
	}
}

// extension returns the file extension for a content type
func extension(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4":
		return ".m4a"
	default:
		return ""
	}
}

// ContentType returns the content type for a stored file extension
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".webm":
		return "audio/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
