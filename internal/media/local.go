package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/models"

	"github.com/google/uuid"
)

// LocalStore keeps media on disk under <dir>/<owner>/<uuid><ext> and serves
// it from <baseURL>/media/<owner>/<file>. Objects are written to a temp file
// and renamed into place, so a failed or cancelled upload is never reachable.
type LocalStore struct {
	dir     string
	baseURL string
	log     *slog.Logger
}

func NewLocalStore(dir, baseURL string, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger,
	}
}

// Upload validates and stores data, returning its public URL
func (s *LocalStore) Upload(ctx context.Context, ownerID string, kind models.MessageKind, data []byte, contentType string) (string, error) {
	const op = "media.Upload"

	if err := Validate(kind, len(data), contentType); err != nil {
		return "", err
	}
	if !safeSegment(ownerID) {
		return "", apperr.Validation(op, "invalid owner id")
	}

	ownerDir := filepath.Join(s.dir, ownerID)
	if err := os.MkdirAll(ownerDir, 0755); err != nil {
		return "", s.unavailable(op, err)
	}

	tmp, err := os.CreateTemp(ownerDir, ".upload-*")
	if err != nil {
		return "", s.unavailable(op, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", s.unavailable(op, err)
	}
	if err := tmp.Close(); err != nil {
		return "", s.unavailable(op, err)
	}

	// the caller may have given up while we were writing
	if err := ctx.Err(); err != nil {
		return "", apperr.Transient(op, err)
	}

	filename := uuid.NewString() + extension(contentType)
	if err := os.Rename(tmpName, filepath.Join(ownerDir, filename)); err != nil {
		return "", s.unavailable(op, err)
	}
	committed = true

	return fmt.Sprintf("%s/media/%s/%s", s.baseURL, ownerID, filename), nil
}

func (s *LocalStore) unavailable(op string, err error) error {
	s.log.Error("media store unavailable", "err", err)
	return apperr.WithCode(apperr.Transient(op, err), apperr.CodeStoreUnavailable)
}

// Path resolves a stored object for serving. It rejects traversal and
// in-progress temp files.
func (s *LocalStore) Path(ownerID, filename string) (string, error) {
	if !safeSegment(ownerID) || !safeSegment(filename) || strings.HasPrefix(filename, ".") {
		return "", apperr.NotFound("media.Path", "file not found")
	}
	p := filepath.Join(s.dir, ownerID, filename)
	if _, err := os.Stat(p); err != nil {
		return "", apperr.NotFound("media.Path", "file not found")
	}
	return p, nil
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
