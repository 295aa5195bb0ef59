package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"

	"tcmdiag/internal/diagnosis"
)

// Store holds uploaded tongue/face photos and voice recordings.
type Store interface {
	Put(ctx context.Context, sessionID, contentType string, content []byte) (diagnosis.MediaRef, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// ErrNotFound matches diagnosis.ErrNotFound so the session machine can
// report a dangling reference as invalid input.
var ErrNotFound = fmt.Errorf("media object %w", diagnosis.ErrNotFound)

// ErrInvalidUpload marks an upload rejected for its own content, as opposed
// to a storage failure.
var ErrInvalidUpload = errors.New("invalid upload")

// MaxUploadBytes caps a single upload.
const MaxUploadBytes = 10 << 20

var allowedTypes = map[string]bool{
	"image/jpeg":  true,
	"image/png":   true,
	"image/webp":  true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/mpeg":  true,
	"audio/mp4":   true,
	"audio/webm":  true,
	"audio/ogg":   true,
}

// NormalizeContentType strips parameters and rejects types the analysis
// stages cannot use.
func NormalizeContentType(ct string) (string, error) {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(ct))
	if err != nil {
		return "", fmt.Errorf("content type %q: %w", ct, err)
	}
	if !allowedTypes[mt] {
		return "", fmt.Errorf("content type %q is not accepted", mt)
	}
	return mt, nil
}

func objectKey(sessionID, contentType string) string {
	ext := ""
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		ext = exts[0]
	}
	return strings.TrimSpace(sessionID) + "/" + uuid.NewString() + ext
}

func validatePut(sessionID, contentType string, content []byte) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("%w: session_id is required", ErrInvalidUpload)
	}
	if len(content) == 0 {
		return "", fmt.Errorf("%w: content is empty", ErrInvalidUpload)
	}
	if len(content) > MaxUploadBytes {
		return "", fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidUpload, MaxUploadBytes)
	}
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	return ct, nil
}
