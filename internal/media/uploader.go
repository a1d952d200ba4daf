// ABOUTME: Media upload collaborator used by the send path
// ABOUTME: LocalUploader copies files into a content dir and returns file URLs

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/2389/chat-sync/internal/chat"
)

// ErrEmptyRef is returned when an upload is attempted with no media reference.
var ErrEmptyRef = errors.New("empty media reference")

// Uploader resolves local media references to URLs. A failed upload
// drops that attachment from the outgoing record; it never fails the
// containing send.
type Uploader interface {
	Upload(ctx context.Context, ref chat.LocalMedia) (url string, typeTag string, err error)
}

// LocalUploader stores media under a directory and serves file:// URLs.
// The media type is sniffed from content.
type LocalUploader struct {
	dir    string
	logger *slog.Logger
}

// NewLocalUploader creates an uploader rooted at dir, creating it if
// needed. Pass nil logger for default.
func NewLocalUploader(dir string, logger *slog.Logger) (*LocalUploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	return &LocalUploader{
		dir:    dir,
		logger: logger.With("component", "media"),
	}, nil
}

// Upload copies the referenced file into the content directory under a
// fresh name and returns its URL and sniffed media type.
func (u *LocalUploader) Upload(ctx context.Context, ref chat.LocalMedia) (string, string, error) {
	if ref.Ref == "" {
		return "", "", ErrEmptyRef
	}

	src, err := os.Open(ref.Ref)
	if err != nil {
		return "", "", fmt.Errorf("opening media: %w", err)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return "", "", fmt.Errorf("sniffing media type: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("rewinding media: %w", err)
	}

	name := uuid.New().String() + mtype.Extension()
	dstPath := filepath.Join(u.dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", "", fmt.Errorf("creating media file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", "", fmt.Errorf("copying media: %w", err)
	}

	url := "file://" + dstPath
	u.logger.Debug("media uploaded", "ref", ref.Ref, "url", url, "type", mtype.String())
	return url, mtype.String(), nil
}
