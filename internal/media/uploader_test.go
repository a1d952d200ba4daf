// ABOUTME: Tests for the local media uploader
// ABOUTME: Covers content copying, type sniffing and failure paths

package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-sync/internal/chat"
)

// Minimal valid PNG header, enough for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestLocalUploader_UploadCopiesAndSniffs(t *testing.T) {
	dir := t.TempDir()
	up, err := NewLocalUploader(dir, nil)
	require.NoError(t, err)

	src := writeTempFile(t, "photo.bin", pngHeader)
	url, typeTag, err := up.Upload(context.Background(), chat.LocalMedia{Ref: src})
	require.NoError(t, err)

	assert.Equal(t, "image/png", typeTag)
	require.True(t, strings.HasPrefix(url, "file://"))

	copied := strings.TrimPrefix(url, "file://")
	assert.Equal(t, dir, filepath.Dir(copied))
	assert.Equal(t, ".png", filepath.Ext(copied))

	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestLocalUploader_DistinctNamesPerUpload(t *testing.T) {
	up, err := NewLocalUploader(t.TempDir(), nil)
	require.NoError(t, err)

	src := writeTempFile(t, "photo.bin", pngHeader)
	first, _, err := up.Upload(context.Background(), chat.LocalMedia{Ref: src})
	require.NoError(t, err)
	second, _, err := up.Upload(context.Background(), chat.LocalMedia{Ref: src})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestLocalUploader_EmptyRef(t *testing.T) {
	up, err := NewLocalUploader(t.TempDir(), nil)
	require.NoError(t, err)

	_, _, err = up.Upload(context.Background(), chat.LocalMedia{})
	assert.ErrorIs(t, err, ErrEmptyRef)
}

func TestLocalUploader_MissingFile(t *testing.T) {
	up, err := NewLocalUploader(t.TempDir(), nil)
	require.NoError(t, err)

	_, _, err = up.Upload(context.Background(), chat.LocalMedia{Ref: filepath.Join(t.TempDir(), "nope.png")})
	assert.Error(t, err)
}

func TestNewLocalUploader_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "media")
	_, err := NewLocalUploader(dir, nil)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
