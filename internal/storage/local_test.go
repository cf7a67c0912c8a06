package storage

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumnet/internal/apperror"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestSaveChatImage(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root, 1<<20)
	require.NoError(t, err)
	s.now = func() time.Time { return time.UnixMilli(169999) }

	rel, err := s.SaveChatImage(context.Background(), 1, bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, "uploads/chat/chat_image-1-169999.png", rel)

	ok, err := s.Exists(context.Background(), "chat/chat_image-1-169999.png")
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := os.ReadDir(filepath.Join(root, "chat"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSaveChatImageRejectsNonImage(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), 1<<20)
	require.NoError(t, err)

	_, err = s.SaveChatImage(context.Background(), 1, strings.NewReader("plain text, not an image"))
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, err = s.SaveChatImage(context.Background(), 1, strings.NewReader(""))
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestSaveChatImageRejectsOversize(t *testing.T) {
	root := t.TempDir()
	data := pngBytes(t)
	s, err := NewLocalStorage(root, int64(len(data)-1))
	require.NoError(t, err)

	_, err = s.SaveChatImage(context.Background(), 1, bytes.NewReader(data))
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	entries, _ := os.ReadDir(filepath.Join(root, "chat"))
	assert.Empty(t, entries)
}

func TestFullPathStaysInsideRoot(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), 1)
	require.NoError(t, err)

	assert.Equal(t, s.BasePath(), s.fullPath("../../etc/passwd"))
	assert.True(t, strings.HasPrefix(s.fullPath("chat/a.png"), s.BasePath()))
}
