package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"alumnet/internal/apperror"
)

// PublicPrefix is the URL path the uploads root is served under.
const PublicPrefix = "uploads"

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// LocalStorage keeps chat images on the local filesystem.
type LocalStorage struct {
	basePath string
	maxBytes int64
	now      func() time.Time
}

// NewLocalStorage creates the root if needed and checks it is writable.
func NewLocalStorage(basePath string, maxBytes int64) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	scratch, err := os.CreateTemp(absPath, ".writecheck-*")
	if err != nil {
		return nil, fmt.Errorf("uploads root %s is not writable: %w", absPath, err)
	}
	scratch.Close()
	os.Remove(scratch.Name())

	return &LocalStorage{basePath: absPath, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *LocalStorage) BasePath() string {
	return s.basePath
}

// MaxBytes is the largest accepted image.
func (s *LocalStorage) MaxBytes() int64 {
	return s.maxBytes
}

// fullPath returns the filesystem path for a key, refusing to leave basePath.
func (s *LocalStorage) fullPath(key string) string {
	cleanKey := filepath.Clean(key)
	if cleanKey == ".." || strings.HasPrefix(cleanKey, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleanKey) {
		cleanKey = ""
	}
	return filepath.Join(s.basePath, cleanKey)
}

// Write stores r under key atomically via a temp file in the same directory.
func (s *LocalStorage) Write(ctx context.Context, key string, r io.Reader) error {
	p := s.fullPath(key)

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// SaveChatImage validates an uploaded image and stores it under chat/.
// It returns the path relative to the static root, for example
// uploads/chat/chat_image-7-1700000000000.png.
func (s *LocalStorage) SaveChatImage(ctx context.Context, userID int64, r io.Reader) (string, error) {
	limited := io.LimitReader(r, s.maxBytes+1)

	head := make([]byte, 512)
	n, err := io.ReadFull(limited, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", apperror.Internal(fmt.Errorf("failed to read upload: %w", err))
	}
	head = head[:n]
	if n == 0 {
		return "", apperror.Validation("image is empty")
	}

	ext, ok := allowedImageTypes[http.DetectContentType(head)]
	if !ok {
		return "", apperror.Validation("only jpeg, png, gif and webp images are accepted")
	}

	counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), limited)}
	key := path.Join("chat", fmt.Sprintf("chat_image-%d-%d%s", userID, s.now().UnixMilli(), ext))

	if err := s.Write(ctx, key, counter); err != nil {
		return "", apperror.Internal(err)
	}
	if counter.n > s.maxBytes {
		os.Remove(s.fullPath(key))
		return "", apperror.Validation(fmt.Sprintf("image exceeds %d bytes", s.maxBytes))
	}

	return path.Join(PublicPrefix, key), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
