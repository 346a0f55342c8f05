// Package blob uploads image attachments and returns the public URL the
// providers fetch them from.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lithammer/shortuuid/v4"

	"github.com/arin/xx-chat/internal/chat"
)

const (
	// MaxImageSize is the largest attachment accepted, before downscaling.
	MaxImageSize = 8 << 20
	// MaxDimension bounds the longest side of uploaded images.
	MaxDimension = 2048
	// DefaultPrefix is the key prefix images are stored under.
	DefaultPrefix = "chat_images"
)

// Backend stores an object under key and returns its public URL.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Store validates, downscales and uploads images.
type Store struct {
	backend Backend
	prefix  string
	log     *slog.Logger
	now     func() time.Time
}

func New(backend Backend, prefix string, log *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{backend: backend, prefix: strings.Trim(prefix, "/"), log: log, now: time.Now}
}

// Upload stores data and returns its URL. Only image content types up to
// MaxImageSize are accepted; an empty contentType is sniffed from data.
func (s *Store) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	contentType, err := Validate(data, contentType)
	if err != nil {
		return "", err
	}

	data = s.downscale(data, contentType)

	key := path.Join(s.prefix, s.now().UTC().Format("2006/01"), shortuuid.New()+extension(contentType))
	url, err := s.backend.Put(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	s.log.Debug("image uploaded", "key", key, "bytes", len(data))
	return url, nil
}

// Validate checks size and type and returns the effective content type.
func Validate(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", chat.ValidationError("upload image", fmt.Errorf("image is empty"))
	}
	if len(data) > MaxImageSize {
		return "", chat.ValidationError("upload image",
			fmt.Errorf("image is %d bytes, the limit is %d MB", len(data), MaxImageSize>>20))
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", chat.ValidationError("upload image", fmt.Errorf("only images can be attached, got %s", contentType))
	}
	return contentType, nil
}

// downscale shrinks images whose longest side exceeds MaxDimension. Formats
// imaging cannot decode (svg, heic, ...) are uploaded untouched.
func (s *Store) downscale(data []byte, contentType string) []byte {
	format, ok := formats[contentType]
	if !ok {
		return data
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || (cfg.Width <= MaxDimension && cfg.Height <= MaxDimension) {
		return data
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		s.log.Warn("image decode failed, uploading original", "error", err)
		return data
	}
	resized := imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		s.log.Warn("image encode failed, uploading original", "error", err)
		return data
	}
	return buf.Bytes()
}

var formats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/gif":  imaging.GIF,
	"image/bmp":  imaging.BMP,
	"image/tiff": imaging.TIFF,
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	case "image/svg+xml":
		return ".svg"
	}
	return ""
}
