package blob

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/observability"
)

type recordingBackend struct {
	key         string
	data        []byte
	contentType string
	err         error
}

func (r *recordingBackend) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.key, r.data, r.contentType = key, data, contentType
	return "https://cdn.example.com/" + key, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, x%h, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newTestStore(b Backend) *Store {
	s := New(b, "", observability.Discard())
	s.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestUpload_KeyAndURL(t *testing.T) {
	b := &recordingBackend{}
	url, err := newTestStore(b).Upload(context.Background(), pngBytes(t, 10, 10), "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(b.key, "chat_images/2024/06/") || !strings.HasSuffix(b.key, ".png") {
		t.Errorf("unexpected key: %s", b.key)
	}
	if url != "https://cdn.example.com/"+b.key {
		t.Errorf("unexpected url: %s", url)
	}
	if b.contentType != "image/png" {
		t.Errorf("unexpected content type: %s", b.contentType)
	}
}

func TestUpload_SniffsContentType(t *testing.T) {
	b := &recordingBackend{}
	if _, err := newTestStore(b).Upload(context.Background(), pngBytes(t, 4, 4), ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if b.contentType != "image/png" {
		t.Errorf("expected sniffed image/png, got %s", b.contentType)
	}
}

func TestUpload_RejectsNonImages(t *testing.T) {
	_, err := newTestStore(&recordingBackend{}).Upload(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	if !errors.Is(err, chat.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUpload_RejectsOversized(t *testing.T) {
	big := make([]byte, MaxImageSize+1)
	_, err := newTestStore(&recordingBackend{}).Upload(context.Background(), big, "image/png")
	if !errors.Is(err, chat.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUpload_DownscalesLargeImages(t *testing.T) {
	b := &recordingBackend{}
	if _, err := newTestStore(b).Upload(context.Background(), pngBytes(t, 4000, 1000), "image/png"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(b.data))
	if err != nil {
		t.Fatalf("uploaded data is not a png: %v", err)
	}
	if cfg.Width != MaxDimension || cfg.Height != 512 {
		t.Errorf("expected %dx512, got %dx%d", MaxDimension, cfg.Width, cfg.Height)
	}
}

func TestUpload_SmallImagesUntouched(t *testing.T) {
	b := &recordingBackend{}
	data := pngBytes(t, 100, 100)
	if _, err := newTestStore(b).Upload(context.Background(), data, "image/png"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !bytes.Equal(b.data, data) {
		t.Error("small image should be uploaded unchanged")
	}
}

func TestUpload_BackendError(t *testing.T) {
	_, err := newTestStore(&recordingBackend{err: errors.New("bucket gone")}).
		Upload(context.Background(), pngBytes(t, 4, 4), "image/png")
	if err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestLocal_Put(t *testing.T) {
	dir := t.TempDir()
	l := &Local{Dir: dir, PublicURL: "http://localhost:8080/blobs/"}

	url, err := l.Put(context.Background(), "chat_images/2024/06/a.png", []byte("x"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "http://localhost:8080/blobs/chat_images/2024/06/a.png" {
		t.Errorf("unexpected url: %s", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_images", "2024", "06", "a.png")); err != nil {
		t.Errorf("file not written: %v", err)
	}
}

func TestLocal_FileURL(t *testing.T) {
	l := &Local{Dir: t.TempDir()}
	url, err := l.Put(context.Background(), "k.png", []byte("x"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("expected file url, got %s", url)
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}
