package blob

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local writes objects below Dir. URLs are PublicURL+key when a public URL
// is configured (e.g. the serve command's /blobs route), file:// otherwise.
type Local struct {
	Dir       string
	PublicURL string
}

func (l *Local) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	p := filepath.Join(l.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return "", fmt.Errorf("failed to create blob dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if l.PublicURL != "" {
		return strings.TrimRight(l.PublicURL, "/") + "/" + key, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
