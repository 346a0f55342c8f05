package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":                 "(not set)",
		"short":            "*****",
		"sk-abcdefghijkl9": "sk-a...jkl9",
	}
	for in, want := range cases {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalURL(t *testing.T) {
	if got := localURL(":8080"); got != "http://localhost:8080" {
		t.Errorf("unexpected url %s", got)
	}
	if got := localURL("0.0.0.0:9000"); got != "http://0.0.0.0:9000" {
		t.Errorf("unexpected url %s", got)
	}
}

func TestReadImage_ContentTypeFromExtension(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cat.PNG")
	if err := os.WriteFile(p, []byte("\x89PNG\r\n\x1a\nrest"), 0o600); err != nil {
		t.Fatal(err)
	}
	img, err := readImage(p)
	if err != nil {
		t.Fatalf("readImage: %v", err)
	}
	if img.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", img.ContentType)
	}
}

func TestReadImage_Missing(t *testing.T) {
	if _, err := readImage(filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}
