package app

import (
	"context"
	"strings"
	"testing"

	"github.com/arin/xx-chat/internal/blob"
	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/observability"
	"github.com/arin/xx-chat/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Model:          "gpt-4o",
		DisabledModels: []string{"gpt-4"},
		Store:          config.Store{Driver: "memory"},
		Blob:           config.Blob{Driver: "local", Dir: t.TempDir(), Prefix: blob.DefaultPrefix},
	}
}

func TestNew_MemoryStoreAndLocalBlobs(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), observability.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, ok := a.Catalog.Lookup("gpt-4"); !ok {
		t.Fatal("catalog should still list disabled models")
	}
	if _, err := a.Catalog.Select("gpt-4"); err == nil {
		t.Error("disabled model should not be selectable")
	}

	e, err := a.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.Model().ModelID != "gpt-4o" {
		t.Errorf("expected configured model, got %s", e.Model().ModelID)
	}
	if e.State() != session.StateIdle {
		t.Errorf("new engine should be idle, got %s", e.State())
	}
}

func TestNewEngine_FallsBackWhenModelDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model = "gpt-4"
	a, err := New(context.Background(), cfg, observability.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	m, err := a.DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel: %v", err)
	}
	if m.ModelID == "gpt-4" || !m.Enabled {
		t.Errorf("expected an enabled fallback, got %+v", m)
	}
}

func TestNew_UnknownDrivers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "cassandra"
	if _, err := New(context.Background(), cfg, observability.Discard()); err == nil {
		t.Error("expected error for unknown store driver")
	}

	cfg = testConfig(t)
	cfg.Blob.Driver = "ftp"
	_, err := New(context.Background(), cfg, observability.Discard())
	if err == nil || !strings.Contains(err.Error(), "ftp") {
		t.Errorf("expected unknown blob driver error, got %v", err)
	}
}

func TestNewBlobBackend_Local(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBlobBackend(context.Background(), config.Blob{Dir: dir, PublicURL: "http://localhost:8080/blobs"})
	if err != nil {
		t.Fatalf("NewBlobBackend: %v", err)
	}
	local, ok := b.(*blob.Local)
	if !ok {
		t.Fatalf("expected *blob.Local, got %T", b)
	}
	if local.Dir != dir {
		t.Errorf("expected dir %s, got %s", dir, local.Dir)
	}
}
