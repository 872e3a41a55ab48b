package local

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/audit-sentinel/audit-sentinel/internal/config"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	backend, err := New(&config.LocalArchiveConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return backend
}

func TestUploadDownload(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	content := `{"id":"a1","action":"user_login"}` + "\n"
	result, err := backend.Upload(ctx, "2026/01/audit-20260101.ndjson", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), result.Size)
	}
	if result.Checksum == "" {
		t.Error("expected a checksum")
	}

	reader, err := backend.Download(ctx, "2026/01/audit-20260101.ndjson")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(data, []byte(content)) {
		t.Errorf("round-trip mismatch: got %q", data)
	}
}

func TestDownloadMissing(t *testing.T) {
	backend := newTestBackend(t)

	_, err := backend.Download(context.Background(), "nope.ndjson")
	if err == nil {
		t.Fatal("expected error for missing archive")
	}
}

func TestExists(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	exists, err := backend.Exists(ctx, "missing.ndjson")
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if exists {
		t.Error("expected missing object to not exist")
	}

	if _, err := backend.Upload(ctx, "present.ndjson", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	exists, err = backend.Exists(ctx, "present.ndjson")
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if !exists {
		t.Error("expected uploaded object to exist")
	}
}
