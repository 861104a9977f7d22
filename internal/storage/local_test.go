package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestInspectNotStored(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}

	if _, err := local.Inspect(context.Background(), "file123"); !errors.Is(err, ErrNotStored) {
		t.Fatalf("expected ErrNotStored, got %v", err)
	}
	if _, err := local.Optimize(context.Background(), "file123"); !errors.Is(err, ErrNotStored) {
		t.Fatalf("expected ErrNotStored, got %v", err)
	}
}

func TestInspectRejectsNonPDF(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("just some text\n"), 0o640); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err = local.Inspect(context.Background(), "notes")
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	if filepath.Base(local.Path("abc")) != "abc.pdf" {
		t.Fatalf("unexpected path: %s", local.Path("abc"))
	}
	out := local.OutputPath("optimize", "abc")
	if filepath.Base(filepath.Dir(out)) != "optimize" {
		t.Fatalf("unexpected output path: %s", out)
	}
}

func TestNewLocalRequiresRoot(t *testing.T) {
	if _, err := NewLocal(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}
