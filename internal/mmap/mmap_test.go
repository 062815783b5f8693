package mmap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_ReadsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.f32")
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if len(m.Data) != len(want) {
		t.Fatalf("len = %d, want %d", len(m.Data), len(want))
	}
	for i := range want {
		if m.Data[i] != want[i] {
			t.Errorf("data[%d] = %d, want %d", i, m.Data[i], want[i])
		}
	}
}

func TestOpen_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.f32")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Data) != 0 {
		t.Errorf("len = %d, want 0", len(m.Data))
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestClose_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Error("second close errored:", err)
	}
}
