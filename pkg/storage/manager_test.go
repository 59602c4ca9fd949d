package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestManager(t *testing.T) {
	tempDir := t.TempDir()
	output := filepath.Join(tempDir, "out", "threads.csv")

	manager, err := NewManager(output, "", "regions crawl/2024")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if _, err := os.Stat(filepath.Dir(output)); err != nil {
		t.Errorf("Expected output directory to exist: %v", err)
	}
	if manager.OutputPath() != output {
		t.Errorf("Expected output path %s, got %s", output, manager.OutputPath())
	}

	want := filepath.Join(tempDir, "out", "regions_crawl_2024.checkpoint.json")
	if manager.CheckpointPath() != want {
		t.Errorf("Expected checkpoint path %s, got %s", want, manager.CheckpointPath())
	}
}

func TestManagerSeparateCheckpointDir(t *testing.T) {
	tempDir := t.TempDir()
	cpDir := filepath.Join(tempDir, "state")

	manager, err := NewManager(filepath.Join(tempDir, "a.csv"), cpDir, "kw")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if filepath.Dir(manager.CheckpointPath()) != cpDir {
		t.Errorf("Expected checkpoint under %s, got %s", cpDir, manager.CheckpointPath())
	}
	if _, err := os.Stat(cpDir); err != nil {
		t.Errorf("Expected checkpoint directory to exist: %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"keywords":       "keywords",
		"  spaced out  ": "spaced_out",
		"../../etc":      "etc",
		"":               "job",
		"a:b*c":          "a_b_c",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	err := WriteFileAtomic(path, 0644, func(w io.Writer) error {
		_, err := io.WriteString(w, "new")
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "new" {
		t.Errorf("Expected new content, got %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temporary file to be removed")
	}
}

func TestWriteFileAtomicFailureKeepsOldFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("encode failed")
	err := WriteFileAtomic(path, 0644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected encode error, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "old" {
		t.Errorf("Expected old content to survive, got %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temporary file to be removed")
	}
}

func TestFileHasData(t *testing.T) {
	dir := t.TempDir()

	ok, err := FileHasData(filepath.Join(dir, "missing.csv"))
	if err != nil || ok {
		t.Errorf("missing file: got %v, %v", ok, err)
	}

	empty := filepath.Join(dir, "empty.csv")
	os.WriteFile(empty, nil, 0644)
	if ok, _ := FileHasData(empty); ok {
		t.Error("empty file reported as having data")
	}

	full := filepath.Join(dir, "full.csv")
	os.WriteFile(full, []byte("a,b\n"), 0644)
	if ok, _ := FileHasData(full); !ok {
		t.Error("non-empty file reported as empty")
	}
}

func TestCheckpointPathDoesNotCreateDirs(t *testing.T) {
	tempDir := t.TempDir()
	output := filepath.Join(tempDir, "missing", "out.csv")

	got := CheckpointPath(output, "", "kw search")
	if got != filepath.Join(tempDir, "missing", "kw_search.checkpoint.json") {
		t.Errorf("unexpected checkpoint path %s", got)
	}
	if _, err := os.Stat(filepath.Dir(output)); !os.IsNotExist(err) {
		t.Error("CheckpointPath must not create directories")
	}
}
