package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterRollsOverToBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdpd.log")
	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()
	rw.maxSize = 16

	for _, line := range []string{"first-line-xxxx\n", "second-line-xxx\n", "third-line-xxxx\n"} {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	current, _ := os.ReadFile(path)
	if !strings.Contains(string(current), "third") {
		t.Fatalf("current file = %q, want third line", current)
	}
	b1, _ := os.ReadFile(path + ".1")
	if !strings.Contains(string(b1), "second") {
		t.Fatalf("backup .1 = %q, want second line", b1)
	}
	b2, _ := os.ReadFile(path + ".2")
	if !strings.Contains(string(b2), "first") {
		t.Fatalf("backup .2 = %q, want first line", b2)
	}
}

func TestRotatingWriterReopenKeepsAppending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rdpd.log")
	rw, err := NewRotatingWriter(path, 0, 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	rw.Write([]byte("a\n"))
	if err := rw.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	rw.Write([]byte("b\n"))

	data, _ := os.ReadFile(path)
	if string(data) != "a\nb\n" {
		t.Fatalf("file = %q", data)
	}
}
