package pbo

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// TestDeobfuscationChain is scenario S7 from spec.md §8: an obfuscated
// include-redirect resolves to its target's content, and the target is
// skipped as its own output.
func TestDeobfuscationChain(t *testing.T) {
	headers := []HeaderPair(nil)
	names := []string{"obfuscated1", "not-obfuscated1"}
	contents := [][]byte{
		[]byte("//comment\r\n#include \"not-obfuscated1\"\r\n"),
		[]byte("CONTENT"),
	}
	data := buildArchive(t, true, headers, names, contents)

	a, err := Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// obfuscated1 is a normal filename here (no invalid bytes), so it
	// would not be renamed; the test exercises the include-redirect walk
	// itself rather than the renaming step.
	dest := t.TempDir()
	if err := Extract(a, dest, nil, ExtractOptions{Deobfuscate: true}); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1: %v", len(entries), entries)
	}
	if entries[0].Name() != "obfuscated1" {
		t.Errorf("output file = %q, want %q", entries[0].Name(), "obfuscated1")
	}

	got, err := os.ReadFile(filepath.Join(dest, "obfuscated1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "CONTENT" {
		t.Errorf("content = %q, want %q", got, "CONTENT")
	}
}

func TestExtractPlainStreamsVerbatim(t *testing.T) {
	data := buildArchive(t, true, nil, []string{"a", "sub/b"}, [][]byte{[]byte("aaa"), []byte("bbb")})
	a, err := Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(a, dest, nil, ExtractOptions{}); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "sub", "b"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "bbb" {
		t.Errorf("content = %q, want %q", got, "bbb")
	}
}

func TestExtractSkipsInvalidNonObfuscatedFilename(t *testing.T) {
	data := buildArchive(t, true, nil, []string{"bad?name.sqf"}, [][]byte{[]byte("x")})
	a, err := Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(a, dest, nil, ExtractOptions{}); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0 (invalid filename should be skipped)", len(entries))
	}
}

func TestExtractSelectionNotFound(t *testing.T) {
	data := buildArchive(t, true, nil, []string{"a"}, [][]byte{[]byte("x")})
	a, err := Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = Extract(a, t.TempDir(), []string{"missing"}, ExtractOptions{})
	if err == nil {
		t.Fatal("Extract() with a missing selection = nil error, want ErrEntryNotFound")
	}
}
