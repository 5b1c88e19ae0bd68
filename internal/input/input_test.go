package input

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withStdin(t *testing.T, s string) {
	t.Helper()
	old := Stdin
	Stdin = strings.NewReader(s)
	t.Cleanup(func() { Stdin = old })
}

func TestReadLines(t *testing.T) {
	lines := ReadLines(strings.NewReader("  line1 \n\n\t\nline2\r\nline3"))
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "line1" || lines[1] != "line2" || lines[2] != "line3" {
		t.Errorf("unexpected lines %q", lines)
	}
	if got := ReadLines(strings.NewReader("")); len(got) != 0 {
		t.Errorf("Expected no lines, got %q", got)
	}
}

func TestValuePassthrough(t *testing.T) {
	var r Reader
	for _, v := range []string{"plain", "email@example.com", "@", ""} {
		got, err := r.Value(v)
		if err != nil || got != v {
			t.Errorf("Value(%q) = %q, %v; want passthrough", v, got, err)
		}
	}
}

func TestValueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.md")
	if err := os.WriteFile(path, []byte("first\r\nsecond\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var r Reader
	got, err := r.Value("@" + path)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if got != "first\nsecond" {
		t.Errorf("got %q", got)
	}

	if _, err := r.Value("@/nonexistent/file.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValueEscapedAt(t *testing.T) {
	var r Reader
	got, err := r.Value("@@mention")
	if err != nil || got != "@mention" {
		t.Errorf("Value(@@mention) = %q, %v", got, err)
	}
}

func TestValueStdinOnce(t *testing.T) {
	withStdin(t, "from stdin\n")

	var r Reader
	got, err := r.Value("-")
	if err != nil || got != "from stdin" {
		t.Fatalf("Value(-) = %q, %v", got, err)
	}
	if _, err := r.Value("-"); !errors.Is(err, ErrStdinUsed) {
		t.Errorf("second stdin read should fail with ErrStdinUsed, got %v", err)
	}
}

func TestLinesMixed(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "keys.txt")
	if err := os.WriteFile(file, []byte("k2\n\nk3\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	withStdin(t, "k4\nk5\n")

	var r Reader
	got, err := r.Lines([]string{"k1", "@" + file, "-", "@@k6"})
	if err != nil {
		t.Fatalf("Lines failed: %v", err)
	}
	want := []string{"k1", "k2", "k3", "k4", "k5", "@k6"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Lines = %q, want %q", got, want)
	}

	if _, err := r.Lines([]string{"-"}); !errors.Is(err, ErrStdinUsed) {
		t.Errorf("expected ErrStdinUsed, got %v", err)
	}
}

func TestLinesEmpty(t *testing.T) {
	var r Reader
	got, err := r.Lines(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Lines(nil) = %q, %v", got, err)
	}
}
