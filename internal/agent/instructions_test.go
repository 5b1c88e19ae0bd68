package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestDetectAgentFile(t *testing.T) {
	t.Run("finds AGENTS.md first", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "AGENTS.md"), "# Agents")
		writeFile(t, filepath.Join(dir, "CLAUDE.md"), "# Claude")

		if got := DetectAgentFile(dir); filepath.Base(got) != "AGENTS.md" {
			t.Errorf("DetectAgentFile = %q, want AGENTS.md", got)
		}
	})

	t.Run("finds nested cursor rules", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ".cursor", "rules", "savecontext.md"), "rules")

		if got := DetectAgentFile(dir); !strings.HasSuffix(got, filepath.Join(".cursor", "rules", "savecontext.md")) {
			t.Errorf("DetectAgentFile = %q", got)
		}
	})

	t.Run("ignores directories", func(t *testing.T) {
		dir := t.TempDir()
		os.Mkdir(filepath.Join(dir, "AGENTS.md"), 0755)

		if got := DetectAgentFile(dir); got != "" {
			t.Errorf("DetectAgentFile = %q, want empty", got)
		}
	})
}

func TestPreferredAgentFile(t *testing.T) {
	t.Run("uses CLAUDE.md when AGENTS.md missing", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "CLAUDE.md"), "# Claude")

		if got := PreferredAgentFile(dir); filepath.Base(got) != "CLAUDE.md" {
			t.Errorf("PreferredAgentFile = %q, want CLAUDE.md", got)
		}
	})

	t.Run("defaults to AGENTS.md when nothing exists", func(t *testing.T) {
		dir := t.TempDir()

		if got := PreferredAgentFile(dir); got != filepath.Join(dir, "AGENTS.md") {
			t.Errorf("PreferredAgentFile = %q, want AGENTS.md", got)
		}
	})
}

func TestInstallCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".github", "copilot-instructions.md")
	if err := InstallInstructions(path); err != nil {
		t.Fatalf("InstallInstructions failed: %v", err)
	}
	if got := readFile(t, path); got != InstructionText {
		t.Errorf("new file should hold only the block, got %q", got)
	}
	if !HasInstructions(path) {
		t.Error("HasInstructions = false after install")
	}
}

func TestInstallPlacement(t *testing.T) {
	tests := []struct {
		name   string
		before string
		prefix string
	}{
		{"after heading", "# Project\n\nExisting notes\n", "# Project\n\n"},
		{"after front matter and heading", "---\ntitle: x\n---\n# Project\nBody\n", "---\ntitle: x\n---\n# Project\n"},
		{"at top without heading", "Plain notes\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "AGENTS.md")
			writeFile(t, path, tt.before)

			if err := InstallInstructions(path); err != nil {
				t.Fatalf("InstallInstructions failed: %v", err)
			}
			got := readFile(t, path)
			if !strings.HasPrefix(got, tt.prefix+BeginMarker) {
				t.Errorf("block not placed after %q:\n%s", tt.prefix, got)
			}
			if !strings.HasSuffix(got, tt.before[len(tt.prefix):]) {
				t.Errorf("existing content was not preserved:\n%s", got)
			}
		})
	}
}

func TestInstallReplacesExistingBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	writeFile(t, path, "# Notes\n"+BeginMarker+"\nold text\n"+EndMarker+"\nTail\n")

	if err := InstallInstructions(path); err != nil {
		t.Fatalf("InstallInstructions failed: %v", err)
	}
	got := readFile(t, path)
	if strings.Contains(got, "old text") {
		t.Errorf("old block should be replaced:\n%s", got)
	}
	if strings.Count(got, BeginMarker) != 1 {
		t.Errorf("expected one block:\n%s", got)
	}
	if got != "# Notes\n"+InstructionText+"Tail\n" {
		t.Errorf("unexpected content:\n%q", got)
	}
}

func TestRemoveInstructions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	writeFile(t, path, "# Project\n\nNotes\n")
	if err := InstallInstructions(path); err != nil {
		t.Fatal(err)
	}

	removed, err := RemoveInstructions(path)
	if err != nil || !removed {
		t.Fatalf("RemoveInstructions = %v, %v", removed, err)
	}
	if got := readFile(t, path); got != "# Project\n\nNotes\n" {
		t.Errorf("remove should restore the original, got %q", got)
	}

	removed, err = RemoveInstructions(path)
	if err != nil || removed {
		t.Errorf("second remove = %v, %v; want false, nil", removed, err)
	}
	if removed, err := RemoveInstructions(filepath.Join(t.TempDir(), "missing.md")); err != nil || removed {
		t.Errorf("missing file = %v, %v; want false, nil", removed, err)
	}
}

func TestAnyFileHasInstructions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "CLAUDE.md"), "# Claude")
	if AnyFileHasInstructions(dir) {
		t.Error("no file holds the block yet")
	}

	if err := InstallInstructions(filepath.Join(dir, "GEMINI.md")); err != nil {
		t.Fatal(err)
	}
	if !AnyFileHasInstructions(dir) {
		t.Error("expected block in GEMINI.md to be found")
	}
	if HasInstructions("/nonexistent/file.md") {
		t.Error("missing file cannot hold instructions")
	}
}
