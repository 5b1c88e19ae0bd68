package workdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{dir, dir},
		{dir + string(filepath.Separator), dir},
		{filepath.Join(dir, "a", "..", "b"), filepath.Join(dir, "b")},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := NormalizePath("~/proj"); got != filepath.Join(home, "proj") {
		t.Errorf("NormalizePath(~/proj) = %q", got)
	}
}

func TestResolveProjectPathRootFile(t *testing.T) {
	main := t.TempDir()
	wt := t.TempDir()
	if err := os.WriteFile(filepath.Join(wt, rootFile), []byte(main+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := ResolveProjectPath(wt); got != filepath.Clean(main) {
		t.Errorf("ResolveProjectPath = %q, want %q", got, main)
	}
}

func TestResolveProjectPathPlainDir(t *testing.T) {
	dir := t.TempDir()
	got := ResolveProjectPath(dir)
	// Temp dirs are not inside a git repo on CI, but tolerate a developer
	// machine where they might be.
	if got != dir && gitRootOf(dir) == "" {
		t.Errorf("ResolveProjectPath = %q, want %q", got, dir)
	}
}

func gitRootOf(dir string) string {
	root, err := gitTopLevel(dir)
	if err != nil {
		return ""
	}
	return root
}

func TestDataDir(t *testing.T) {
	custom := t.TempDir()
	t.Setenv("SAVECONTEXT_HOME", custom)
	if got := DataDir(); got != custom {
		t.Errorf("DataDir = %q, want %q", got, custom)
	}

	xdg := t.TempDir()
	t.Setenv("SAVECONTEXT_HOME", "")
	t.Setenv("XDG_DATA_HOME", xdg)
	if got := DataDir(); got != filepath.Join(xdg, "savecontext") {
		t.Errorf("DataDir = %q, want under XDG_DATA_HOME", got)
	}
}

func TestGitInfoOutsideRepo(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	branch, status := GitInfo(dir)
	if branch != "" || status != "" {
		t.Errorf("GitInfo outside a repo = %q, %q; want empty", branch, status)
	}
}
