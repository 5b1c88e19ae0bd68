// Package workdir resolves the project path a command operates on and the
// data directory holding the SaveContext database.
package workdir

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	rootFile   = ".savecontext-root"
	appDirName = "savecontext"
)

// NormalizePath returns the canonical form of a project path: absolute,
// cleaned, with "~" expanded and no trailing separator. Empty stays empty.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}

// ResolveProjectPath picks the project path for dir:
//  1. Honor a .savecontext-root file in dir (worktrees pointing at the main repo).
//  2. If inside git, use the git top level (or its .savecontext-root).
//  3. Otherwise dir itself.
func ResolveProjectPath(dir string) string {
	if dir == "" {
		return dir
	}
	dir = NormalizePath(dir)

	if resolved, ok := readRootFile(dir); ok {
		return resolved
	}

	gitRoot, err := gitTopLevel(dir)
	if err != nil || gitRoot == "" {
		return dir
	}
	gitRoot = filepath.Clean(gitRoot)

	if resolved, ok := readRootFile(gitRoot); ok {
		return resolved
	}
	return gitRoot
}

// DataDir returns the directory holding the database and config:
// $SAVECONTEXT_HOME, else $XDG_DATA_HOME/savecontext, else ~/.savecontext.
func DataDir() string {
	if dir := os.Getenv("SAVECONTEXT_HOME"); dir != "" {
		return NormalizePath(dir)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(NormalizePath(xdg), appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName)
	}
	return filepath.Join(home, "."+appDirName)
}

func readRootFile(dir string) (string, bool) {
	content, err := os.ReadFile(filepath.Join(dir, rootFile))
	if err != nil {
		return "", false
	}

	resolved := strings.TrimSpace(string(content))
	if resolved == "" {
		return "", false
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, resolved)
	}

	return filepath.Clean(resolved), true
}

func gitTopLevel(dir string) (string, error) {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// GitInfo returns the current branch and a short porcelain status for dir.
// Both are empty outside a git checkout.
func GitInfo(dir string) (branch, status string) {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", ""
	}
	branch = strings.TrimSpace(string(out))
	if out, err := exec.Command("git", "-C", dir, "status", "--porcelain").Output(); err == nil {
		status = strings.TrimRight(string(out), "\n")
	}
	return branch, status
}
