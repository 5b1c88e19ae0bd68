// Package agent installs SaveContext usage notes into AI agent instruction
// files such as AGENTS.md and CLAUDE.md.
package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Markers delimit the managed block so it can be replaced or removed later
const (
	BeginMarker = "<!-- savecontext:begin -->"
	EndMarker   = "<!-- savecontext:end -->"
)

// InstructionText is the managed block written into agent files
const InstructionText = BeginMarker + `
## Context persistence with sc

At conversation start run ` + "`sc session resume`" + ` (or ` + "`sc session start \"name\"`" + `)
and ` + "`sc context list`" + ` to recover saved decisions and progress.

- ` + "`sc context save <key> <value> --category decision`" + ` records what you learn
- ` + "`sc checkpoint create \"name\"`" + ` before risky changes or a context switch
- ` + "`sc issue ready`" + ` lists unblocked work; ` + "`sc issue next-block`" + ` claims some
` + EndMarker + `
`

// KnownAgentFiles lists agent instruction files in priority order
var KnownAgentFiles = []string{
	"AGENTS.md",
	"CLAUDE.md",
	"GEMINI.md",
	".cursor/rules/savecontext.md",
	".github/copilot-instructions.md",
}

// DetectAgentFile returns the first known agent file present in projectDir,
// or "" when there is none.
func DetectAgentFile(projectDir string) string {
	for _, name := range KnownAgentFiles {
		path := filepath.Join(projectDir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// PreferredAgentFile returns the existing agent file to update, defaulting
// to AGENTS.md for new installations.
func PreferredAgentFile(projectDir string) string {
	if path := DetectAgentFile(projectDir); path != "" {
		return path
	}
	return filepath.Join(projectDir, KnownAgentFiles[0])
}

// HasInstructions reports whether path already holds the managed block
func HasInstructions(path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(content), BeginMarker)
}

// AnyFileHasInstructions reports whether any known agent file in projectDir
// holds the managed block
func AnyFileHasInstructions(projectDir string) bool {
	for _, name := range KnownAgentFiles {
		if HasInstructions(filepath.Join(projectDir, name)) {
			return true
		}
	}
	return false
}

// InstallInstructions writes the managed block into path. An existing block
// is replaced in place; otherwise the block goes after any front matter and
// leading heading. The file is created when missing.
func InstallInstructions(path string) error {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(InstructionText), 0644)
	}
	if err != nil {
		return err
	}

	s := string(content)
	if start, end, ok := managedBlock(s); ok {
		return os.WriteFile(path, []byte(s[:start]+InstructionText+s[end:]), 0644)
	}

	pos := insertionPoint(s)
	return os.WriteFile(path, []byte(s[:pos]+InstructionText+"\n"+s[pos:]), 0644)
}

// RemoveInstructions deletes the managed block from path. It reports
// whether a block was found.
func RemoveInstructions(path string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	s := string(content)
	start, end, ok := managedBlock(s)
	if !ok {
		return false, nil
	}
	rest := s[end:]
	if start == 0 || strings.HasSuffix(s[:start], "\n") {
		rest = strings.TrimPrefix(rest, "\n")
	}
	return true, os.WriteFile(path, []byte(s[:start]+rest), 0644)
}

// managedBlock locates the marked block including its trailing newline
func managedBlock(s string) (start, end int, ok bool) {
	start = strings.Index(s, BeginMarker)
	if start < 0 {
		return 0, 0, false
	}
	rel := strings.Index(s[start:], EndMarker)
	if rel < 0 {
		return 0, 0, false
	}
	end = start + rel + len(EndMarker)
	if end < len(s) && s[end] == '\n' {
		end++
	}
	return start, end, true
}

// insertionPoint skips YAML front matter and a leading "#" heading
func insertionPoint(s string) int {
	pos := 0
	if strings.HasPrefix(s, "---\n") {
		if idx := strings.Index(s[4:], "\n---"); idx >= 0 {
			pos = 4 + idx + len("\n---")
			pos = skipLine(s, pos)
		}
	}
	pos = skipBlank(s, pos)
	if pos < len(s) && s[pos] == '#' {
		pos = skipBlank(s, skipLine(s, pos))
	}
	return pos
}

func skipLine(s string, pos int) int {
	if idx := strings.IndexByte(s[pos:], '\n'); idx >= 0 {
		return pos + idx + 1
	}
	return len(s)
}

func skipBlank(s string, pos int) int {
	for pos < len(s) && s[pos] == '\n' {
		pos++
	}
	return pos
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
