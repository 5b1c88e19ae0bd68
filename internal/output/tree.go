package output

import (
	"fmt"
	"strings"

	"github.com/marcus/savecontext/internal/models"
)

const (
	branchMid  = "├── "
	branchLast = "└── "
	pipe       = "│   "
	blank      = "    "
)

// TreeNode is one issue in a rendered hierarchy
type TreeNode struct {
	ShortID  string
	Title    string
	Type     models.Type
	Status   models.Status
	Priority int
	Children []TreeNode
}

// TreeRenderOptions configures tree rendering
type TreeRenderOptions struct {
	MaxDepth     int // 0 = unlimited
	ShowStatus   bool
	ShowType     bool
	ShowPriority bool
}

// NodeFromIssue builds a leaf node from an issue
func NodeFromIssue(is models.Issue) TreeNode {
	return TreeNode{
		ShortID:  is.ShortID,
		Title:    is.Title,
		Type:     is.Type,
		Status:   is.Status,
		Priority: is.Priority,
	}
}

func statusMark(s models.Status) string {
	switch s {
	case models.StatusClosed:
		return " ✓"
	case models.StatusDeferred:
		return " ⧗"
	case models.StatusInProgress:
		return " ●"
	case models.StatusBlocked:
		return " ✗"
	default:
		return ""
	}
}

func connector(last bool) string {
	if last {
		return branchLast
	}
	return branchMid
}

func nodeLabel(n TreeNode, opts TreeRenderOptions) string {
	var parts []string
	if opts.ShowType {
		parts = append(parts, string(n.Type))
	}
	parts = append(parts, n.ShortID+":")
	if opts.ShowPriority {
		parts = append(parts, FormatPriority(n.Priority))
	}
	parts = append(parts, n.Title)
	label := strings.Join(parts, " ")
	if opts.ShowStatus {
		label += " " + FormatStatus(n.Status) + statusMark(n.Status)
	}
	return label
}

// RenderTree renders root on the first line followed by its descendants
func RenderTree(root TreeNode, opts TreeRenderOptions) string {
	lines := []string{nodeLabel(root, opts)}
	if opts.MaxDepth == 0 || opts.MaxDepth > 1 {
		childOpts := opts
		if childOpts.MaxDepth > 0 {
			childOpts.MaxDepth--
		}
		lines = append(lines, renderNodes(root.Children, childOpts, 0, "")...)
	}
	return strings.Join(lines, "\n")
}

// RenderTreeLines renders several roots, each with a branch connector
func RenderTreeLines(roots []TreeNode, opts TreeRenderOptions) []string {
	return renderNodes(roots, opts, 0, "")
}

func renderNodes(nodes []TreeNode, opts TreeRenderOptions, depth int, prefix string) []string {
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return nil
	}
	var lines []string
	for i, n := range nodes {
		last := i == len(nodes)-1
		lines = append(lines, prefix+connector(last)+nodeLabel(n, opts))

		childPrefix := prefix + pipe
		if last {
			childPrefix = prefix + blank
		}
		lines = append(lines, renderNodes(n.Children, opts, depth+1, childPrefix)...)
	}
	return lines
}

// RenderBlockers renders an issue's open blockers under a "blocked by:"
// header. Repeated ids are printed once.
func RenderBlockers(blockers []TreeNode) string {
	if len(blockers) == 0 {
		return ""
	}
	lines := []string{branchLast + "blocked by:"}
	seen := make(map[string]bool)
	var unique []TreeNode
	for _, b := range blockers {
		if seen[b.ShortID] {
			continue
		}
		seen[b.ShortID] = true
		unique = append(unique, b)
	}
	for i, b := range unique {
		lines = append(lines, fmt.Sprintf("%s%s%s: %s %s", blank, connector(i == len(unique)-1), b.ShortID, b.Title, FormatStatus(b.Status)))
	}
	return strings.Join(lines, "\n")
}

// RenderChildrenList renders direct children as an indented list
func RenderChildrenList(nodes []TreeNode) []string {
	lines := make([]string, 0, len(nodes))
	for i, n := range nodes {
		lines = append(lines, fmt.Sprintf("  %s%s %s: %s [%s]%s",
			connector(i == len(nodes)-1), n.Type, n.ShortID, n.Title, n.Status, statusMark(n.Status)))
	}
	return lines
}

// RenderProgressBar draws a fixed-width bar filled to pct percent
func RenderProgressBar(pct, width int) string {
	if width <= 0 {
		return ""
	}
	pct = max(0, min(pct, 100))
	filled := pct * width / 100
	return successStyle.Render(strings.Repeat("█", filled)) +
		mutedStyle.Render(strings.Repeat("░", width-filled))
}
