// Package output formats CLI results for terminals and for JSON consumers.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/savecontext/internal/models"
	"golang.org/x/term"
)

// Writers used by every helper; tests swap them out
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

var (
	primaryColor = lipgloss.Color("212")
	errorColor   = lipgloss.Color("196")
	warningColor = lipgloss.Color("214")
	successColor = lipgloss.Color("42")
	infoColor    = lipgloss.Color("45")
	mutedColor   = lipgloss.Color("241")

	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	idStyle      = lipgloss.NewStyle().Foreground(primaryColor)

	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusOpen:       lipgloss.NewStyle().Foreground(infoColor),
		models.StatusInProgress: lipgloss.NewStyle().Foreground(warningColor),
		models.StatusBlocked:    lipgloss.NewStyle().Foreground(errorColor),
		models.StatusClosed:     lipgloss.NewStyle().Foreground(successColor),
		models.StatusDeferred:   mutedStyle,
	}
)

// IsTTY reports whether stdout is an interactive terminal
func IsTTY() bool {
	f, ok := Stdout.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Error prints an error message to stderr
func Error(format string, args ...any) {
	fmt.Fprintln(Stderr, errorStyle.Render("ERROR:")+" "+fmt.Sprintf(format, args...))
}

// Warning prints a warning to stderr
func Warning(format string, args ...any) {
	fmt.Fprintln(Stderr, warningStyle.Render("WARNING: "+fmt.Sprintf(format, args...)))
}

// Success prints a confirmation to stdout
func Success(format string, args ...any) {
	fmt.Fprintln(Stdout, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Line prints plain text to stdout
func Line(format string, args ...any) {
	fmt.Fprintf(Stdout, format+"\n", args...)
}

// Muted renders secondary text
func Muted(s string) string {
	return mutedStyle.Render(s)
}

// JSON writes v as indented JSON to stdout
func JSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// JSONError writes an error object to stdout for --json callers
func JSONError(kind string, err error) error {
	return JSON(map[string]string{"error": err.Error(), "kind": kind})
}

// FormatStatus renders an issue status in brackets
func FormatStatus(s models.Status) string {
	text := "[" + string(s) + "]"
	if st, ok := statusStyles[s]; ok {
		return st.Render(text)
	}
	return text
}

// FormatPriority renders a 0..4 priority as P0..P4
func FormatPriority(p int) string {
	return fmt.Sprintf("P%d", p)
}

// FormatID renders a short id, falling back to the full id
func FormatID(shortID, id string) string {
	if shortID == "" {
		return idStyle.Render(id)
	}
	return idStyle.Render(shortID)
}

// FormatIssueShort renders an issue on one line
func FormatIssueShort(is *models.Issue) string {
	line := fmt.Sprintf("%s %s %s %s %s",
		FormatID(is.ShortID, is.ID), FormatPriority(is.Priority), is.Title, mutedStyle.Render(string(is.Type)), FormatStatus(is.Status))
	if len(is.Labels) > 0 {
		line += " " + mutedStyle.Render("#"+strings.Join(is.Labels, " #"))
	}
	return line
}

// FormatIssueLong renders an issue with its details
func FormatIssueLong(is *models.Issue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s %s\n", FormatID(is.ShortID, is.ID), is.Title, FormatStatus(is.Status))
	fmt.Fprintf(&sb, "Type: %s  Priority: %s\n", is.Type, FormatPriority(is.Priority))
	if is.Assignee != "" {
		fmt.Fprintf(&sb, "Assignee: %s\n", is.Assignee)
	}
	if len(is.Labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n", strings.Join(is.Labels, ", "))
	}
	if is.PlanID != "" {
		fmt.Fprintf(&sb, "Plan: %s\n", is.PlanID)
	}
	fmt.Fprintf(&sb, "Created: %s  Updated: %s\n", FormatTimeAgo(is.CreatedAt), FormatTimeAgo(is.UpdatedAt))
	if is.ClosedAt != nil {
		fmt.Fprintf(&sb, "Closed: %s\n", FormatTimeAgo(*is.ClosedAt))
	}
	if is.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", is.Description)
	}
	if is.Details != "" {
		fmt.Fprintf(&sb, "\n%s\n", is.Details)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatTimeAgo renders t relative to now
func FormatTimeAgo(t time.Time) string {
	return formatTimeAgo(t, time.Now())
}

func formatTimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
	return t.Format("2006-01-02")
}

// Truncate shortens s to at most n runes, marking the cut with "..."
func Truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
