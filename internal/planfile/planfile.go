// Package planfile reads markdown plan documents for import. A plan file is
// markdown with optional YAML front matter:
//
//	---
//	title: Auth rewrite
//	status: active
//	success_criteria: all login paths use the new token store
//	issues:
//	  - title: Extract token store
//	    priority: 3
//	    labels: [auth]
//	---
//	# Auth rewrite
//	...
package planfile

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Issue is a work item declared in a plan's front matter
type Issue struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Type        string   `yaml:"type"`
	Priority    *int     `yaml:"priority"`
	Labels      []string `yaml:"labels"`
}

// FrontMatter holds the optional YAML header of a plan file
type FrontMatter struct {
	Title           string  `yaml:"title"`
	Status          string  `yaml:"status"`
	SuccessCriteria string  `yaml:"success_criteria"`
	Project         string  `yaml:"project"`
	Issues          []Issue `yaml:"issues"`
}

// Plan is a parsed plan file
type Plan struct {
	FrontMatter
	Content string // markdown body without front matter
}

// ParseFile reads and parses the plan file at path
func ParseFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse splits data into front matter and body. The title comes from the
// front matter, else from the first "# " heading of the body.
func Parse(data []byte) (*Plan, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	p := &Plan{}

	body := string(data)
	if header, rest, ok := splitFrontMatter(body); ok {
		if err := yaml.Unmarshal([]byte(header), &p.FrontMatter); err != nil {
			return nil, fmt.Errorf("parse front matter: %w", err)
		}
		body = rest
	}
	p.Content = strings.TrimSpace(body)

	if strings.TrimSpace(p.Title) == "" {
		p.Title = firstHeading(p.Content)
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return nil, fmt.Errorf("plan has no title: add a 'title' field or a '# ' heading")
	}
	for i, is := range p.Issues {
		if strings.TrimSpace(is.Title) == "" {
			return nil, fmt.Errorf("issue %d has no title", i+1)
		}
	}
	return p, nil
}

func splitFrontMatter(s string) (header, rest string, ok bool) {
	if !strings.HasPrefix(s, delimiter+"\n") {
		return "", s, false
	}
	s = "\n" + s[len(delimiter)+1:]
	end := strings.Index(s, "\n"+delimiter)
	if end < 0 {
		return "", "", false
	}
	header = s[:end]
	rest = s[end+len(delimiter)+1:]
	rest = strings.TrimPrefix(rest, "\n")
	return header, rest, true
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimPrefix(line, "# ")
		}
	}
	return ""
}
