package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// TagSet is an ordered set of tags. Order is preserved for display but has
// no meaning for equality; duplicates and blank entries are dropped.
//
// In the database a TagSet is stored as a JSON array of strings. NULL and
// the empty string both decode to an empty set.
type TagSet []string

// NewTagSet builds a normalized set from tags
func NewTagSet(tags ...string) TagSet {
	var s TagSet
	return s.Add(tags...)
}

// Has reports whether tag is a member
func (s TagSet) Has(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAny reports whether any of tags is a member
func (s TagSet) HasAny(tags []string) bool {
	for _, t := range tags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Add returns a new set with tags appended, skipping ones already present
func (s TagSet) Add(tags ...string) TagSet {
	out := make(TagSet, 0, len(s)+len(tags))
	for _, t := range s {
		if !out.Has(t) {
			out = append(out, t)
		}
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || out.Has(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Remove returns a new set without tags
func (s TagSet) Remove(tags ...string) TagSet {
	drop := NewTagSet(tags...)
	out := make(TagSet, 0, len(s))
	for _, t := range s {
		if !drop.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Equal reports whether both sets have the same members
func (s TagSet) Equal(other TagSet) bool {
	a, b := NewTagSet(s...), NewTagSet(other...)
	if len(a) != len(b) {
		return false
	}
	for _, t := range a {
		if !b.Has(t) {
			return false
		}
	}
	return true
}

// Value implements driver.Valuer
func (s TagSet) Value() (driver.Value, error) {
	norm := NewTagSet(s...)
	if len(norm) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(norm))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (s *TagSet) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = TagSet{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan tags: unsupported type %T", src)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = TagSet{}
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return fmt.Errorf("scan tags: %w", err)
	}
	*s = NewTagSet(tags...)
	return nil
}
