package models

import "strings"

// ItemFilter selects context items for checkpoint create, restore and split.
// An item matches when every clause that is set holds; an empty clause
// places no constraint.
type ItemFilter struct {
	IncludeTags       []string   `json:"include_tags,omitempty"`
	IncludeKeys       []string   `json:"include_keys,omitempty"`
	IncludeCategories []Category `json:"include_categories,omitempty"`
	ExcludeTags       []string   `json:"exclude_tags,omitempty"`
}

// IsEmpty reports whether the filter has no clauses
func (f *ItemFilter) IsEmpty() bool {
	return f == nil || (len(f.IncludeTags) == 0 && len(f.IncludeKeys) == 0 &&
		len(f.IncludeCategories) == 0 && len(f.ExcludeTags) == 0)
}

// Matches evaluates the filter against one item's fields. A nil filter
// matches everything.
func (f *ItemFilter) Matches(key string, category Category, tags TagSet) bool {
	if f == nil {
		return true
	}
	if len(f.IncludeTags) > 0 && !tags.HasAny(f.IncludeTags) {
		return false
	}
	if len(f.IncludeKeys) > 0 {
		matched := false
		for _, p := range f.IncludeKeys {
			if MatchKey(p, key) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.IncludeCategories) > 0 {
		matched := false
		for _, c := range f.IncludeCategories {
			if c == category {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.ExcludeTags) > 0 && tags.HasAny(f.ExcludeTags) {
		return false
	}
	return true
}

// MatchItem is Matches applied to a live context item
func (f *ItemFilter) MatchItem(item *ContextItem) bool {
	return f.Matches(item.Key, item.Category, item.Tags)
}

// MatchKey reports whether key matches pattern, where '*' matches any run of
// characters (including none) and every other character is literal.
func MatchKey(pattern, key string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}
	return strings.HasSuffix(key, last)
}
