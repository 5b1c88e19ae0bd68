package models

import "testing"

func TestMatchKey(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"plan", "plan", true},
		{"plan", "plans", false},
		{"*", "", true},
		{"*", "anything", true},
		{"auth-*", "auth-login", true},
		{"auth-*", "auth-", true},
		{"auth-*", "oauth-login", false},
		{"*-todo", "db-todo", true},
		{"*-todo", "db-todos", false},
		{"a*b*c", "abc", true},
		{"a*b*c", "a-x-b-y-c", true},
		{"a*b*c", "acb", false},
		{"ab*b", "ab", false},
		{"file?.go", "file1.go", false},
		{"file?.go", "file?.go", true},
		{"path/*", "path/to/key", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			if got := MatchKey(tt.pattern, tt.key); got != tt.want {
				t.Errorf("MatchKey(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestItemFilterMatches(t *testing.T) {
	tests := []struct {
		name     string
		filter   *ItemFilter
		key      string
		category Category
		tags     TagSet
		want     bool
	}{
		{"nil filter", nil, "k", CategoryNote, nil, true},
		{"empty filter", &ItemFilter{}, "k", CategoryNote, nil, true},
		{"include tag hit", &ItemFilter{IncludeTags: []string{"a", "b"}}, "k", CategoryNote, TagSet{"b"}, true},
		{"include tag miss", &ItemFilter{IncludeTags: []string{"a"}}, "k", CategoryNote, TagSet{"c"}, false},
		{"include tag untagged", &ItemFilter{IncludeTags: []string{"a"}}, "k", CategoryNote, nil, false},
		{"key glob", &ItemFilter{IncludeKeys: []string{"x", "auth-*"}}, "auth-flow", CategoryNote, nil, true},
		{"key glob miss", &ItemFilter{IncludeKeys: []string{"auth-*"}}, "db", CategoryNote, nil, false},
		{"category hit", &ItemFilter{IncludeCategories: []Category{CategoryDecision}}, "k", CategoryDecision, nil, true},
		{"category miss", &ItemFilter{IncludeCategories: []Category{CategoryDecision}}, "k", CategoryNote, nil, false},
		{"exclude tag", &ItemFilter{ExcludeTags: []string{"wip"}}, "k", CategoryNote, TagSet{"x", "wip"}, false},
		{"exclude tag absent", &ItemFilter{ExcludeTags: []string{"wip"}}, "k", CategoryNote, TagSet{"x"}, true},
		{
			"all clauses",
			&ItemFilter{
				IncludeTags:       []string{"api"},
				IncludeKeys:       []string{"auth-*"},
				IncludeCategories: []Category{CategoryDecision},
				ExcludeTags:       []string{"stale"},
			},
			"auth-tokens", CategoryDecision, TagSet{"api"}, true,
		},
		{
			"include and exclude same item",
			&ItemFilter{IncludeTags: []string{"api"}, ExcludeTags: []string{"stale"}},
			"k", CategoryNote, TagSet{"api", "stale"}, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.key, tt.category, tt.tags); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTagSet(t *testing.T) {
	s := NewTagSet("a", " b ", "a", "", "c")
	if len(s) != 3 || s[0] != "a" || s[1] != "b" || s[2] != "c" {
		t.Fatalf("NewTagSet = %v, want [a b c]", s)
	}

	s = s.Add("b", "d")
	if len(s) != 4 || !s.Has("d") {
		t.Errorf("Add = %v, want 4 tags including d", s)
	}

	s = s.Remove("a", "zzz")
	if s.Has("a") || len(s) != 3 {
		t.Errorf("Remove = %v, want a removed", s)
	}

	if !NewTagSet("x", "y").Equal(TagSet{"y", "x", "x"}) {
		t.Error("Equal should ignore order and duplicates")
	}
}

func TestTagSetScanValue(t *testing.T) {
	v, err := TagSet{"b", "a", "b"}.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != `["b","a"]` {
		t.Errorf("Value = %v, want [\"b\",\"a\"]", v)
	}

	var s TagSet
	if err := s.Scan(`["x","x","y"]`); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(s) != 2 {
		t.Errorf("Scan = %v, want 2 tags", s)
	}

	for _, src := range []any{nil, "", []byte("[]")} {
		var empty TagSet
		if err := empty.Scan(src); err != nil {
			t.Fatalf("Scan(%v) failed: %v", src, err)
		}
		if len(empty) != 0 {
			t.Errorf("Scan(%v) = %v, want empty", src, empty)
		}
	}

	if err := s.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}
