package models

import (
	"testing"
)

// TestIsValidTypeValid tests all valid types
func TestIsValidTypeValid(t *testing.T) {
	validTypes := []Type{
		TypeBug,
		TypeFeature,
		TypeTask,
		TypeEpic,
		TypeChore,
	}

	for _, typ := range validTypes {
		if !IsValidType(typ) {
			t.Errorf("Expected %q to be valid type", typ)
		}
	}
}

// TestIsValidTypeInvalid tests invalid types
func TestIsValidTypeInvalid(t *testing.T) {
	invalidTypes := []Type{"invalid", "story", "spike", "subtask", ""}
	for _, typ := range invalidTypes {
		if IsValidType(typ) {
			t.Errorf("Expected %q to be invalid type", typ)
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusOpen, true},
		{StatusInProgress, true},
		{StatusBlocked, true},
		{StatusClosed, true},
		{StatusDeferred, true},
		{"in_review", false},
		{"all", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidStatus(tt.status); got != tt.want {
			t.Errorf("IsValidStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsValidPriorityRange(t *testing.T) {
	for p := PriorityLowest; p <= PriorityCritical; p++ {
		if !IsValidPriority(p) {
			t.Errorf("Expected priority %d to be valid", p)
		}
	}
	for _, p := range []int{-1, 5, 100} {
		if IsValidPriority(p) {
			t.Errorf("Expected priority %d to be invalid", p)
		}
	}
}

func TestIsValidDependencyType(t *testing.T) {
	valid := []DependencyType{DepBlocks, DepRelated, DepParentChild, DepDuplicateOf, DepDiscoveredFrom}
	for _, d := range valid {
		if !IsValidDependencyType(d) {
			t.Errorf("Expected %q to be valid dependency type", d)
		}
	}
	if IsValidDependencyType("depends_on") {
		t.Error("Expected depends_on to be invalid")
	}
	if DepParentChild != "parent-child" {
		t.Errorf("DepParentChild should be 'parent-child', got %q", DepParentChild)
	}
}

func TestItemEnums(t *testing.T) {
	for _, c := range []Category{CategoryReminder, CategoryDecision, CategoryProgress, CategoryNote} {
		if !IsValidCategory(c) {
			t.Errorf("Expected category %q to be valid", c)
		}
	}
	if IsValidCategory("task") {
		t.Error("Expected category 'task' to be invalid")
	}
	for _, p := range []ItemPriority{ItemPriorityHigh, ItemPriorityNormal, ItemPriorityLow} {
		if !IsValidItemPriority(p) {
			t.Errorf("Expected item priority %q to be valid", p)
		}
	}
	if IsValidItemPriority("urgent") {
		t.Error("Expected item priority 'urgent' to be invalid")
	}
	if !IsValidSessionStatus(SessionPaused) || IsValidSessionStatus("all") {
		t.Error("session status validation mismatch")
	}
	if !IsValidPlanStatus(PlanArchived) || IsValidPlanStatus("open") {
		t.Error("plan status validation mismatch")
	}
}

func TestItemSize(t *testing.T) {
	if got := ItemSize("plan", "v1"); got != 6 {
		t.Errorf("ItemSize = %d, want 6", got)
	}
	if got := ItemSize("", ""); got != 0 {
		t.Errorf("ItemSize of empty = %d, want 0", got)
	}
}
