// Package models defines the entities stored by the SaveContext engine and
// the enumerations that constrain them.
package models

import "time"

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// Category classifies a context item
type Category string

const (
	CategoryReminder Category = "reminder"
	CategoryDecision Category = "decision"
	CategoryProgress Category = "progress"
	CategoryNote     Category = "note"
)

// ItemPriority ranks a context item
type ItemPriority string

const (
	ItemPriorityHigh   ItemPriority = "high"
	ItemPriorityNormal ItemPriority = "normal"
	ItemPriorityLow    ItemPriority = "low"
)

// DefaultChannel is used when a context item is saved without a channel
const DefaultChannel = "general"

// Status is the workflow state of an issue
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
	StatusDeferred   Status = "deferred"
)

// Type is the kind of an issue
type Type string

const (
	TypeTask    Type = "task"
	TypeBug     Type = "bug"
	TypeFeature Type = "feature"
	TypeEpic    Type = "epic"
	TypeChore   Type = "chore"
)

// Issue priorities run from 0 (lowest) to 4 (critical)
const (
	PriorityLowest   = 0
	PriorityLow      = 1
	PriorityMedium   = 2
	PriorityHigh     = 3
	PriorityCritical = 4
)

// DependencyType is the relation carried by a dependency edge
type DependencyType string

const (
	DepBlocks         DependencyType = "blocks"
	DepRelated        DependencyType = "related"
	DepParentChild    DependencyType = "parent-child"
	DepDuplicateOf    DependencyType = "duplicate-of"
	DepDiscoveredFrom DependencyType = "discovered-from"
)

// PlanStatus is the lifecycle state of a plan
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanArchived  PlanStatus = "archived"
)

// MemoryCategory classifies a project memory entry
type MemoryCategory string

const (
	MemoryCommand MemoryCategory = "command"
	MemoryConfig  MemoryCategory = "config"
	MemoryNote    MemoryCategory = "note"
)

// Project is identified by its normalized filesystem path
type Project struct {
	ID              string    `json:"id"`
	Path            string    `json:"project_path"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	IssuePrefix     string    `json:"issue_prefix"`
	NextIssueNumber int       `json:"next_issue_number"`
	PlanPrefix      string    `json:"plan_prefix"`
	NextPlanNumber  int       `json:"next_plan_number"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Session is a bounded unit of assistant work
type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Status       SessionStatus `json:"status"`
	Channel      string        `json:"channel,omitempty"`
	ProjectPaths []string      `json:"project_paths"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}

// AgentSession records which session an agent is currently working in
type AgentSession struct {
	AgentID      string    `json:"agent_id"`
	SessionID    string    `json:"session_id"`
	ProjectPath  string    `json:"project_path"`
	Provider     string    `json:"provider,omitempty"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// ContextItem is a keyed note belonging to a session
type ContextItem struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Key       string       `json:"key"`
	Value     string       `json:"value"`
	Category  Category     `json:"category"`
	Priority  ItemPriority `json:"priority"`
	Channel   string       `json:"channel"`
	Tags      TagSet       `json:"tags"`
	Size      int          `json:"size"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ItemSize is the cached size of a context item: key length plus value
// length in bytes, not characters.
func ItemSize(key, value string) int {
	return len(key) + len(value)
}

// Checkpoint is a named snapshot of a subset of a session's items
type Checkpoint struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	GitBranch   string    `json:"git_branch,omitempty"`
	GitStatus   string    `json:"git_status,omitempty"`
	ItemCount   int       `json:"item_count"`
	TotalSize   int       `json:"total_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckpointItem is the snapshot copy of a context item held by a checkpoint.
// SourceItemID is empty once the live item has been deleted.
type CheckpointItem struct {
	CheckpointID string       `json:"checkpoint_id"`
	SourceItemID string       `json:"source_item_id,omitempty"`
	Key          string       `json:"key"`
	Value        string       `json:"value"`
	Category     Category     `json:"category"`
	Priority     ItemPriority `json:"priority"`
	Channel      string       `json:"channel"`
	Tags         TagSet       `json:"tags"`
	Size         int          `json:"size"`
}

// Issue is a trackable unit of work in a project
type Issue struct {
	ID          string     `json:"id"`
	ShortID     string     `json:"short_id"`
	ProjectPath string     `json:"project_path"`
	PlanID      string     `json:"plan_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Details     string     `json:"details,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Type        Type       `json:"issue_type"`
	CreatedBy   string     `json:"created_by,omitempty"`
	ClosedBy    string     `json:"closed_by,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	DeferredAt  *time.Time `json:"deferred_at,omitempty"`
}

// Dependency is a typed edge: IssueID depends on DependsOnID
type Dependency struct {
	IssueID     string         `json:"issue_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"dependency_type"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Plan groups issues under a piece of free-text planning content
type Plan struct {
	ID              string     `json:"id"`
	ShortID         string     `json:"short_id"`
	ProjectPath     string     `json:"project_path"`
	Title           string     `json:"title"`
	Content         string     `json:"content,omitempty"`
	Status          PlanStatus `json:"status"`
	SuccessCriteria string     `json:"success_criteria,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Memory is a project-scoped fact that outlives sessions
type Memory struct {
	ID          string         `json:"id"`
	ProjectPath string         `json:"project_path"`
	Key         string         `json:"key"`
	Value       string         `json:"value"`
	Category    MemoryCategory `json:"category"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Event is one entry in the audit log
type Event struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	EventType  string    `json:"event_type"`
	Actor      string    `json:"actor"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsValidSessionStatus reports whether s is a known session status
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionActive, SessionPaused, SessionCompleted:
		return true
	}
	return false
}

// IsValidCategory reports whether c is a known context item category
func IsValidCategory(c Category) bool {
	switch c {
	case CategoryReminder, CategoryDecision, CategoryProgress, CategoryNote:
		return true
	}
	return false
}

// IsValidItemPriority reports whether p is a known context item priority
func IsValidItemPriority(p ItemPriority) bool {
	switch p {
	case ItemPriorityHigh, ItemPriorityNormal, ItemPriorityLow:
		return true
	}
	return false
}

// IsValidStatus reports whether s is a known issue status
func IsValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed, StatusDeferred:
		return true
	}
	return false
}

// IsValidType reports whether t is a known issue type
func IsValidType(t Type) bool {
	switch t {
	case TypeTask, TypeBug, TypeFeature, TypeEpic, TypeChore:
		return true
	}
	return false
}

// IsValidPriority reports whether p is within the issue priority range
func IsValidPriority(p int) bool {
	return p >= PriorityLowest && p <= PriorityCritical
}

// IsValidDependencyType reports whether d is a known dependency type
func IsValidDependencyType(d DependencyType) bool {
	switch d {
	case DepBlocks, DepRelated, DepParentChild, DepDuplicateOf, DepDiscoveredFrom:
		return true
	}
	return false
}

// IsValidPlanStatus reports whether s is a known plan status
func IsValidPlanStatus(s PlanStatus) bool {
	switch s {
	case PlanDraft, PlanActive, PlanCompleted, PlanArchived:
		return true
	}
	return false
}

// IsValidMemoryCategory reports whether c is a known memory category
func IsValidMemoryCategory(c MemoryCategory) bool {
	switch c {
	case MemoryCommand, MemoryConfig, MemoryNote:
		return true
	}
	return false
}
