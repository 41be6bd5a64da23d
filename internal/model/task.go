// Package model defines the persisted entities of the governance core
// (spec §3).
package model

import "time"

// TaskType enumerates the kinds of work a task can represent.
type TaskType string

const (
	TaskBug     TaskType = "bug"
	TaskFeature TaskType = "feature"
	TaskProcess TaskType = "process"
	TaskDocs    TaskType = "docs"
	TaskChore   TaskType = "chore"
)

// TaskStatus enumerates the lifecycle states a task moves through.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusDoing      TaskStatus = "doing"
	StatusBlocked    TaskStatus = "blocked"
	StatusValidating TaskStatus = "validating"
	StatusDone       TaskStatus = "done"
)

// Priority enumerates task urgency.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

// Metadata is the free-form extension map carrying lifecycle evidence
// (qa_bundle, review_handoff, artifacts, reopen*, etc — spec §3, §9).
type Metadata map[string]any

func (m Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func (m Metadata) GetString(key string) string {
	if v, ok := m.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (m Metadata) GetBool(key string) bool {
	if v, ok := m.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Clone returns a shallow copy safe for overlaying a patch onto.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge overlays patch onto a clone of m and returns the result; patch
// values win, nil patch values delete the key.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Task is the central governed entity (spec §3 Task).
type Task struct {
	ID             string     `db:"id" json:"id"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description"`
	Type           TaskType   `db:"type" json:"type"`
	Status         TaskStatus `db:"status" json:"status"`
	Priority       Priority   `db:"priority" json:"priority"`
	Assignee       string     `db:"assignee" json:"assignee"`
	Reviewer       string     `db:"reviewer" json:"reviewer"`
	DoneCriteria   []string   `db:"-" json:"done_criteria"`
	CreatedBy      string     `db:"created_by" json:"createdBy"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
	BlockedBy      []string   `db:"-" json:"blocked_by"`
	Tags           []string   `db:"-" json:"tags"`
	TeamID         string     `db:"team_id" json:"teamId"`
	Metadata       Metadata   `db:"-" json:"metadata"`
}

// Patch is a partial mutation request accepted by the task engine. Nil
// fields are left untouched; only Metadata uses delete-on-nil semantics.
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Type         *TaskType  `json:"type,omitempty"`
	Status       *TaskStatus `json:"status,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	Assignee     *string    `json:"assignee,omitempty"`
	Reviewer     *string    `json:"reviewer,omitempty"`
	DoneCriteria []string   `json:"done_criteria,omitempty"`
	BlockedBy    []string   `json:"blocked_by,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Metadata     Metadata   `json:"metadata,omitempty"`
	Actor        string     `json:"actor,omitempty"`
}

// TaskComment is an append-only comment attached to a task.
type TaskComment struct {
	ID        string    `db:"id" json:"id"`
	TaskID    string    `db:"task_id" json:"taskId"`
	Author    string    `db:"author" json:"author"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TaskHistoryEntry records one applied transition for the task's audit trail.
type TaskHistoryEntry struct {
	ID        string     `db:"id" json:"id"`
	TaskID    string     `db:"task_id" json:"taskId"`
	FromState TaskStatus `db:"from_state" json:"fromState"`
	ToState   TaskStatus `db:"to_state" json:"toState"`
	Actor     string     `db:"actor" json:"actor"`
	Reason    string     `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}
