package model

import "time"

// Severity enumerates reflection/insight severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// Rank returns an ordinal for severity comparison (higher is worse).
func (s Severity) Rank() int { return severityRank[s] }

// Max returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Reflection is an immutable post-mortem record authored by an agent
// (spec §3 Reflection).
type Reflection struct {
	ID             string    `db:"id" json:"id"`
	Pain           string    `db:"pain" json:"pain"`
	Impact         string    `db:"impact" json:"impact"`
	Evidence       []string  `db:"-" json:"evidence"`
	WentWell       string    `db:"went_well" json:"went_well"`
	SuspectedWhy   string    `db:"suspected_why" json:"suspected_why"`
	ProposedFix    string    `db:"proposed_fix" json:"proposed_fix"`
	Confidence     float64   `db:"confidence" json:"confidence"`
	RoleType       string    `db:"role_type" json:"role_type"`
	Severity       Severity  `db:"severity" json:"severity"`
	Author         string    `db:"author" json:"author"`
	Tags           []string  `db:"-" json:"tags"`
	TaskID         string    `db:"task_id" json:"task_id,omitempty"`
	TeamID         string    `db:"team_id" json:"team_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// InsightStatus enumerates an insight's clustering/promotion lifecycle.
type InsightStatus string

const (
	InsightOpen          InsightStatus = "open"
	InsightPendingTriage InsightStatus = "pending_triage"
	InsightTaskCreated   InsightStatus = "task_created"
	InsightClosed        InsightStatus = "closed"
)

// Insight is a cluster of related reflections (spec §3 Insight).
type Insight struct {
	ID               string        `db:"id" json:"id"`
	Title            string        `db:"title" json:"title"`
	ClusterKey       string        `db:"cluster_key" json:"cluster_key"`
	Status           InsightStatus `db:"status" json:"status"`
	Score            float64       `db:"score" json:"score"`
	SeverityMax      Severity      `db:"severity_max" json:"severity_max"`
	Priority         Priority      `db:"priority" json:"priority"`
	ReflectionIDs    []string      `db:"-" json:"reflection_ids"`
	Authors          []string      `db:"-" json:"authors"`
	IndependentCount int           `db:"independent_count" json:"independent_count"`
	EvidenceRefs     []string      `db:"-" json:"evidence_refs"`
	TaskID           string        `db:"task_id" json:"task_id,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// TriageDecision records a human approve/dismiss decision over a
// pending_triage insight.
type TriageDecision struct {
	ID        string    `db:"id" json:"id"`
	InsightID string    `db:"insight_id" json:"insight_id"`
	Actor     string    `db:"actor" json:"actor"`
	Decision  string    `db:"decision" json:"decision"` // approve | dismiss
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
