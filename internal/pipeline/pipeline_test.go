package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opsgovernor/governor/internal/model"
)

// =============================================================================
// validateReflection Tests
// =============================================================================

func TestValidateReflection_RequiresEvidence(t *testing.T) {
	rf := &model.Reflection{Author: "agent-1", Severity: model.SeverityLow, Confidence: 5}
	err := validateReflection(rf)
	assert.Error(t, err)
}

func TestValidateReflection_RejectsOutOfRangeConfidence(t *testing.T) {
	rf := &model.Reflection{Author: "agent-1", Severity: model.SeverityLow, Confidence: 11, Evidence: []string{"log.txt"}}
	err := validateReflection(rf)
	assert.Error(t, err)
}

func TestValidateReflection_RejectsUnknownSeverity(t *testing.T) {
	rf := &model.Reflection{Author: "agent-1", Severity: "catastrophic", Confidence: 5, Evidence: []string{"log.txt"}}
	err := validateReflection(rf)
	assert.Error(t, err)
}

func TestValidateReflection_Accepts(t *testing.T) {
	rf := &model.Reflection{Author: "agent-1", Severity: model.SeverityHigh, Confidence: 7, Evidence: []string{"log.txt"}}
	assert.NoError(t, validateReflection(rf))
}

// =============================================================================
// mergeReflectionIntoInsight Tests
// =============================================================================

func TestMergeReflectionIntoInsight_DedupsAuthors(t *testing.T) {
	in := &model.Insight{SeverityMax: model.SeverityLow}
	now := time.Now()
	mergeReflectionIntoInsight(in, &model.Reflection{ID: "r1", Author: "agent-1", Severity: model.SeverityMedium, Confidence: 5}, now)
	mergeReflectionIntoInsight(in, &model.Reflection{ID: "r2", Author: "agent-1", Severity: model.SeverityMedium, Confidence: 5}, now)

	assert.Equal(t, []string{"agent-1"}, in.Authors)
	assert.Equal(t, 1, in.IndependentCount)
	assert.Len(t, in.ReflectionIDs, 2)
}

func TestMergeReflectionIntoInsight_EscalatesSeverity(t *testing.T) {
	in := &model.Insight{SeverityMax: model.SeverityLow}
	now := time.Now()
	mergeReflectionIntoInsight(in, &model.Reflection{ID: "r1", Author: "a", Severity: model.SeverityCritical, Confidence: 5}, now)
	assert.Equal(t, model.SeverityCritical, in.SeverityMax)
}

func TestMergeReflectionIntoInsight_IndependentCountGrows(t *testing.T) {
	in := &model.Insight{SeverityMax: model.SeverityLow}
	now := time.Now()
	mergeReflectionIntoInsight(in, &model.Reflection{ID: "r1", Author: "agent-1", Severity: model.SeverityLow, Confidence: 5}, now)
	mergeReflectionIntoInsight(in, &model.Reflection{ID: "r2", Author: "agent-2", Severity: model.SeverityLow, Confidence: 5}, now)
	assert.Equal(t, 2, in.IndependentCount)
}

// =============================================================================
// severityToPriority / severityWeight Tests
// =============================================================================

func TestSeverityToPriority(t *testing.T) {
	assert.Equal(t, model.P0, severityToPriority(model.SeverityCritical))
	assert.Equal(t, model.P1, severityToPriority(model.SeverityHigh))
	assert.Equal(t, model.P2, severityToPriority(model.SeverityMedium))
	assert.Equal(t, model.P3, severityToPriority(model.SeverityLow))
}

func TestSeverityWeight_Monotonic(t *testing.T) {
	assert.Greater(t, severityWeight(model.SeverityCritical), severityWeight(model.SeverityHigh))
	assert.Greater(t, severityWeight(model.SeverityHigh), severityWeight(model.SeverityMedium))
	assert.Greater(t, severityWeight(model.SeverityMedium), severityWeight(model.SeverityLow))
}

// =============================================================================
// ownershipGuardrail Tests
// =============================================================================

func TestOwnershipGuardrail_FallsBackToUnassigned(t *testing.T) {
	p := &Pipeline{}
	assignee, reviewer := p.ownershipGuardrail(&model.Insight{Authors: []string{"agent-1"}})
	assert.Equal(t, "unassigned", assignee)
	assert.Equal(t, "unassigned", reviewer)
}
