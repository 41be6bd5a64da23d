// Package routing implements assignment scoring, the routing-approval
// queue, and time-bounded routing overrides (spec §4.5).
package routing

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/opsgovernor/governor/internal/model"
)

// Candidate is one agent eligible for assignment/review scoring.
type Candidate struct {
	Agent         string
	AffinityTags  []string
	CurrentWIP    int
	ValidatingLoad int
	ProtectedDomains []string // domains this agent must not be routed into
}

// CandidateTask is the minimal task shape scoring needs.
type CandidateTask struct {
	Title        string
	Tags         []string
	DoneCriteria []string
	Domain       string // derived tag/metadata, used against ProtectedDomains
}

// Score is one candidate's computed suitability.
type Score struct {
	Agent   string
	Value   float64
	Reasons []string
}

// Suggestion is the scoring engine's output: the top pick plus the full
// ranked field for transparency.
type Suggestion struct {
	Suggested string
	Ranked    []Score
}

// ScoreAssignees ranks candidates for assignment: role-affinity match,
// current WIP (lower is better), and protected-domain exclusion (spec
// §4.5 "Assignment scoring").
func ScoreAssignees(task CandidateTask, candidates []Candidate) Suggestion {
	return scoreFor(task, candidates, false)
}

// ScoreReviewers ranks candidates for review, additionally excluding the
// assignee and weighting validating load instead of WIP (spec §4.5
// "Reviewer suggestions additionally exclude the assignee").
func ScoreReviewers(task CandidateTask, candidates []Candidate, assignee string) Suggestion {
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if strings.EqualFold(c.Agent, assignee) {
			continue
		}
		filtered = append(filtered, c)
	}
	return scoreFor(task, filtered, true)
}

func scoreFor(task CandidateTask, candidates []Candidate, reviewerMode bool) Suggestion {
	taskTags := normalizeSet(task.Tags)

	scores := make([]Score, 0, len(candidates))
	for _, c := range candidates {
		if protected(task.Domain, c.ProtectedDomains) {
			continue
		}
		var reasons []string
		value := 0.0

		affinity := overlapCount(taskTags, normalizeSet(c.AffinityTags))
		if affinity > 0 {
			value += float64(affinity) * 10
			reasons = append(reasons, "role affinity match")
		}

		load := c.CurrentWIP
		if reviewerMode {
			load = c.ValidatingLoad
		}
		value -= float64(load) * 3
		if load == 0 {
			reasons = append(reasons, "no current load")
		}

		scores = append(scores, Score{Agent: c.Agent, Value: value, Reasons: reasons})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value > scores[j].Value
		}
		// Ties broken by lowest load, which is the load component already
		// folded into Value equally for equal-affinity candidates, so a
		// stable secondary key is the agent name for determinism.
		return scores[i].Agent < scores[j].Agent
	})

	suggestion := Suggestion{Ranked: scores}
	if len(scores) > 0 {
		suggestion.Suggested = scores[0].Agent
	}
	return suggestion
}

func protected(domain string, protectedDomains []string) bool {
	if domain == "" {
		return false
	}
	for _, d := range protectedDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

func normalizeSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return out
}

func overlapCount(a, b map[string]bool) int {
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return n
}

// EvalCondition evaluates a RoutingOverride's optional goja expression
// against a candidate task, scoping an override without a recompile
// (SPEC_FULL §7, supplementing spec §4.5's plain target+class override).
// An empty condition always matches (unconditional override).
func EvalCondition(expr string, task CandidateTask, priority model.Priority, taskType model.TaskType) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	vm := goja.New()
	_ = vm.Set("tags", task.Tags)
	_ = vm.Set("priority", string(priority))
	_ = vm.Set("type", string(taskType))
	_ = vm.Set("title", task.Title)
	v, err := vm.RunString(expr)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

// ActiveOverrideFor returns the first non-expired override whose
// condition matches, if any (spec §4.5 "Routing overrides").
func ActiveOverrideFor(ctx context.Context, overrides []*model.RoutingOverride, now time.Time, task CandidateTask, priority model.Priority, taskType model.TaskType) *model.RoutingOverride {
	for _, o := range overrides {
		if !o.ExpiresAt.After(now) {
			continue
		}
		ok, err := EvalCondition(o.Condition, task, priority, taskType)
		if err != nil || !ok {
			continue
		}
		return o
	}
	return nil
}
