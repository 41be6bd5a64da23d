package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ClusterKey Tests
// =============================================================================

func TestClusterKey_StableAcrossTagOrder(t *testing.T) {
	a := ClusterKey([]string{"ci", "flaky"}, "the build timed out during deploy")
	b := ClusterKey([]string{"flaky", "ci"}, "the build timed out during deploy")
	assert.Equal(t, a, b)
}

func TestClusterKey_StableAcrossPhrasing(t *testing.T) {
	a := ClusterKey([]string{"ci"}, "the build timed out during deploy")
	b := ClusterKey([]string{"ci"}, "build timed out during deploy")
	assert.Equal(t, a, b)
}

func TestClusterKey_DistinctContentDiverges(t *testing.T) {
	a := ClusterKey([]string{"ci"}, "build timed out during deploy")
	b := ClusterKey([]string{"ci"}, "database connection pool exhausted")
	assert.NotEqual(t, a, b)
}

func TestClusterKey_CaseInsensitive(t *testing.T) {
	a := ClusterKey([]string{"CI", "Flaky"}, "Build TIMED out")
	b := ClusterKey([]string{"ci", "flaky"}, "build timed out")
	assert.Equal(t, a, b)
}

func TestClusterKey_Length(t *testing.T) {
	key := ClusterKey([]string{"a"}, "b")
	assert.Len(t, key, 16)
}

// =============================================================================
// normalizeTags / normalizeContent Tests
// =============================================================================

func TestNormalizeTags_DedupsAndSorts(t *testing.T) {
	got := normalizeTags([]string{"b", "a", "b", " A "})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestNormalizeContent_StripsStopwords(t *testing.T) {
	got := normalizeContent("the build is broken and the deploy failed")
	for _, w := range got {
		assert.NotContains(t, []string{"the", "is", "and"}, w)
	}
	assert.Contains(t, got, "build")
	assert.Contains(t, got, "broken")
}
