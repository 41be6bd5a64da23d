package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_StripsTimestampsIdsCounts(t *testing.T) {
	a := Normalize("task abc12345-1234-1234-1234-123456789012 stale for 45 minutes since 2026-07-31T10:00:00Z")
	b := Normalize("task fedcba98-1234-1234-1234-210987654321 stale for 60 minutes since 2026-07-31T11:30:00Z")
	assert.Equal(t, a, b)
}

func TestAlertKey_StableForEquivalentContent(t *testing.T) {
	a := AlertKey("idle_nudge", "general", "agent kai idle for 20 minutes")
	b := AlertKey("idle_nudge", "general", "agent kai idle for 45 minutes")
	assert.Equal(t, a, b, "counts are normalized out so repeated nudges collide")
}

func TestAlertKey_DivergesByKind(t *testing.T) {
	a := AlertKey("idle_nudge", "general", "same content")
	b := AlertKey("cadence", "general", "same content")
	assert.NotEqual(t, a, b)
}
