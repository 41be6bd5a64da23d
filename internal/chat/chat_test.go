package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ExtractMentions Tests
// =============================================================================

func TestExtractMentions_FindsMultiple(t *testing.T) {
	got := ExtractMentions("hey @kai and @noor, can you take a look?")
	assert.Equal(t, []string{"kai", "noor"}, got)
}

func TestExtractMentions_Dedupes(t *testing.T) {
	got := ExtractMentions("@kai please review, cc @kai again")
	assert.Equal(t, []string{"kai"}, got)
}

func TestExtractMentions_NoneReturnsNil(t *testing.T) {
	got := ExtractMentions("no mentions here")
	assert.Nil(t, got)
}

func TestExtractMentions_MatchesDomainOfEmailAddress(t *testing.T) {
	got := ExtractMentions("contact kai@example.com about this")
	assert.Equal(t, []string{"example"}, got)
}
