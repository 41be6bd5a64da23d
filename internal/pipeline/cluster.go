package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// stopwords strips common connective words from reflection content before
// hashing, so two reports of the same underlying problem phrased
// differently still collide on cluster_key (SPEC_FULL §4, resolving the
// open question on cluster_key normalization).
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "was": true, "were": true, "be": true, "been": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "for": true, "with": true,
	"it": true, "this": true, "that": true, "we": true, "i": true, "as": true,
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeContent(content string) []string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ClusterKey deterministically hashes a reflection's normalized tags and
// structural content into a 16-hex-character key (sha256 truncated),
// satisfying the "Cluster stability" testable property (spec §8): two
// reflections with equal normalized tag set and content map to the same key.
func ClusterKey(tags []string, content string) string {
	tagPart := strings.Join(normalizeTags(tags), ",")
	contentPart := strings.Join(normalizeContent(content), ",")
	sum := sha256.Sum256([]byte(tagPart + "|" + contentPart))
	return hex.EncodeToString(sum[:])[:16]
}
