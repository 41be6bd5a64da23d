// Package prreview implements the read-only PR-integrity collaborator
// used by the close-gate and QA-bundle gates (spec §4.1 gate 5, §6
// "PR integrity"), adapted from the teacher's HTTP collaborator clients
// (infrastructure/serviceauth, services/automation) wrapped in the same
// circuit breaker + retry policy used for every outbound dependency.
package prreview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/tidwall/gjson"

	"github.com/opsgovernor/governor/internal/resilience"
)

// MergeState enumerates what the collaborator could determine about a PR.
// Unknown is a first-class value: network failures and unsupported
// providers must not be conflated with "open" (spec §6: "it may return
// unknown and the engine must tolerate that").
type MergeState string

const (
	StateUnknown MergeState = "unknown"
	StateOpen    MergeState = "open"
	StateMerged  MergeState = "merged"
	StateClosed  MergeState = "closed" // closed without merge
)

// Info is everything the gate chain needs from a PR.
type Info struct {
	HeadSHA      string
	MergeState   MergeState
	ChangedFiles []string
	ChecksPassed bool
}

// Client is the collaborator contract; the gate chain depends on this
// interface, never on a concrete transport, so tests can substitute a fake.
type Client interface {
	Fetch(ctx context.Context, prURL string) (*Info, error)
}

var prURLPattern = regexp.MustCompile(`^https://github\.com/[\w.-]+/[\w.-]+/pull/\d+$`)

// ValidPRURL reports whether a URL matches the documented GitHub PR shape
// (spec §4.1 gate 5: "pr_url (GitHub PR pattern)").
func ValidPRURL(url string) bool {
	return prURLPattern.MatchString(url)
}

// HTTPClient fetches PR state over HTTP, guarded by a circuit breaker and
// bounded retries so a flaky collaborator degrades to StateUnknown instead
// of blocking the gate chain indefinitely.
type HTTPClient struct {
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	baseURL    string
	token      string
}

// NewHTTPClient builds a collaborator client pointed at a PR-metadata
// service (typically a thin proxy in front of the provider API).
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		breaker: resilience.New(resilience.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 2,
		}),
		baseURL: baseURL,
		token:   token,
	}
}

// Fetch retrieves PR metadata, tolerating transport failure by returning
// StateUnknown rather than an error — callers decide whether to block.
// The provider response is parsed field-by-field with gjson rather than
// unmarshaled into a struct: the proxy's payload carries several provider-
// specific fields the gate chain never needs, and gjson's path lookups
// skip allocating a full decode target for them.
func (c *HTTPClient) Fetch(ctx context.Context, prURL string) (*Info, error) {
	if !ValidPRURL(prURL) {
		return &Info{MergeState: StateUnknown}, nil
	}

	var body []byte
	err := c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pr-info?url="+prURL, nil)
			if err != nil {
				return err
			}
			if c.token != "" {
				req.Header.Set("Authorization", "Bearer "+c.token)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 500 {
				return fmt.Errorf("pr-review: upstream status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return nil // non-retryable: treat as unknown below
			}
			body, err = io.ReadAll(resp.Body)
			return err
		})
	})
	if err != nil || !gjson.ValidBytes(body) {
		return &Info{MergeState: StateUnknown}, nil
	}

	parsed := gjson.ParseBytes(body)
	headSHA := parsed.Get("head_sha").String()
	if headSHA == "" {
		return &Info{MergeState: StateUnknown}, nil
	}

	state := StateOpen
	switch {
	case parsed.Get("merged").Bool():
		state = StateMerged
	case parsed.Get("state").String() == "closed":
		state = StateClosed
	}

	var changedFiles []string
	for _, f := range parsed.Get("changed_files").Array() {
		changedFiles = append(changedFiles, f.String())
	}

	return &Info{
		HeadSHA:      headSHA,
		MergeState:   state,
		ChangedFiles: changedFiles,
		ChecksPassed: parsed.Get("checks_passed").Bool(),
	}, nil
}
