// Package chat implements the append-only chat log, inbox subscriptions,
// and activity-derived presence backing spec §6's `/chat/ws` and
// `/events/subscribe` endpoints (SPEC_FULL §9).
package chat

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/store"
)

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_\-]+)`)

// Service wires the chat repo to the event bus so every posted message
// and lifecycle event fans out to WS/SSE subscribers.
type Service struct {
	repo *store.ChatRepo
	bus  *eventbus.Bus
}

func New(repo *store.ChatRepo, bus *eventbus.Bus) *Service {
	return &Service{repo: repo, bus: bus}
}

// ExtractMentions parses @agent tokens out of a message body.
func ExtractMentions(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Post appends a message, touches the author's presence, and publishes it
// on the bus for WS/SSE fan-out.
func (s *Service) Post(ctx context.Context, channel, author, body string) (*model.ChatMessage, error) {
	if body == "" {
		return nil, apperr.Validation("body must not be empty", "body")
	}
	now := time.Now()
	m := &model.ChatMessage{
		ID: uuid.NewString(), Channel: channel, Author: author, Body: body,
		Mentions: ExtractMentions(body), CreatedAt: now,
	}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return nil, apperr.Internal("failed to append chat message", err)
	}
	if author != "" {
		_ = s.repo.TouchPresence(ctx, &model.PresenceRow{Agent: author, LastActivityAt: now, LastKind: "message"})
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindChatMessage, Agent: author, Topics: []string{channel}, Payload: m})
	return m, nil
}

// Since returns a channel's backlog for WS/SSE catch-up.
func (s *Service) Since(ctx context.Context, channel string, since time.Time, limit int) ([]*model.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.Since(ctx, channel, since, limit)
}

// MarkRead records an agent's inbox read position.
func (s *Service) MarkRead(ctx context.Context, agent, channel string) error {
	return s.repo.UpsertSubscription(ctx, &model.InboxSubscription{Agent: agent, Channel: channel, LastReadAt: time.Now()})
}

// TouchActivity records non-chat activity (task comment, status change)
// for presence/idle-nudge computation (spec §4.3 "time since last
// activity (message, task comment, status change)").
func (s *Service) TouchActivity(ctx context.Context, agent, kind string) error {
	if agent == "" {
		return nil
	}
	return s.repo.TouchPresence(ctx, &model.PresenceRow{Agent: agent, LastActivityAt: time.Now(), LastKind: kind})
}

// Presence returns an agent's last observed activity.
func (s *Service) Presence(ctx context.Context, agent string) (*model.PresenceRow, error) {
	return s.repo.Presence(ctx, agent)
}

// IdleSince returns agents whose last recorded activity predates cutoff,
// the idle-nudge worker's candidate set.
func (s *Service) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.repo.StaleAssignees(ctx, cutoff)
}
