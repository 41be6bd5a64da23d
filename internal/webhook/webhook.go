// Package webhook implements the durable, at-least-once, idempotent
// delivery queue described in spec §4.4: enqueue dedup on idempotency_key,
// exponential-backoff retry with jitter, dead-letter on exhaustion, and
// replay that never mutates the original event.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/resilience"
	"github.com/opsgovernor/governor/internal/store"
)

// Engine is the webhook delivery engine. One Engine backs every provider;
// target_url and provider distinguish traffic per spec §3 WebhookEvent.
type Engine struct {
	repo    *store.WebhookRepo
	bus     *eventbus.Bus
	log     *logging.Logger
	cfg     *config.Watcher
	client  *http.Client
	breaker *resilience.CircuitBreaker

	mu         sync.Mutex
	inFlight   int
}

func New(repo *store.WebhookRepo, bus *eventbus.Bus, log *logging.Logger, cfg *config.Watcher) *Engine {
	return &Engine{
		repo:    repo,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.New(resilience.Config{MaxFailures: 10, Timeout: time.Minute, HalfOpenMax: 3}),
	}
}

// Enqueue inserts a new event; a colliding idempotency_key returns the
// existing row unchanged rather than creating a duplicate (spec §4.4
// "Enqueue", §8 "Idempotent ingest").
func (e *Engine) Enqueue(ctx context.Context, provider, eventType, targetURL string, payload []byte, idempotencyKey string, metadata model.Metadata) (*model.WebhookEvent, error) {
	if existing, err := e.repo.GetByIdempotencyKey(ctx, idempotencyKey); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, apperr.Internal("failed to check idempotency key", err)
	}

	cfg := e.cfg.Get().Webhook
	now := time.Now()
	var expiresAt *time.Time
	if cfg.RetentionHours > 0 {
		t := now.Add(time.Duration(cfg.RetentionHours) * time.Hour)
		expiresAt = &t
	}
	ev := &model.WebhookEvent{
		ID: uuid.NewString(), IdempotencyKey: idempotencyKey, Provider: provider, EventType: eventType,
		Payload: payload, TargetURL: targetURL, Status: model.WebhookPending,
		MaxAttempts: cfg.MaxAttempts, CreatedAt: now, ExpiresAt: expiresAt, Metadata: metadata,
	}
	if ev.MaxAttempts <= 0 {
		ev.MaxAttempts = 5
	}
	if err := e.repo.Enqueue(ctx, ev); err != nil {
		if err == store.ErrDuplicate {
			existing, gerr := e.repo.GetByIdempotencyKey(ctx, idempotencyKey)
			if gerr != nil {
				return nil, apperr.Internal("failed to resolve duplicate enqueue", gerr)
			}
			return existing, nil
		}
		return nil, apperr.Internal("failed to enqueue webhook", err)
	}
	return ev, nil
}

// headers returns the required delivery headers from spec §4.4.
func headers(ev *model.WebhookEvent, attempt int) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Webhook-ID", ev.ID)
	h.Set("X-Idempotency-Key", ev.IdempotencyKey)
	h.Set("X-Webhook-Event", ev.EventType)
	h.Set("X-Webhook-Provider", ev.Provider)
	h.Set("X-Webhook-Attempt", strconv.Itoa(attempt))
	h.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	return h
}

// deliverOne performs a single delivery attempt, updates the event's
// status, and logs the attempt — write-then-send ordering is not possible
// for the delivery HTTP call itself (that IS the side effect), but the row
// is pending/retrying in the DB before the POST fires, so a crash mid-call
// leaves the row retryable rather than lost (spec §5 "write-then-send").
func (e *Engine) deliverOne(ctx context.Context, ev *model.WebhookEvent) {
	cfg := e.cfg.Get().Webhook
	ev.Attempts++
	ev.Status = model.WebhookDelivering
	now := time.Now()
	ev.LastAttemptAt = &now
	_ = e.repo.Update(ctx, ev)

	status, err := e.post(ctx, ev)

	attemptLog := &model.WebhookAttempt{ID: uuid.NewString(), EventID: ev.ID, Attempt: ev.Attempts, StatusCode: status, CreatedAt: time.Now()}
	if err != nil {
		attemptLog.Error = err.Error()
	}
	_ = e.repo.AppendAttempt(ctx, attemptLog)

	success := err == nil && status >= 200 && status < 300
	ev.LastStatusCode = status
	if success {
		ev.Status = model.WebhookDelivered
		ev.LastError = ""
		delivered := time.Now()
		ev.DeliveredAt = &delivered
		ev.NextRetryAt = nil
		e.bus.Publish(eventbus.Event{Kind: eventbus.KindWebhookUpdate, Payload: ev})
	} else {
		if err != nil {
			ev.LastError = err.Error()
		} else {
			ev.LastError = fmt.Sprintf("non-2xx status %d", status)
		}
		if ev.Attempts >= ev.MaxAttempts {
			ev.Status = model.WebhookDeadLetter
			ev.NextRetryAt = nil
			e.bus.Publish(eventbus.Event{Kind: eventbus.KindWebhookUpdate, Topics: []string{"dead_letter"}, Payload: ev})
		} else {
			ev.Status = model.WebhookRetrying
			delay := resilience.Backoff(ev.Attempts, time.Duration(cfg.InitialBackoffMs)*time.Millisecond,
				time.Duration(cfg.MaxBackoffMs)*time.Millisecond, cfg.Multiplier)
			next := time.Now().Add(delay)
			ev.NextRetryAt = &next
		}
	}
	_ = e.repo.Update(ctx, ev)
}

func (e *Engine) post(ctx context.Context, ev *model.WebhookEvent) (int, error) {
	var statusCode int
	err := e.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.TargetURL, bytes.NewReader(ev.Payload))
		if err != nil {
			return err
		}
		req.Header = headers(ev, ev.Attempts)
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		statusCode = resp.StatusCode
		if statusCode < 200 || statusCode >= 300 {
			return fmt.Errorf("non-2xx status %d", statusCode)
		}
		return nil
	})
	if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
		return 0, err
	}
	return statusCode, err
}

// Tick is the retry-loop's scheduler entry point (spec §4.3 "Webhook
// retry loop (5s)"): it pulls due rows, bounded to maxConcurrent in-flight
// deliveries, and attempts each exactly once.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	cfg := e.cfg.Get().Webhook
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	due, err := e.repo.DueForRetry(ctx, now.UTC().Format(time.RFC3339Nano), maxConcurrent*4)
	if err != nil {
		e.log.WithError(err).Warn("webhook tick: failed to load due events")
		return
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	for _, ev := range due {
		ev := ev
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.deliverOne(ctx, ev)
		}()
	}
	wg.Wait()
}

// Replay produces a new event referencing the original via metadata and a
// fresh idempotency key, never mutating the original (spec §4.4 "Replay").
// Replay-of-replay chains are capped at Webhook.MaxReplayDepth hops
// (SPEC_FULL §6 resolving the open question on replay depth).
func (e *Engine) Replay(ctx context.Context, id string) (*model.WebhookEvent, error) {
	orig, err := e.repo.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("webhook_event", id)
		}
		return nil, apperr.Internal("failed to load webhook event for replay", err)
	}

	depth := 0
	if v, ok := orig.Metadata["replay_depth"].(float64); ok {
		depth = int(v)
	}
	cfg := e.cfg.Get().Webhook
	maxDepth := cfg.MaxReplayDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if depth >= maxDepth {
		return nil, apperr.Validation(fmt.Sprintf("replay depth %d exceeds max_replay_depth %d", depth, maxDepth), "replay_depth")
	}

	now := time.Now()
	meta := model.Metadata{}
	for k, v := range orig.Metadata {
		meta[k] = v
	}
	meta["replayed_from"] = orig.ID
	meta["replay_depth"] = depth + 1

	replay := &model.WebhookEvent{
		ID: uuid.NewString(), IdempotencyKey: uuid.NewString(), Provider: orig.Provider, EventType: orig.EventType,
		Payload: orig.Payload, TargetURL: orig.TargetURL, Status: model.WebhookPending,
		MaxAttempts: orig.MaxAttempts, CreatedAt: now, Metadata: meta,
	}
	if err := e.repo.Enqueue(ctx, replay); err != nil {
		return nil, apperr.Internal("failed to enqueue replay", err)
	}
	return replay, nil
}

// PurgeExpired removes delivered rows past their retention window; non-
// delivered rows are retained for forensics (spec §4.4 "Retention").
func (e *Engine) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return e.repo.PurgeExpired(ctx, now.UTC().Format(time.RFC3339Nano))
}

// Get, ListDeadLetter expose read paths for the HTTP surface.
func (e *Engine) Get(ctx context.Context, id string) (*model.WebhookEvent, error) {
	ev, err := e.repo.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("webhook_event", id)
		}
		return nil, apperr.Internal("failed to load webhook event", err)
	}
	return ev, nil
}

func (e *Engine) ListDeadLetter(ctx context.Context) ([]*model.WebhookEvent, error) {
	return e.repo.ListDeadLetter(ctx)
}

// Stats is a coarse operational snapshot for the /webhooks/stats endpoint.
type Stats struct {
	DeadLetterCount int `json:"dead_letter_count"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	dlq, err := e.repo.ListDeadLetter(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{DeadLetterCount: len(dlq)}, nil
}
