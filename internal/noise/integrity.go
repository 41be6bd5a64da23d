package noise

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/store"
)

// AlertState enumerates the per-alert-key state machine from spec §4.6:
// idle -> fired -> suppressed -> expires -> idle.
type AlertState string

const (
	AlertIdle       AlertState = "idle"
	AlertFired      AlertState = "fired"
	AlertSuppressed AlertState = "suppressed"
)

var (
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	idPattern        = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	countPattern     = regexp.MustCompile(`\b\d+\b`)
)

// Normalize strips timestamps, ids, and counts from message content so
// flapping alerts collide on the same dedup key (spec §4.6 "Alert
// integrity").
func Normalize(content string) string {
	s := timestampPattern.ReplaceAllString(content, "<ts>")
	s = idPattern.ReplaceAllString(s, "<id>")
	s = countPattern.ReplaceAllString(s, "<n>")
	return strings.TrimSpace(strings.ToLower(s))
}

// AlertKey derives the sliding-window dedup key for a (kind, channel,
// normalized content) triple.
func AlertKey(kind, channel, content string) string {
	sum := sha256.Sum256([]byte(kind + "|" + channel + "|" + Normalize(content)))
	return hex.EncodeToString(sum[:])[:24]
}

// Integrity deduplicates automated alerts inside a sliding window and
// records suppression decisions to the persistent suppression ledger
// (spec §4.6). A Redis-backed sorted set is the documented cache choice
// (SPEC_FULL §8) for the dedup-window lookup itself; when no Redis
// endpoint is configured it falls back to scanning the persistent
// suppression ledger, degrading rather than hard-failing.
type Integrity struct {
	repo  *store.NoiseRepo
	redis *redis.Client

	mu     sync.Mutex
	states map[string]AlertState
}

func NewIntegrity(repo *store.NoiseRepo) *Integrity {
	return &Integrity{repo: repo, states: map[string]AlertState{}}
}

// NewIntegrityWithRedis wires a Redis sorted set in front of the ledger
// scan: ZADD records every fire at its unix-time score, ZCOUNT within the
// window answers "has this key fired recently" in O(log n) without
// touching the database on the hot path.
func NewIntegrityWithRedis(repo *store.NoiseRepo, client *redis.Client) *Integrity {
	return &Integrity{repo: repo, redis: client, states: map[string]AlertState{}}
}

// Check reports whether an alert should fire or be suppressed as a
// duplicate within windowSec, recording a suppression-ledger entry when
// withheld.
func (in *Integrity) Check(ctx context.Context, kind, channel, content string, windowSec int, now time.Time) (fire bool, err error) {
	key := AlertKey(kind, channel, content)
	since := now.Add(-time.Duration(windowSec) * time.Second)

	duplicate, err := in.seenRecently(ctx, key, since, now, windowSec)
	if err != nil {
		return false, err
	}
	if duplicate {
		in.setState(key, AlertSuppressed)
		_ = in.repo.AppendSuppression(ctx, &model.SuppressionLedgerEntry{
			ID: uuid.NewString(), Channel: channel, AlertKey: key,
			Reason: "duplicate within dedup window", Content: content, CreatedAt: now,
		})
		return false, nil
	}

	in.setState(key, AlertFired)
	_ = in.repo.AppendSuppression(ctx, &model.SuppressionLedgerEntry{
		ID: uuid.NewString(), Channel: channel, AlertKey: key,
		Reason: "fired", Content: content, CreatedAt: now,
	})
	if in.redis != nil {
		member := now.Format(time.RFC3339Nano)
		_ = in.redis.ZAdd(ctx, redisDedupKey(key), &redis.Z{Score: float64(now.Unix()), Member: member}).Err()
		_ = in.redis.Expire(ctx, redisDedupKey(key), time.Duration(windowSec)*time.Second).Err()
	}
	return true, nil
}

func redisDedupKey(alertKey string) string {
	return "governor:noise:dedup:" + alertKey
}

// seenRecently answers the duplicate-within-window question, preferring
// the Redis sorted set when configured and falling back to a ledger scan
// otherwise.
func (in *Integrity) seenRecently(ctx context.Context, key string, since, now time.Time, windowSec int) (bool, error) {
	if in.redis != nil {
		count, err := in.redis.ZCount(ctx, redisDedupKey(key), fmtUnix(since), fmtUnix(now.Add(time.Second))).Result()
		if err == nil {
			return count > 0, nil
		}
		// Redis unavailable: fall through to the ledger scan rather than
		// failing the whole alert pipeline on a cache outage.
	}
	recent, err := in.repo.RecentByAlertKey(ctx, key, since)
	if err != nil {
		return false, err
	}
	return len(recent) > 0, nil
}

func fmtUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func (in *Integrity) setState(key string, s AlertState) {
	in.mu.Lock()
	in.states[key] = s
	in.mu.Unlock()
}

// State returns the last observed in-process state for an alert key,
// defaulting to idle (spec §4.6 state machine).
func (in *Integrity) State(key string) AlertState {
	in.mu.Lock()
	defer in.mu.Unlock()
	if s, ok := in.states[key]; ok {
		return s
	}
	return AlertIdle
}

// Rollback clears an alert key's recorded state, letting it fire again
// immediately — the evaluation hook spec §4.6 documents ("Rollback
// signals and stats are exposed for evaluation").
func (in *Integrity) Rollback(key string) {
	in.mu.Lock()
	delete(in.states, key)
	in.mu.Unlock()
}
