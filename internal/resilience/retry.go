package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures decorrelated-jitter backoff retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64       // 0-1; read by neither Retry nor Backoff (Backoff applies a fixed +/-20%)
	MaxElapsed   time.Duration // 0 = no cap on total time spent retrying
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry executes fn until it succeeds, the attempt budget is spent, or
// MaxElapsed has passed. Delays follow the "decorrelated jitter" formula
// (AWS architecture blog, "Exponential Backoff And Jitter"): each delay is
// drawn uniformly from [InitialDelay, previousDelay*Multiplier], which
// spreads out a herd of simultaneously-retrying callers more evenly than a
// fixed backoff curve with a bounded jitter fraction on top of it.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	start := time.Now()
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if cfg.MaxElapsed > 0 && time.Since(start) >= cfg.MaxElapsed {
			break
		}

		delay = decorrelatedJitter(cfg.InitialDelay, delay, cfg.MaxDelay, cfg.Multiplier)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func decorrelatedJitter(base, previous, max time.Duration, multiplier float64) time.Duration {
	ceiling := time.Duration(float64(previous) * multiplier)
	if ceiling < base {
		ceiling = base
	}
	if ceiling > max {
		ceiling = max
	}
	span := ceiling - base
	if span <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(span)))
}

// Backoff computes initialBackoff * multiplier^(attempt-1) clamped to
// maxBackoff, with +/-20% jitter applied — the exact formula required for
// webhook redelivery (spec §4.4). Unlike Retry's decorrelated jitter, the
// delivery schedule must reproduce a predictable curve (so dead-letter
// timing and replay windows stay explainable to an operator), so it keeps
// the simple exponential-plus-fixed-jitter shape.
func Backoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(initial) * pow(multiplier, attempt-1)
	d := time.Duration(raw)
	if d > max {
		d = max
	}
	return addFixedJitter(d, 0.2)
}

func addFixedJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
