// Package ratelimit provides a token-bucket limiter used by the HTTP
// surface and by the noise-budget's per-channel message accounting.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	PerSecond float64
	Burst     int
}

func DefaultConfig() Config {
	return Config{PerSecond: 100, Burst: 200}
}

// Limiter wraps golang.org/x/time/rate with a companion bucket refilling at
// PerSecond*60 tokens per second with a doubled burst. Allow needs a token
// from both buckets and does not report which one refused; AllowN consults
// only the primary bucket.
type Limiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	perMinute *rate.Limiter
	config    Config
}

func New(cfg Config) *Limiter {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.PerSecond * 2)
	}
	return &Limiter{
		limiter:   rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
		perMinute: rate.NewLimiter(rate.Limit(cfg.PerSecond*60), cfg.Burst*2),
		config:    cfg,
	}
}

func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow() && l.perMinute.Allow()
}

func (l *Limiter) AllowN(now time.Time, n int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.AllowN(now, n)
}

func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.config.PerSecond), l.config.Burst)
	l.perMinute = rate.NewLimiter(rate.Limit(l.config.PerSecond*60), l.config.Burst*2)
}

// PerChannel tracks an independent Limiter per chat channel, backing the
// noise-budget's per-channel content-message rate accounting (spec §4.6).
type PerChannel struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*Limiter
}

func NewPerChannel(cfg Config) *PerChannel {
	return &PerChannel{cfg: cfg, limiters: map[string]*Limiter{}}
}

func (p *PerChannel) Allow(channel string) bool {
	p.mu.Lock()
	l, ok := p.limiters[channel]
	if !ok {
		l = New(p.cfg)
		p.limiters[channel] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
