// Package config loads and hot-reloads the governance core's policy
// configuration, generalized from the teacher's layered env/file loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the embedded store.
type DatabaseConfig struct {
	Driver         string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	HomeDir        string `json:"home_dir" yaml:"home_dir" env:"GOVERNOR_HOME"`
	File           string `json:"file" yaml:"file" env:"DATABASE_FILE"`
	MaxOpenConns   int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MigrateOnStart bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// Path returns the resolved sqlite file path under HomeDir.
func (d DatabaseConfig) Path() string {
	if filepath.IsAbs(d.File) {
		return d.File
	}
	return filepath.Join(d.HomeDir, d.File)
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// QuietHours is a timezone-aware window during which workers suppress
// external messaging unless forced (spec §6, §4.3).
type QuietHours struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	StartHour int    `json:"start" yaml:"start"`
	EndHour   int    `json:"end" yaml:"end"`
	TZ        string `json:"tz" yaml:"tz"`
}

// WatchdogConfig holds tick cadences and thresholds for each background worker.
type WatchdogConfig struct {
	IdleWarnMin          int `json:"idle_warn_min" yaml:"idle_warn_min"`
	IdleEscalateMin      int `json:"idle_escalate_min" yaml:"idle_escalate_min"`
	IdleCooldownMin      int `json:"idle_cooldown_min" yaml:"idle_cooldown_min"`
	PostShipGraceMin     int `json:"post_ship_grace_min" yaml:"post_ship_grace_min"`
	WorkingStaleMin      int `json:"working_stale_min" yaml:"working_stale_min"`
	CadenceCooldownMin   int `json:"cadence_cooldown_min" yaml:"cadence_cooldown_min"`
	MentionDelayMin      int `json:"mention_delay_min" yaml:"mention_delay_min"`
	MentionCooldownMin   int `json:"mention_cooldown_min" yaml:"mention_cooldown_min"`
	BoardHealthMin       int `json:"board_health_min" yaml:"board_health_min"`
	RollbackWindowMs     int `json:"rollback_window_ms" yaml:"rollback_window_ms"`
	MaxActionsPerTick    int `json:"max_actions_per_tick" yaml:"max_actions_per_tick"`
	SweeperMin           int `json:"sweeper_min" yaml:"sweeper_min"`
	ReminderPollSec      int `json:"reminder_poll_sec" yaml:"reminder_poll_sec"`
	PipelineBrokenMin    int `json:"pipeline_broken_min" yaml:"pipeline_broken_min"`
	PipelineCooldownMin  int `json:"pipeline_cooldown_min" yaml:"pipeline_cooldown_min"`
}

// WebhookConfig controls delivery retry/backoff.
type WebhookConfig struct {
	InitialBackoffMs int     `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	Multiplier       float64 `json:"multiplier" yaml:"multiplier"`
	MaxAttempts      int     `json:"max_attempts" yaml:"max_attempts"`
	MaxConcurrent    int     `json:"max_concurrent" yaml:"max_concurrent"`
	RetentionHours   int     `json:"retention_hours" yaml:"retention_hours"`
	MaxReplayDepth   int     `json:"max_replay_depth" yaml:"max_replay_depth"`
}

// NoiseBudgetConfig controls the per-channel rate/digest filter.
type NoiseBudgetConfig struct {
	Enforce           bool `json:"enforce" yaml:"enforce"`
	MessagesPerMinute int  `json:"messages_per_minute" yaml:"messages_per_minute"`
	DigestEveryMin    int  `json:"digest_every_min" yaml:"digest_every_min"`
	DedupWindowSec    int  `json:"dedup_window_sec" yaml:"dedup_window_sec"`
}

// TaskConfig holds task-lifecycle defaults.
type TaskConfig struct {
	DefaultWIPCap      int      `json:"default_wip_cap" yaml:"default_wip_cap"`
	AutoCreateSeverities []string `json:"auto_create_severities" yaml:"auto_create_severities"`
	ReflectionDebtTasks  int      `json:"reflection_debt_tasks" yaml:"reflection_debt_tasks"`
	ReflectionDebtHours  int      `json:"reflection_debt_hours" yaml:"reflection_debt_hours"`
	FocusWindowMin       int      `json:"focus_window_min" yaml:"focus_window_min"`
	// KnownModels maps an accepted `metadata.model` alias to the effective
	// model identifier gate 4 stamps onto the task (spec §4.1 gate 4).
	KnownModels  map[string]string `json:"known_models" yaml:"known_models"`
	DefaultModel string            `json:"default_model" yaml:"default_model"`
}

// RedisConfig controls the optional Redis-backed dedup/cooldown cache.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB"`
}

// AuthConfig controls actor/service token validation.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret" env:"GOVERNOR_JWT_SECRET"`
}

// Config is the top-level policy document, hot-reloadable and readable
// atomically via the Watcher below (spec §5: "Config reload... swaps the
// config atomically").
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	QuietHours  QuietHours        `json:"quiet_hours" yaml:"quiet_hours"`
	Watchdog    WatchdogConfig    `json:"watchdog" yaml:"watchdog"`
	Webhook     WebhookConfig     `json:"webhook" yaml:"webhook"`
	NoiseBudget NoiseBudgetConfig `json:"noise_budget" yaml:"noise_budget"`
	Task        TaskConfig        `json:"task" yaml:"task"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	Auth        AuthConfig        `json:"auth" yaml:"auth"`
}

// New returns a Config populated with sensible defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8088},
		Database: DatabaseConfig{
			Driver:         "sqlite3",
			HomeDir:        "./.governor",
			File:           "governor.db",
			MaxOpenConns:   1,
			MigrateOnStart: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		QuietHours: QuietHours{
			Enabled: false, StartHour: 23, EndHour: 8, TZ: "UTC",
		},
		Watchdog: WatchdogConfig{
			IdleWarnMin:         15,
			IdleEscalateMin:     45,
			IdleCooldownMin:     20,
			PostShipGraceMin:    10,
			WorkingStaleMin:     120,
			CadenceCooldownMin:  30,
			MentionDelayMin:     3,
			MentionCooldownMin:  15,
			BoardHealthMin:      5,
			RollbackWindowMs:    5 * 60 * 1000,
			MaxActionsPerTick:   10,
			SweeperMin:          5,
			ReminderPollSec:     30,
			PipelineBrokenMin:   10,
			PipelineCooldownMin: 30,
		},
		Webhook: WebhookConfig{
			InitialBackoffMs: 1000,
			MaxBackoffMs:     16000,
			Multiplier:       2.0,
			MaxAttempts:      5,
			MaxConcurrent:    8,
			RetentionHours:   24 * 7,
			MaxReplayDepth:   5,
		},
		NoiseBudget: NoiseBudgetConfig{
			Enforce: false, MessagesPerMinute: 10, DigestEveryMin: 15, DedupWindowSec: 300,
		},
		Task: TaskConfig{
			DefaultWIPCap:        2,
			AutoCreateSeverities: []string{"critical", "high"},
			ReflectionDebtTasks:  2,
			ReflectionDebtHours:  4,
			FocusWindowMin:       45,
			KnownModels: map[string]string{
				"opus":   "claude-opus-4",
				"sonnet": "claude-sonnet-4",
				"haiku":  "claude-haiku-4",
			},
			DefaultModel: "claude-sonnet-4",
		},
	}
}

// Load applies an optional YAML file over the defaults, then environment
// variable overrides (env wins). Values from .env are loaded into the
// environment first (without replacing variables already set), so they
// also override the YAML file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("GOVERNOR_CONFIG_FILE"))
	if path == "" {
		path = "config/governor.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Watcher holds a hot-reloadable Config snapshot, swapped atomically under
// a mutex so concurrent readers always see a consistent view (spec §5).
type Watcher struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewWatcher wraps an initial config and records the backing YAML file
// path; watching only starts when Watch is called with a non-empty path.
func NewWatcher(initial *Config, path string) *Watcher {
	return &Watcher{cfg: initial, path: path}
}

// Get returns the current config snapshot.
func (w *Watcher) Get() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Set atomically replaces the config snapshot.
func (w *Watcher) Set(cfg *Config) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// Watch starts an fsnotify watch loop that reloads the config file on
// write and swaps it in atomically. It returns immediately; close stop to
// end the loop.
func (w *Watcher) Watch(stop <-chan struct{}) error {
	if w.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				next := New()
				if err := loadFromFile(w.path, next); err == nil {
					w.Set(next)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// EveryDuration converts a minute count to a time.Duration for scheduler wiring.
func EveryDuration(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}
