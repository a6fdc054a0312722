// Package config loads and validates the orchestrator's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// QueueConfig configures the persistent job queue.
type QueueConfig struct {
	Backend       string   `toml:"backend"` // "memory" or "redis"
	RedisURL      string   `toml:"redis_url"`
	VisibilityMs  Duration `toml:"visibility_ms"`
	HeartbeatMs   Duration `toml:"lease_heartbeat_ms"`
	MaxRetries    int      `toml:"max_job_retries"`
	RequeueBaseMs Duration `toml:"requeue_base_ms"`
	RequeueCapMs  Duration `toml:"requeue_cap_ms"`
	JitterPct     float64  `toml:"requeue_jitter_pct"`
}

// RateLimitConfig configures the global and per-tenant token buckets.
type RateLimitConfig struct {
	GlobalCapacity     int      `toml:"global_capacity"`
	GlobalRefillPerSec float64  `toml:"global_refill_per_second"`
	TenantCapacity     int      `toml:"tenant_capacity"`
	TenantRefillPerSec float64  `toml:"tenant_refill_per_second"`
	RetryDelayMs       Duration `toml:"retry_delay_ms"`
}

// ApprovalConfig configures the checkpoint approval workflow.
type ApprovalConfig struct {
	ExpiresAfterHours int    `toml:"expires_after_hours"`
	ApproverRole      string `toml:"approver_rbac_role"`
	NLApproverRole    string `toml:"nl_approver_role"`
}

// StorageConfig locates the append-only stores each module owns.
type StorageConfig struct {
	URGStorePath    string `toml:"urg_store_path"`
	AuditDir        string `toml:"audit_dir"`
	CheckpointsPath string `toml:"checkpoints_path"`
	StateStorePath  string `toml:"state_store_path"`
	OrchEventsPath  string `toml:"orch_events_path"`
}

// AutoscaleConfig configures the worker pool's autoscaler loop.
type AutoscaleConfig struct {
	MinWorkers             int      `toml:"min_workers"`
	MaxWorkers             int      `toml:"max_workers"`
	TargetQueueDepth       int      `toml:"target_queue_depth"`
	TargetP95LatencyMs     Duration `toml:"target_p95_latency_ms"`
	ScaleUpStep            int      `toml:"scale_up_step"`
	ScaleDownStep          int      `toml:"scale_down_step"`
	DecisionInterval       Duration `toml:"scale_decision_interval_ms"`
	WorkerShutdownTimeoutS Duration `toml:"worker_shutdown_timeout_s"`
}

// General holds process-wide settings: log level/format and the poll
// cadence shared by the worker pool.
type General struct {
	LogLevel  string   `toml:"log_level"`
	LogFormat string   `toml:"log_format"` // "json" or "text"
	PollMs    Duration `toml:"poll_ms"`
}

// Config is the orchestrator's full typed configuration, loaded from TOML
// and overridable from environment-style options.
type Config struct {
	General   General         `toml:"general"`
	Queue     QueueConfig     `toml:"queue"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Approval  ApprovalConfig  `toml:"approval"`
	Storage   StorageConfig   `toml:"storage"`
	Autoscale AutoscaleConfig `toml:"autoscale"`
}

// Clone returns a deep copy of cfg so a ConfigManager reader never shares
// mutable state with a concurrent Reload.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Load reads and validates a TOML configuration file, then applies any
// recognised environment overrides present in the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Reload re-reads and re-validates the TOML configuration file at path.
//
// This mirrors Load but is intentionally named to reflect runtime refresh paths.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.PollMs.Duration == 0 {
		cfg.General.PollMs.Duration = 500 * time.Millisecond
	}

	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.VisibilityMs.Duration == 0 {
		cfg.Queue.VisibilityMs.Duration = 30 * time.Second
	}
	if cfg.Queue.HeartbeatMs.Duration == 0 {
		cfg.Queue.HeartbeatMs.Duration = cfg.Queue.VisibilityMs.Duration / 3
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.RequeueBaseMs.Duration == 0 {
		cfg.Queue.RequeueBaseMs.Duration = time.Second
	}
	if cfg.Queue.RequeueCapMs.Duration == 0 {
		cfg.Queue.RequeueCapMs.Duration = time.Minute
	}
	if cfg.Queue.JitterPct == 0 {
		cfg.Queue.JitterPct = 0.2
	}

	if cfg.RateLimit.GlobalCapacity == 0 {
		cfg.RateLimit.GlobalCapacity = 100
	}
	if cfg.RateLimit.GlobalRefillPerSec == 0 {
		cfg.RateLimit.GlobalRefillPerSec = 50
	}
	if cfg.RateLimit.TenantCapacity == 0 {
		cfg.RateLimit.TenantCapacity = 20
	}
	if cfg.RateLimit.TenantRefillPerSec == 0 {
		cfg.RateLimit.TenantRefillPerSec = 10
	}
	if cfg.RateLimit.RetryDelayMs.Duration == 0 {
		cfg.RateLimit.RetryDelayMs.Duration = time.Second
	}

	if cfg.Approval.ExpiresAfterHours == 0 {
		cfg.Approval.ExpiresAfterHours = 72
	}
	if cfg.Approval.ApproverRole == "" {
		cfg.Approval.ApproverRole = "Approver"
	}
	if cfg.Approval.NLApproverRole == "" {
		cfg.Approval.NLApproverRole = cfg.Approval.ApproverRole
	}

	if cfg.Storage.URGStorePath == "" {
		cfg.Storage.URGStorePath = "./data/urg"
	}
	if cfg.Storage.AuditDir == "" {
		cfg.Storage.AuditDir = "./data/audit"
	}
	if cfg.Storage.CheckpointsPath == "" {
		cfg.Storage.CheckpointsPath = "./data/checkpoints.jsonl"
	}
	if cfg.Storage.StateStorePath == "" {
		cfg.Storage.StateStorePath = "./data/state.db"
	}
	if cfg.Storage.OrchEventsPath == "" {
		cfg.Storage.OrchEventsPath = "./data/events.jsonl"
	}

	if cfg.Autoscale.MinWorkers == 0 {
		cfg.Autoscale.MinWorkers = 1
	}
	if cfg.Autoscale.MaxWorkers == 0 {
		cfg.Autoscale.MaxWorkers = 10
	}
	if cfg.Autoscale.TargetQueueDepth == 0 {
		cfg.Autoscale.TargetQueueDepth = 20
	}
	if cfg.Autoscale.TargetP95LatencyMs.Duration == 0 {
		cfg.Autoscale.TargetP95LatencyMs.Duration = 2 * time.Second
	}
	if cfg.Autoscale.ScaleUpStep == 0 {
		cfg.Autoscale.ScaleUpStep = 2
	}
	if cfg.Autoscale.ScaleDownStep == 0 {
		cfg.Autoscale.ScaleDownStep = 1
	}
	if cfg.Autoscale.DecisionInterval.Duration == 0 {
		cfg.Autoscale.DecisionInterval.Duration = 10 * time.Second
	}
	if cfg.Autoscale.WorkerShutdownTimeoutS.Duration == 0 {
		cfg.Autoscale.WorkerShutdownTimeoutS.Duration = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Queue.Backend != "memory" && cfg.Queue.Backend != "redis" {
		return fmt.Errorf("queue.backend must be \"memory\" or \"redis\", got %q", cfg.Queue.Backend)
	}
	if cfg.Queue.Backend == "redis" && strings.TrimSpace(cfg.Queue.RedisURL) == "" {
		return fmt.Errorf("queue.redis_url is required when queue.backend is \"redis\"")
	}
	if cfg.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_job_retries must be at least 1")
	}
	if cfg.Autoscale.MinWorkers < 1 {
		return fmt.Errorf("autoscale.min_workers must be at least 1")
	}
	if cfg.Autoscale.MaxWorkers < cfg.Autoscale.MinWorkers {
		return fmt.Errorf("autoscale.max_workers (%d) must be >= min_workers (%d)", cfg.Autoscale.MaxWorkers, cfg.Autoscale.MinWorkers)
	}
	if cfg.Approval.ExpiresAfterHours < 1 {
		return fmt.Errorf("approval.expires_after_hours must be at least 1")
	}
	if cfg.General.LogFormat != "json" && cfg.General.LogFormat != "text" {
		return fmt.Errorf("general.log_format must be \"json\" or \"text\", got %q", cfg.General.LogFormat)
	}
	return nil
}
