package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides layers environment variables on top of whatever the
// TOML file set. A variable that is unset or fails to parse is silently
// skipped, leaving the file/default value in place.
func applyEnvOverrides(cfg *Config) {
	envString(&cfg.Queue.Backend, "QUEUE_BACKEND")
	envString(&cfg.Queue.RedisURL, "REDIS_URL")
	envDuration(&cfg.Queue.VisibilityMs, "QUEUE_VISIBILITY_MS")
	envDuration(&cfg.Queue.HeartbeatMs, "LEASE_HEARTBEAT_MS")
	envInt(&cfg.Queue.MaxRetries, "MAX_JOB_RETRIES")
	envDuration(&cfg.Queue.RequeueBaseMs, "REQUEUE_BASE_MS")
	envDuration(&cfg.Queue.RequeueCapMs, "REQUEUE_CAP_MS")
	envFloat(&cfg.Queue.JitterPct, "REQUEUE_JITTER_PCT")

	envInt(&cfg.RateLimit.GlobalCapacity, "RATE_LIMIT_GLOBAL_CAPACITY")
	envFloat(&cfg.RateLimit.GlobalRefillPerSec, "RATE_LIMIT_GLOBAL_REFILL_PER_SECOND")
	envInt(&cfg.RateLimit.TenantCapacity, "RATE_LIMIT_TENANT_CAPACITY")
	envFloat(&cfg.RateLimit.TenantRefillPerSec, "RATE_LIMIT_TENANT_REFILL_PER_SECOND")
	envDuration(&cfg.RateLimit.RetryDelayMs, "RATE_LIMIT_RETRY_DELAY_MS")

	envInt(&cfg.Approval.ExpiresAfterHours, "APPROVAL_EXPIRES_H")
	envString(&cfg.Approval.ApproverRole, "APPROVER_RBAC_ROLE")
	envString(&cfg.Approval.NLApproverRole, "NL_APPROVER_ROLE")

	envString(&cfg.Storage.URGStorePath, "URG_STORE_PATH")
	envString(&cfg.Storage.AuditDir, "AUDIT_DIR")
	envString(&cfg.Storage.CheckpointsPath, "CHECKPOINTS_PATH")
	envString(&cfg.Storage.StateStorePath, "STATE_STORE_PATH")
	envString(&cfg.Storage.OrchEventsPath, "ORCH_EVENTS_PATH")

	envInt(&cfg.Autoscale.MinWorkers, "MIN_WORKERS")
	envInt(&cfg.Autoscale.MaxWorkers, "MAX_WORKERS")
	envInt(&cfg.Autoscale.TargetQueueDepth, "TARGET_QUEUE_DEPTH")
	envDuration(&cfg.Autoscale.TargetP95LatencyMs, "TARGET_P95_LATENCY_MS")
	envInt(&cfg.Autoscale.ScaleUpStep, "SCALE_UP_STEP")
	envInt(&cfg.Autoscale.ScaleDownStep, "SCALE_DOWN_STEP")
	envDuration(&cfg.Autoscale.DecisionInterval, "SCALE_DECISION_INTERVAL_MS")
	envDurationSeconds(&cfg.Autoscale.WorkerShutdownTimeoutS, "WORKER_SHUTDOWN_TIMEOUT_S")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// envDurationSeconds reads key as a raw integer of seconds (the _S
// suffix convention).
func envDurationSeconds(dst *Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if s, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(s) * time.Second
		}
	}
}

// envDuration reads key as a raw millisecond integer (the _MS suffix
// convention) rather than a Go duration string, since the env surface is
// meant for container-style overrides, not TOML authoring.
func envDuration(dst *Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(ms) * time.Millisecond
		}
	}
}
