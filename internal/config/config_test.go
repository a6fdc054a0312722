package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
[general]
log_level = "info"
log_format = "json"

[queue]
backend = "memory"
max_job_retries = 5

[rate_limit]
global_capacity = 200

[approval]
expires_after_hours = 48
approver_rbac_role = "Approver"

[storage]
urg_store_path = "./data/urg"
audit_dir = "./data/audit"
checkpoints_path = "./data/checkpoints.jsonl"
state_store_path = "./data/state.db"
orch_events_path = "./data/events.jsonl"

[autoscale]
min_workers = 2
max_workers = 8
`

func TestLoadAppliesFileValues(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.General.LogLevel)
	require.Equal(t, 5, cfg.Queue.MaxRetries)
	require.Equal(t, 200, cfg.RateLimit.GlobalCapacity)
	require.Equal(t, 48, cfg.Approval.ExpiresAfterHours)
	require.Equal(t, 2, cfg.Autoscale.MinWorkers)
	require.Equal(t, 8, cfg.Autoscale.MaxWorkers)
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeTestConfig(t, `[queue]
backend = "memory"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "json", cfg.General.LogFormat)
	require.Equal(t, 3, cfg.Queue.MaxRetries)
	require.Equal(t, 72, cfg.Approval.ExpiresAfterHours)
	require.Equal(t, 1, cfg.Autoscale.MinWorkers)
	require.Equal(t, 10, cfg.Autoscale.MaxWorkers)
	require.Equal(t, "./data/urg", cfg.Storage.URGStorePath)
}

func TestLoadRejectsUnknownQueueBackend(t *testing.T) {
	path := writeTestConfig(t, `[queue]
backend = "kafka"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsRedisBackendWithoutURL(t *testing.T) {
	path := writeTestConfig(t, `[queue]
backend = "redis"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMaxWorkersBelowMinWorkers(t *testing.T) {
	path := writeTestConfig(t, `[autoscale]
min_workers = 5
max_workers = 2
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	t.Setenv("MAX_JOB_RETRIES", "9")
	t.Setenv("QUEUE_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Queue.MaxRetries)
}

func TestDurationRoundTripsTOML(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	require.Equal(t, 90*1e9, float64(d.Duration))

	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))
}
