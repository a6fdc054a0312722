// Command orchestrator runs the worker pool that drains the persistent
// job queue: one poll/dedup/rate-limit/execute cycle per job, autoscaled
// against queue depth and latency signals.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/djpcore/internal/audit"
	"github.com/antigravity-dev/djpcore/internal/checkpoint"
	"github.com/antigravity-dev/djpcore/internal/config"
	"github.com/antigravity-dev/djpcore/internal/dag"
	"github.com/antigravity-dev/djpcore/internal/idempotency"
	"github.com/antigravity-dev/djpcore/internal/queue"
	"github.com/antigravity-dev/djpcore/internal/ratelimit"
	"github.com/antigravity-dev/djpcore/internal/router"
	"github.com/antigravity-dev/djpcore/internal/runner"
	"github.com/antigravity-dev/djpcore/internal/statestore"
	"github.com/antigravity-dev/djpcore/internal/urg"
	"github.com/antigravity-dev/djpcore/internal/worker"
	"github.com/antigravity-dev/djpcore/internal/workerpool"
	"github.com/redis/go-redis/v9"
)

func configureLogger(logLevel, logFormat string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev || logFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "orchestrator.toml", "path to config file")
	pollMs := flag.Int("poll-ms", 0, "override worker poll interval in milliseconds")
	workerID := flag.String("worker-id", "orchestrator", "identifier prefix logged for this process's workers")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	bootLogger.Info("orchestrator starting", "config", *configPath)

	cfgManager, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := configureLogger(cfg.General.LogLevel, cfg.General.LogFormat, *dev)
	slog.SetDefault(logger)

	var q queue.Queue
	switch cfg.Queue.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		q = queue.NewRedisQueue(redis.NewClient(opts), "djpcore")
	default:
		q = queue.NewMemoryQueue()
	}

	graph, err := urg.Open(cfg.Storage.URGStorePath)
	if err != nil {
		logger.Error("failed to open resource graph", "path", cfg.Storage.URGStorePath, "error", err)
		os.Exit(1)
	}
	auditor, err := audit.New(cfg.Storage.AuditDir)
	if err != nil {
		logger.Error("failed to open audit log", "dir", cfg.Storage.AuditDir, "error", err)
		os.Exit(1)
	}
	checkpoints, err := checkpoint.New(cfg.Storage.CheckpointsPath)
	if err != nil {
		logger.Error("failed to open checkpoint store", "path", cfg.Storage.CheckpointsPath, "error", err)
		os.Exit(1)
	}
	states, err := statestore.Open(cfg.Storage.StateStorePath)
	if err != nil {
		logger.Error("failed to open state store", "path", cfg.Storage.StateStorePath, "error", err)
		os.Exit(1)
	}
	defer states.Close()

	roles := func(actor, tenant string) (string, bool) { return cfg.Approval.ApproverRole, true }
	actionRouter := router.New(graph, roles, auditor, "Viewer")
	registry := newDelegatingRegistry(actionRouter)

	events, err := runner.OpenEventLog(cfg.Storage.OrchEventsPath)
	if err != nil {
		logger.Error("failed to open event log", "path", cfg.Storage.OrchEventsPath, "error", err)
		os.Exit(1)
	}

	r := runner.New(checkpoints, states, registry, logger.With("component", "runner"))
	r.Events = events
	r.CheckpointTTL = time.Duration(cfg.Approval.ExpiresAfterHours) * time.Hour
	tracker := idempotency.NewMemoryTracker()
	limiter := ratelimit.New(
		ratelimit.BucketConfig{Capacity: float64(cfg.RateLimit.GlobalCapacity), RefillPerSecond: cfg.RateLimit.GlobalRefillPerSec},
		ratelimit.BucketConfig{Capacity: float64(cfg.RateLimit.TenantCapacity), RefillPerSecond: cfg.RateLimit.TenantRefillPerSec},
	)

	poll := cfg.General.PollMs.Duration
	if *pollMs > 0 {
		poll = time.Duration(*pollMs) * time.Millisecond
	}

	w := worker.New(q, r, limiter, tracker, loadDAG, worker.Config{
		PollInterval:       poll,
		VisibilityMs:       cfg.Queue.VisibilityMs.Duration,
		HeartbeatInterval:  cfg.Queue.HeartbeatMs.Duration,
		MaxRetries:         cfg.Queue.MaxRetries,
		RateLimitRetryWait: cfg.RateLimit.RetryDelayMs.Duration,
		RequeueBaseMs:      cfg.Queue.RequeueBaseMs.Duration,
		RequeueCapMs:       cfg.Queue.RequeueCapMs.Duration,
		JitterPct:          cfg.Queue.JitterPct,
	}, logger.With("component", "worker"))

	w.Events = events

	latency := workerpool.NewLatencyTracker(256)
	w.OnJobDuration = latency.Observe

	pool := workerpool.New(workerpool.JobRunnerFunc(w.Run), logger.With("component", "workerpool"))
	pool.ScaleTo(cfg.Autoscale.MinWorkers)

	autoscaler := workerpool.NewAutoscaler(pool, func() workerpool.Signals {
		stats, err := q.Stats(context.Background())
		if err != nil {
			logger.Warn("autoscale_stats_error", "error", err)
		}
		return workerpool.Signals{
			QueueDepth:     stats.PendingCount,
			InFlight:       stats.RunningCount,
			P95LatencyMs:   latency.P95Ms(),
			CurrentWorkers: pool.Size(),
		}
	}, workerpool.Config{
		MinWorkers:         cfg.Autoscale.MinWorkers,
		MaxWorkers:         cfg.Autoscale.MaxWorkers,
		TargetQueueDepth:   cfg.Autoscale.TargetQueueDepth,
		TargetP95LatencyMs: float64(cfg.Autoscale.TargetP95LatencyMs.Duration.Milliseconds()),
		ScaleUpStep:        cfg.Autoscale.ScaleUpStep,
		ScaleDownStep:      cfg.Autoscale.ScaleDownStep,
		DecisionInterval:   cfg.Autoscale.DecisionInterval.Duration,
		Cooldown:           cfg.Autoscale.DecisionInterval.Duration * 3,
	}, logger.With("component", "autoscaler"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go autoscaler.Run(ctx)

	logger.Info("orchestrator running", "worker_id_prefix", *workerID, "min_workers", cfg.Autoscale.MinWorkers, "max_workers", cfg.Autoscale.MaxWorkers)

	<-ctx.Done()
	logger.Info("received signal, draining workers", "timeout", cfg.Autoscale.WorkerShutdownTimeoutS.Duration)
	if !pool.Shutdown(cfg.Autoscale.WorkerShutdownTimeoutS.Duration) {
		logger.Warn("workers did not drain before timeout")
	}
	logger.Info("orchestrator stopped")
}

func loadDAG(job queue.Job) (dag.DAG, error) {
	if job.DAGInline != "" {
		return dag.ParseYAML([]byte(job.DAGInline))
	}
	return dag.LoadYAML(job.DAGPath)
}

// routerRegistry adapts the action router into a runner.Registry: a
// task's workflow_ref names a "resource_type.action" pair the router
// dispatches directly, with the task's params as both graph_id source
// and payload. Refs without a dot are not actions and stay unresolved.
type routerRegistry struct {
	r *router.Registry
}

func newDelegatingRegistry(r *router.Registry) routerRegistry {
	return routerRegistry{r: r}
}

func (rr routerRegistry) Resolve(ref string) (runner.WorkflowHandler, bool) {
	if !strings.Contains(ref, ".") {
		return nil, false
	}
	return func(ctx context.Context, task dag.Task, params map[string]any) (map[string]any, error) {
		graphID, _ := params["graph_id"].(string)
		res, err := rr.r.Execute(ctx, task.WorkflowRef, graphID, params, "orchestrator", task.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": res.Status}, nil
	}, true
}
