package workerpool

import (
	"context"
	"log/slog"
	"time"
)

// Signals is one snapshot of the inputs the autoscaler's control loop
// reads each tick.
type Signals struct {
	QueueDepth      int
	P95LatencyMs    float64
	InFlight        int
	CurrentWorkers  int
}

// Config bounds and tunes the autoscaler decision.
type Config struct {
	MinWorkers           int
	MaxWorkers           int
	TargetQueueDepth     int
	TargetP95LatencyMs   float64
	ScaleUpStep          int
	ScaleDownStep        int
	DecisionInterval     time.Duration
	Cooldown             time.Duration
}

// Decision is the autoscaler's verdict for one tick.
type Decision struct {
	TargetWorkers int
	Reason        string
}

// clamp restricts n to [cfg.MinWorkers, cfg.MaxWorkers], defaulting an
// unset MaxWorkers (<=0) to MinWorkers, or to 1 when MinWorkers is 0.
func clamp(n int, cfg Config) int {
	min := cfg.MinWorkers
	if min < 0 {
		min = 0
	}
	max := cfg.MaxWorkers
	if max <= 0 {
		max = min
		if max == 0 {
			max = 1
		}
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}

// Decide applies the combined-signal-up / all-signals-down / hold rule.
// Scale-up fires if any one signal is bad; scale-down requires every
// safety condition to hold, so a single red signal blocks shrinking.
func Decide(s Signals, cfg Config) Decision {
	utilisation := 0.0
	if s.CurrentWorkers > 0 {
		utilisation = float64(s.InFlight) / float64(s.CurrentWorkers)
	}

	queueHot := s.QueueDepth > cfg.TargetQueueDepth
	latencyHot := cfg.TargetP95LatencyMs > 0 && s.P95LatencyMs > cfg.TargetP95LatencyMs
	saturated := s.InFlight == s.CurrentWorkers && s.QueueDepth > 0

	if queueHot || latencyHot || saturated {
		step := cfg.ScaleUpStep
		if step <= 0 {
			step = 1
		}
		return Decision{
			TargetWorkers: clamp(s.CurrentWorkers+step, cfg),
			Reason:        "scale_up",
		}
	}

	queueCold := float64(s.QueueDepth) < 0.3*float64(cfg.TargetQueueDepth)
	latencyCold := cfg.TargetP95LatencyMs <= 0 || s.P95LatencyMs < 0.5*cfg.TargetP95LatencyMs
	underUtilised := utilisation < 0.7

	if queueCold && latencyCold && underUtilised {
		step := cfg.ScaleDownStep
		if step <= 0 {
			step = 1
		}
		return Decision{
			TargetWorkers: clamp(s.CurrentWorkers-step, cfg),
			Reason:        "scale_down",
		}
	}

	return Decision{TargetWorkers: clamp(s.CurrentWorkers, cfg), Reason: "hold"}
}

// SignalSource is polled once per tick to learn the current load.
type SignalSource func() Signals

// Autoscaler runs Decide on a ticker against live Signals and applies the
// result to a Pool, respecting a cooldown between changes.
type Autoscaler struct {
	pool    *Pool
	signals SignalSource
	cfg     Config
	logger  *slog.Logger

	lastChange time.Time
}

// NewAutoscaler builds an Autoscaler driving pool from signals.
func NewAutoscaler(pool *Pool, signals SignalSource, cfg Config, logger *slog.Logger) *Autoscaler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DecisionInterval <= 0 {
		cfg.DecisionInterval = 10 * time.Second
	}
	return &Autoscaler{pool: pool, signals: signals, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled, applying a scale decision every
// cfg.DecisionInterval.
func (a *Autoscaler) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.DecisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Autoscaler) tick() {
	s := a.signals()
	s.CurrentWorkers = a.pool.Size()

	decision := Decide(s, a.cfg)
	if decision.TargetWorkers == s.CurrentWorkers {
		return
	}
	if a.cfg.Cooldown > 0 && time.Since(a.lastChange) < a.cfg.Cooldown {
		a.logger.Info("autoscale_cooldown", "reason", decision.Reason, "target", decision.TargetWorkers)
		return
	}

	a.pool.ScaleTo(decision.TargetWorkers)
	a.lastChange = time.Now()
	a.logger.Info("autoscale_decision", "reason", decision.Reason,
		"from", s.CurrentWorkers, "to", decision.TargetWorkers,
		"queue_depth", s.QueueDepth, "p95_ms", s.P95LatencyMs)
}
