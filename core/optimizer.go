package core

import (
	"context"
	"sort"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vela/schema"
)

// Optimizer applies the configured suspension strategy to the registry to
// keep estimated memory usage under the threshold.
type Optimizer struct {
	cfg schema.OptimizerConfig
	svc *Service
	log pslog.Logger
}

// OptimizeResult reports what a single optimization pass did.
type OptimizeResult struct {
	Strategy   schema.SuspendStrategy
	Suspended  []schema.TabID
	FreedBytes int64
	UsageBytes int64
	// Unresolved is set when every eligible tab is suspended and usage still
	// exceeds the threshold. It is a condition, not an error.
	Unresolved bool
}

// NewOptimizer builds an optimizer over the registry.
func NewOptimizer(cfg schema.OptimizerConfig, svc *Service, logger pslog.Logger) (*Optimizer, error) {
	normalized, err := schema.NormalizeOptimizerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Optimizer{cfg: normalized, svc: svc, log: logger}, nil
}

// MemoryUsage returns the estimated memory of all live, unsuspended tabs.
func (o *Optimizer) MemoryUsage() int64 {
	s := o.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	var usage int64
	for _, t := range s.tabs {
		if !t.Suspended {
			usage += t.MemoryBytes
		}
	}
	return usage
}

type candidate struct {
	id     schema.TabID
	idle   time.Duration
	memory int64
	access int64
	score  float64
}

// OptimizeMemory runs one pass of the configured strategy. Pinned tabs and
// each space's active tab are never eligible.
func (o *Optimizer) OptimizeMemory(ctx context.Context) OptimizeResult {
	now := o.svc.now()
	candidates, usage := o.collect(now)
	result := OptimizeResult{Strategy: o.cfg.Strategy, UsageBytes: usage}

	var picks []candidate
	switch o.cfg.Strategy {
	case schema.StrategyTime:
		for _, c := range candidates {
			if c.idle > o.cfg.IdleAfter {
				picks = append(picks, c)
			}
		}
		sort.SliceStable(picks, func(i, j int) bool { return picks[i].idle > picks[j].idle })
	case schema.StrategyUsage:
		if usage <= o.cfg.MemoryThresholdBytes {
			return result
		}
		picks = append(picks, candidates...)
		sort.SliceStable(picks, func(i, j int) bool {
			if picks[i].access != picks[j].access {
				return picks[i].access < picks[j].access
			}
			return picks[i].memory > picks[j].memory
		})
	default:
		if usage <= o.cfg.MemoryThresholdBytes {
			return result
		}
		picks = o.scoreHybrid(candidates)
	}

	for _, pick := range picks {
		if o.cfg.Strategy != schema.StrategyTime && result.UsageBytes <= o.cfg.MemoryThresholdBytes {
			break
		}
		if err := o.svc.SuspendTab(ctx, pick.id, false); err != nil {
			o.log.Debug("optimizer skip", "tab", pick.id, "err", err)
			continue
		}
		result.Suspended = append(result.Suspended, pick.id)
		result.FreedBytes += pick.memory
		result.UsageBytes -= pick.memory
	}
	result.Unresolved = o.cfg.Strategy != schema.StrategyTime &&
		result.UsageBytes > o.cfg.MemoryThresholdBytes

	if len(result.Suspended) > 0 || result.Unresolved {
		event := schema.NewEvent(schema.EventMemoryPressure, "optimizer", map[string]any{
			"strategy":   string(result.Strategy),
			"suspended":  len(result.Suspended),
			"freed":      result.FreedBytes,
			"usage":      result.UsageBytes,
			"threshold":  o.cfg.MemoryThresholdBytes,
			"unresolved": result.Unresolved,
		})
		event.Priority = schema.PriorityHigh
		if result.Unresolved {
			event.Priority = schema.PriorityCritical
		}
		o.svc.emit(event)
		o.log.Info("memory optimization pass",
			"strategy", result.Strategy,
			"suspended", len(result.Suspended),
			"freed", result.FreedBytes,
			"usage", result.UsageBytes,
			"unresolved", result.Unresolved)
	}
	return result
}

// collect snapshots eligible candidates and total unsuspended usage.
func (o *Optimizer) collect(now time.Time) ([]candidate, int64) {
	s := o.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	var usage int64
	var out []candidate
	for _, t := range s.tabs {
		if t.Suspended {
			continue
		}
		usage += t.MemoryBytes
		if t.Pinned {
			continue
		}
		if sp := s.spaces[t.SpaceID]; sp != nil && sp.activeTab == t.ID {
			continue
		}
		idle := now.Sub(t.LastActive)
		if idle < 0 {
			idle = 0
		}
		out = append(out, candidate{
			id:     t.ID,
			idle:   idle,
			memory: t.MemoryBytes,
			access: t.AccessCount,
		})
	}
	return out, usage
}

// scoreHybrid ranks candidates by retention value. Lower scores suspend
// first; ties break toward the larger memory estimate so a pass frees the
// most memory earliest.
func (o *Optimizer) scoreHybrid(candidates []candidate) []candidate {
	if len(candidates) == 0 {
		return nil
	}
	var maxIdle time.Duration
	var maxMem, maxAccess int64
	for _, c := range candidates {
		if c.idle > maxIdle {
			maxIdle = c.idle
		}
		if c.memory > maxMem {
			maxMem = c.memory
		}
		if c.access > maxAccess {
			maxAccess = c.access
		}
	}
	w := o.cfg.Weights
	scored := append([]candidate(nil), candidates...)
	for i := range scored {
		c := &scored[i]
		var idleNorm, memNorm, accessNorm float64
		if maxIdle > 0 {
			idleNorm = float64(c.idle) / float64(maxIdle)
		}
		if maxMem > 0 {
			memNorm = float64(c.memory) / float64(maxMem)
		}
		if maxAccess > 0 {
			accessNorm = float64(c.access) / float64(maxAccess)
		}
		c.score = w.Recency*(1-idleNorm) + w.Memory*(1-memNorm) + w.Usage*accessNorm
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score < scored[j].score
		}
		return scored[i].memory > scored[j].memory
	})
	return scored
}

// Run executes optimization passes on the configured interval until ctx is
// done.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	o.log.Info("optimizer started", "strategy", o.cfg.Strategy, "interval", o.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("optimizer stopped")
			return
		case <-ticker.C:
			o.OptimizeMemory(ctx)
		}
	}
}
