package core

import (
	"context"
	"testing"
	"time"

	"pkt.systems/vela/schema"
)

const mb = int64(1 << 20)

// seedTab creates a tab and rewrites its optimizer-relevant state directly.
func seedTab(t *testing.T, svc *Service, url string, memory int64, idle time.Duration, access int64, pinned bool) schema.TabID {
	t.Helper()
	created, err := svc.CreateTab(context.Background(), CreateTabRequest{URL: url, Background: true, Pinned: pinned})
	if err != nil {
		t.Fatalf("create tab %s: %v", url, err)
	}
	svc.mu.Lock()
	tab := svc.tabs[created.ID]
	tab.MemoryBytes = memory
	tab.LastActive = time.Now().Add(-idle)
	tab.AccessCount = access
	svc.mu.Unlock()
	return created.ID
}

func suspendedSet(result OptimizeResult) map[schema.TabID]bool {
	out := make(map[schema.TabID]bool, len(result.Suspended))
	for _, id := range result.Suspended {
		out[id] = true
	}
	return out
}

func TestHybridOptimizationStopsAtThreshold(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	big := seedTab(t, svc, "big.example", 200*mb, 45*time.Minute, 3, false)
	mid := seedTab(t, svc, "mid.example", 150*mb, 45*time.Minute, 3, false)
	small := seedTab(t, svc, "small.example", 100*mb, 45*time.Minute, 3, false)
	active := seedTab(t, svc, "active.example", 300*mb, 0, 50, true)
	if _, err := svc.ActivateTab(ctx, active); err != nil {
		t.Fatalf("activate: %v", err)
	}
	svc.mu.Lock()
	svc.tabs[active].MemoryBytes = 300 * mb
	svc.mu.Unlock()

	opt, err := NewOptimizer(schema.OptimizerConfig{
		Strategy:             schema.StrategyHybrid,
		MemoryThresholdBytes: 512 * mb,
	}, svc, nil)
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}

	result := opt.OptimizeMemory(ctx)
	picked := suspendedSet(result)
	if !picked[big] || !picked[mid] {
		t.Fatalf("expected the two largest idle tabs suspended, got %v", result.Suspended)
	}
	if picked[small] {
		t.Fatalf("suspension should stop once usage is at or below threshold")
	}
	if picked[active] {
		t.Fatalf("pinned active tab must never be suspended")
	}
	if result.UsageBytes != 400*mb {
		t.Fatalf("usage after pass = %d, want %d", result.UsageBytes, 400*mb)
	}
	if result.Unresolved {
		t.Fatalf("pressure should be resolved")
	}
}

func TestOptimizationReportsUnresolvedPressure(t *testing.T) {
	svc, recorder, _ := newTestService(t)
	ctx := context.Background()

	pinned := seedTab(t, svc, "pinned.example", 600*mb, time.Hour, 1, true)
	if _, err := svc.ActivateTab(ctx, pinned); err != nil {
		t.Fatalf("activate: %v", err)
	}
	seedTab(t, svc, "idle.example", 100*mb, time.Hour, 1, false)

	opt, err := NewOptimizer(schema.OptimizerConfig{
		Strategy:             schema.StrategyHybrid,
		MemoryThresholdBytes: 256 * mb,
	}, svc, nil)
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}

	result := opt.OptimizeMemory(ctx)
	if !result.Unresolved {
		t.Fatalf("expected unresolved pressure with only ineligible tabs left")
	}
	if len(result.Suspended) != 1 {
		t.Fatalf("the one eligible tab should still be suspended, got %v", result.Suspended)
	}
	if recorder.count(schema.EventMemoryPressure) != 1 {
		t.Fatalf("expected a memory.pressure event")
	}
}

func TestTimeStrategySuspendsIdleTabsOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	stale := seedTab(t, svc, "stale.example", 100*mb, time.Hour, 1, false)
	fresh := seedTab(t, svc, "fresh.example", 100*mb, time.Minute, 1, false)
	focus := seedTab(t, svc, "focus.example", 100*mb, 0, 1, false)
	if _, err := svc.ActivateTab(ctx, focus); err != nil {
		t.Fatalf("activate: %v", err)
	}

	opt, err := NewOptimizer(schema.OptimizerConfig{
		Strategy:  schema.StrategyTime,
		IdleAfter: 30 * time.Minute,
	}, svc, nil)
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}

	result := opt.OptimizeMemory(ctx)
	picked := suspendedSet(result)
	if !picked[stale] {
		t.Fatalf("stale tab should be suspended")
	}
	if picked[fresh] || picked[focus] {
		t.Fatalf("fresh or active tab suspended: %v", result.Suspended)
	}
}

func TestUsageStrategySuspendsLeastUsedFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rare := seedTab(t, svc, "rare.example", 100*mb, time.Hour, 1, false)
	often := seedTab(t, svc, "often.example", 100*mb, time.Hour, 40, false)
	focus := seedTab(t, svc, "focus.example", 100*mb, 0, 100, false)
	if _, err := svc.ActivateTab(ctx, focus); err != nil {
		t.Fatalf("activate: %v", err)
	}

	opt, err := NewOptimizer(schema.OptimizerConfig{
		Strategy:             schema.StrategyUsage,
		MemoryThresholdBytes: 200 * mb,
	}, svc, nil)
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}

	result := opt.OptimizeMemory(ctx)
	picked := suspendedSet(result)
	if !picked[rare] {
		t.Fatalf("least used tab should suspend first, got %v", result.Suspended)
	}
	if picked[often] {
		t.Fatalf("threshold reached after one suspension, got %v", result.Suspended)
	}
}
