package health

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/portmonhq/portmon/internal/metrics"
)

func TestCheckerReadyConditions(t *testing.T) {
	store := metrics.NewStore()
	checker := NewChecker(store, 3*time.Minute)

	now := time.Unix(1000, 0).UTC()
	ready, reasons := checker.Ready(now)
	if ready {
		t.Fatalf("expected not ready before first cycle")
	}
	if len(reasons) == 0 || reasons[0] != "no cycle completed yet" {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	if !containsCategory(store.Snapshot().ReadyCategories, categoryCyclePending) {
		t.Fatalf("expected CYCLE_PENDING category, got %+v", store.Snapshot().ReadyCategories)
	}

	checker.ObserveCycle(now, nil)
	ready, _ = checker.Ready(now)
	if !ready {
		t.Fatalf("expected ready after successful cycle")
	}
	if !store.Snapshot().Ready {
		t.Fatalf("expected readiness gauge true")
	}

	later := now.Add(4 * time.Minute)
	ready, reasons = checker.Ready(later)
	if ready {
		t.Fatalf("expected stale cycles to flip readiness")
	}
	if !strings.Contains(reasons[0], "cycles stale") {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	if !containsCategory(store.Snapshot().ReadyCategories, categoryCycleStale) {
		t.Fatalf("expected CYCLE_STALE category, got %+v", store.Snapshot().ReadyCategories)
	}
}

func TestCheckerCycleError(t *testing.T) {
	checker := NewChecker(nil, time.Minute)
	now := time.Unix(2000, 0).UTC()

	checker.ObserveCycle(now, nil)
	checker.ObserveCycle(now.Add(time.Second), errors.New("ss: not found"))

	ready, reasons := checker.Ready(now.Add(2 * time.Second))
	if ready {
		t.Fatalf("expected not ready while cycles fail")
	}
	if len(reasons) != 1 || !strings.Contains(reasons[0], "ss: not found") {
		t.Fatalf("unexpected reasons: %v", reasons)
	}

	checker.ObserveCycle(now.Add(3*time.Second), nil)
	if ready, reasons := checker.Ready(now.Add(4 * time.Second)); !ready {
		t.Fatalf("expected recovery after successful cycle, got %v", reasons)
	}
}

func TestCheckerChangeLogFailureExpires(t *testing.T) {
	checker := NewChecker(nil, time.Minute)
	now := time.Unix(3000, 0).UTC()

	checker.ObserveCycle(now, nil)
	checker.ObserveChangeLogFailure(now, errors.New("permission denied"))
	checker.ObserveChangeLogFailure(now, nil)

	ready, reasons := checker.Ready(now)
	if ready || !strings.Contains(reasons[0], "change log not writable") {
		t.Fatalf("expected change log failure to be reported, got %v", reasons)
	}

	checker.ObserveCycle(now.Add(2*time.Minute), nil)
	if ready, reasons := checker.Ready(now.Add(2 * time.Minute)); !ready {
		t.Fatalf("expected old change log failure to expire, got %v", reasons)
	}
}

func containsCategory(categories []metrics.ReadinessCategory, name string) bool {
	for _, c := range categories {
		if c.Name == name {
			return true
		}
	}
	return false
}
