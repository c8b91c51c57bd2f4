package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/portmonhq/portmon/pkg/types"
)

func TestStoreCycleRecorder(t *testing.T) {
	store := NewStore()
	rec := store.CycleRecorder()

	rec.ObserveCycle(1700000000, 12, false)
	rec.ObserveCycle(1700000060, 1024, true)
	rec.IncCycleFailures()

	snap := store.Snapshot()
	if snap.CyclesTotal != 2 {
		t.Fatalf("expected 2 cycles got %d", snap.CyclesTotal)
	}
	if snap.SnapshotSize != 1024 {
		t.Fatalf("expected size 1024 got %d", snap.SnapshotSize)
	}
	if snap.SnapshotTruncations != 1 {
		t.Fatalf("expected 1 truncation got %d", snap.SnapshotTruncations)
	}
	if snap.LastCycleUnix != 1700000060 {
		t.Fatalf("unexpected last cycle %d", snap.LastCycleUnix)
	}
	if snap.CycleFailures != 1 {
		t.Fatalf("expected 1 failure got %d", snap.CycleFailures)
	}
}

func TestStoreRecordsEvents(t *testing.T) {
	store := NewStore()
	store.Record(types.Event{Type: types.EventPortOpened})
	store.Record(types.Event{Type: types.EventPortOpened})
	store.Record(types.Event{Type: types.EventPortClosed})
	store.Record(types.Event{})

	snap := store.Snapshot()
	if snap.Events[types.EventPortOpened] != 2 || snap.Events[types.EventPortClosed] != 1 {
		t.Fatalf("unexpected event counts %+v", snap.Events)
	}
	if len(snap.Events) != 2 {
		t.Fatalf("untyped events must be ignored, got %+v", snap.Events)
	}
}

func TestStoreWritePrometheus(t *testing.T) {
	store := NewStore()
	store.SetInstanceID("0b6c3a0e-7c1f-4e0b-9d55-6a1f0f3b2c11")
	store.CycleRecorder().ObserveCycle(1700000000, 7, false)
	store.Record(types.Event{Type: types.EventPortOpened})
	store.ObserveReadiness(true, "", nil)

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	output := sb.String()
	expect := []string{
		"portmon_instance_info{instance=\"0b6c3a0e-7c1f-4e0b-9d55-6a1f0f3b2c11\"} 1",
		"portmon_cycles_total 1",
		"portmon_cycle_failures_total 0",
		"portmon_listening_sockets 7",
		"portmon_snapshot_truncations_total 0",
		"portmon_last_cycle_timestamp_seconds 1700000000",
		"portmon_ready 1",
		"portmon_ready_info{reason=\"ready\"} 1",
		"portmon_ready_transitions_total{state=\"ready\"} 1",
		"portmon_ready_transitions_total{state=\"not_ready\"} 0",
		"portmon_events_total{type=\"PortOpened\"} 1",
	}
	for _, fragment := range expect {
		if !strings.Contains(output, fragment) {
			t.Fatalf("expected output to contain %q, got:\n%s", fragment, output)
		}
	}
	if strings.Contains(output, "portmon_ready_category{") {
		t.Fatalf("ready store must not report categories, got:\n%s", output)
	}
}

func TestHTTPHandler(t *testing.T) {
	store := NewStore()
	h := NewHTTPHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected text/plain content-type got %s", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected body content")
	}

	headReq := httptest.NewRequest(http.MethodHead, "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, headReq)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for HEAD got %d", w.Result().StatusCode)
	}

	postReq := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, postReq)
	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", w.Result().StatusCode)
	}
}

func TestStoreObserveReadiness(t *testing.T) {
	store := NewStore()

	// Initial failure is not a transition because the monitor has never been ready.
	store.ObserveReadiness(false, "no cycle completed yet", []ReadinessCategory{
		{Name: "CYCLE_PENDING", Severity: "info"},
	})
	snap := store.Snapshot()
	if snap.Ready {
		t.Fatalf("expected readiness false")
	}
	if snap.ReadyReason != "no cycle completed yet" {
		t.Fatalf("unexpected reason: %q", snap.ReadyReason)
	}
	if snap.ReadyTransitions != 0 || snap.NotReadyTransitions != 0 {
		t.Fatalf("unexpected counters after initial failure: %+v", snap)
	}
	if len(snap.ReadyCategories) != 1 || snap.ReadyCategories[0].Name != "CYCLE_PENDING" {
		t.Fatalf("unexpected categories: %+v", snap.ReadyCategories)
	}

	store.ObserveReadiness(true, "", nil)
	snap = store.Snapshot()
	if !snap.Ready || snap.ReadyReason != "" {
		t.Fatalf("expected ready with empty reason, got %+v", snap)
	}
	if snap.ReadyTransitions != 1 || snap.NotReadyTransitions != 0 {
		t.Fatalf("unexpected counters after transition to ready: %+v", snap)
	}

	store.ObserveReadiness(false, "cycles stale", []ReadinessCategory{
		{Name: "CYCLE_STALE", Severity: "warn"},
	})
	snap = store.Snapshot()
	if snap.Ready {
		t.Fatalf("expected readiness false after degradation")
	}
	if snap.ReadyTransitions != 1 || snap.NotReadyTransitions != 1 {
		t.Fatalf("unexpected counters after degradation: %+v", snap)
	}
	if snap.ReadyCategories[0].Severity != "warning" {
		t.Fatalf("expected severity to be normalized, got %+v", snap.ReadyCategories[0])
	}
}

func TestStoreDedupesCategories(t *testing.T) {
	store := NewStore()

	cats := []ReadinessCategory{
		{Name: "CYCLE_FAILING", Severity: "critical"},
		{Name: "CYCLE_STALE", Severity: "warning"},
		{Name: "CYCLE_FAILING", Severity: "crit"},
		{Name: "", Severity: "info"},
		{Name: "  CYCLE_STALE  ", Severity: "Warning"},
	}
	store.ObserveReadiness(false, "multiple issues", cats)

	snap := store.Snapshot()
	if len(snap.ReadyCategories) != 2 {
		t.Fatalf("expected 2 categories, got %+v", snap.ReadyCategories)
	}

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	output := sb.String()
	for _, fragment := range []string{
		"portmon_ready 0",
		"portmon_ready_category{name=\"CYCLE_FAILING\",severity=\"critical\"} 1",
		"portmon_ready_category{name=\"CYCLE_STALE\",severity=\"warning\"} 1",
	} {
		if !strings.Contains(output, fragment) {
			t.Fatalf("expected output to contain %q, got:\n%s", fragment, output)
		}
	}
	if strings.Count(output, "portmon_ready_category{") != 2 {
		t.Fatalf("expected deduplicated category series, got:\n%s", output)
	}
}
