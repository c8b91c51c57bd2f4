package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/portmonhq/portmon/pkg/types"
)

// Store maintains in-memory gauges and counters for the monitor.
type Store struct {
	cyclesTotal         atomic.Uint64
	cycleFailures       atomic.Uint64
	snapshotSize        atomic.Int64
	snapshotTruncations atomic.Uint64
	lastCycleUnix       atomic.Int64
	readinessState      atomic.Int64
	readinessReason     atomic.Value
	readinessCategories atomic.Value
	readyTransitions    atomic.Uint64
	notReadyTransitions atomic.Uint64
	instanceID          atomic.Value
	eventTotals         sync.Map // types.EventType -> *atomic.Uint64
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{}
	store.readinessReason.Store("")
	store.readinessCategories.Store([]ReadinessCategory(nil))
	store.instanceID.Store("")
	return store
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	InstanceID          string
	CyclesTotal         uint64
	CycleFailures       uint64
	SnapshotSize        int64
	SnapshotTruncations uint64
	LastCycleUnix       int64
	Ready               bool
	ReadyReason         string
	ReadyTransitions    uint64
	NotReadyTransitions uint64
	ReadyCategories     []ReadinessCategory
	Events              map[types.EventType]uint64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	readyReason, _ := s.readinessReason.Load().(string)
	instanceID, _ := s.instanceID.Load().(string)
	rawCategories, _ := s.readinessCategories.Load().([]ReadinessCategory)
	categories := make([]ReadinessCategory, len(rawCategories))
	copy(categories, rawCategories)
	events := make(map[types.EventType]uint64)
	s.eventTotals.Range(func(key, value any) bool {
		typ, ok := key.(types.EventType)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Uint64)
		if !ok || counter == nil {
			return true
		}
		events[typ] = counter.Load()
		return true
	})
	return Snapshot{
		InstanceID:          instanceID,
		CyclesTotal:         s.cyclesTotal.Load(),
		CycleFailures:       s.cycleFailures.Load(),
		SnapshotSize:        s.snapshotSize.Load(),
		SnapshotTruncations: s.snapshotTruncations.Load(),
		LastCycleUnix:       s.lastCycleUnix.Load(),
		Ready:               s.readinessState.Load() == 1,
		ReadyReason:         readyReason,
		ReadyTransitions:    s.readyTransitions.Load(),
		NotReadyTransitions: s.notReadyTransitions.Load(),
		ReadyCategories:     categories,
		Events:              events,
	}
}

func (s *Store) SetInstanceID(id string) {
	s.instanceID.Store(id)
}

// CycleRecorder returns an implementation of CycleRecorder backed by the store.
func (s *Store) CycleRecorder() CycleRecorder {
	return cycleRecorder{store: s}
}

type cycleRecorder struct {
	store *Store
}

func (r cycleRecorder) ObserveCycle(unix int64, size int, truncated bool) {
	r.store.cyclesTotal.Add(1)
	r.store.lastCycleUnix.Store(unix)
	r.store.snapshotSize.Store(int64(size))
	if truncated {
		r.store.snapshotTruncations.Add(1)
	}
}

func (r cycleRecorder) IncCycleFailures() {
	r.store.cycleFailures.Add(1)
}

// Record counts events by type so the store can sit behind events.Multi.
func (s *Store) Record(event types.Event) {
	if event.Type == "" {
		return
	}
	value, _ := s.eventTotals.LoadOrStore(event.Type, &atomic.Uint64{})
	if counter, ok := value.(*atomic.Uint64); ok {
		counter.Add(1)
	}
}

func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	prev := s.readinessState.Load()
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		s.readinessCategories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
	s.readinessCategories.Store(dedupeCategories(categories))
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		cat := ReadinessCategory{Name: name, Severity: normalizeSeverity(c.Severity)}
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		result = append(result, cat)
	}
	return result
}

func normalizeSeverity(severity string) string {
	severity = strings.TrimSpace(strings.ToLower(severity))
	switch severity {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return severity
	}
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	readyValue := 0
	if snap.Ready {
		readyValue = 1
	}
	reason := snap.ReadyReason
	if !snap.Ready && reason == "" {
		reason = "unknown"
	}
	if snap.Ready && reason == "" {
		reason = "ready"
	}
	lines := []string{
		"# HELP portmon_instance_info Identifier of the running monitor instance.",
		"# TYPE portmon_instance_info gauge",
		fmt.Sprintf("portmon_instance_info{instance=%q} 1", snap.InstanceID),
		"# HELP portmon_cycles_total Completed snapshot/diff cycles.",
		"# TYPE portmon_cycles_total counter",
		fmt.Sprintf("portmon_cycles_total %d", snap.CyclesTotal),
		"# HELP portmon_cycle_failures_total Cycles that failed to acquire a snapshot.",
		"# TYPE portmon_cycle_failures_total counter",
		fmt.Sprintf("portmon_cycle_failures_total %d", snap.CycleFailures),
		"# HELP portmon_listening_sockets Entries in the most recent snapshot.",
		"# TYPE portmon_listening_sockets gauge",
		fmt.Sprintf("portmon_listening_sockets %d", snap.SnapshotSize),
		"# HELP portmon_snapshot_truncations_total Snapshots cut short at the capacity ceiling.",
		"# TYPE portmon_snapshot_truncations_total counter",
		fmt.Sprintf("portmon_snapshot_truncations_total %d", snap.SnapshotTruncations),
		"# HELP portmon_last_cycle_timestamp_seconds Unix time of the most recent completed cycle.",
		"# TYPE portmon_last_cycle_timestamp_seconds gauge",
		fmt.Sprintf("portmon_last_cycle_timestamp_seconds %d", snap.LastCycleUnix),
		"# HELP portmon_ready Whether the monitor considers itself ready (1=ready).",
		"# TYPE portmon_ready gauge",
		fmt.Sprintf("portmon_ready %d", readyValue),
		"# HELP portmon_ready_info Reason associated with the most recent readiness evaluation.",
		"# TYPE portmon_ready_info gauge",
		fmt.Sprintf("portmon_ready_info{reason=%q} 1", reason),
		"# HELP portmon_ready_transitions_total Count of readiness state transitions by resulting state.",
		"# TYPE portmon_ready_transitions_total counter",
		fmt.Sprintf("portmon_ready_transitions_total{state=%q} %d", "ready", snap.ReadyTransitions),
		fmt.Sprintf("portmon_ready_transitions_total{state=%q} %d", "not_ready", snap.NotReadyTransitions),
		"# HELP portmon_ready_category Active readiness problems by category and severity.",
		"# TYPE portmon_ready_category gauge",
	}
	for _, c := range snap.ReadyCategories {
		lines = append(lines, fmt.Sprintf("portmon_ready_category{name=%q,severity=%q} 1", c.Name, c.Severity))
	}
	lines = append(lines,
		"# HELP portmon_events_total Recorded monitor events by type.",
		"# TYPE portmon_events_total counter",
	)
	eventTypes := make([]string, 0, len(snap.Events))
	for typ := range snap.Events {
		eventTypes = append(eventTypes, string(typ))
	}
	sort.Strings(eventTypes)
	for _, typ := range eventTypes {
		lines = append(lines, fmt.Sprintf("portmon_events_total{type=%q} %d", typ, snap.Events[types.EventType(typ)]))
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
