package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/portmonhq/portmon/internal/diff"
	"github.com/portmonhq/portmon/internal/events"
	"github.com/portmonhq/portmon/internal/metrics"
	"github.com/portmonhq/portmon/internal/snapshot"
	"github.com/portmonhq/portmon/pkg/types"
)

// Sink receives change reports. *logging.Appender satisfies it.
type Sink interface {
	Append(message string)
}

// Monitor holds the previous snapshot between cycles. It is not safe for
// concurrent use; the scheduler loop is its only caller.
type Monitor struct {
	source     snapshot.Source
	sink       Sink
	previous   *snapshot.Snapshot
	now        func() time.Time
	newID      func() string
	instanceID string
	metrics    metrics.CycleRecorder
	events     events.Recorder
}

type Option func(*Monitor)

func WithNow(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMetrics(rec metrics.CycleRecorder) Option {
	return func(m *Monitor) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

func WithEvents(rec events.Recorder) Option {
	return func(m *Monitor) {
		if rec != nil {
			m.events = rec
		}
	}
}

func WithInstanceID(id string) Option {
	return func(m *Monitor) {
		if id != "" {
			m.instanceID = id
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.newID = fn
		}
	}
}

func New(source snapshot.Source, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		source:   source,
		sink:     sink,
		previous: snapshot.New(0),
		now:      time.Now,
		newID:    uuid.NewString,
		metrics:  metrics.NoopCycleRecorder{},
		events:   events.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.instanceID == "" {
		m.instanceID = m.newID()
	}
	return m
}

func (m *Monitor) InstanceID() string {
	return m.instanceID
}

// Previous returns the entries the next cycle will be compared against.
func (m *Monitor) Previous() []snapshot.Entry {
	return m.previous.Entries()
}

// Cycle acquires a snapshot, appends the delta to the sink when there is
// one and makes the snapshot the new baseline. A failed acquisition leaves
// the baseline untouched.
func (m *Monitor) Cycle(ctx context.Context) (diff.Report, error) {
	current, err := m.source.Snapshot(ctx)
	if err != nil {
		m.metrics.IncCycleFailures()
		return diff.Report{}, fmt.Errorf("acquire snapshot: %w", err)
	}

	report := diff.Compute(m.previous, current)
	if report.HasChanges() {
		m.sink.Append(report.String())
	}
	m.previous = current

	now := m.now()
	m.metrics.ObserveCycle(now.Unix(), current.Len(), current.Truncated())
	m.record(now, report, current)
	return report, nil
}

func (m *Monitor) record(now time.Time, report diff.Report, current *snapshot.Snapshot) {
	emit := func(typ types.EventType, e snapshot.Entry, details map[string]any) {
		m.events.Record(types.Event{
			ID:         m.newID(),
			Type:       typ,
			Timestamp:  now.UTC(),
			InstanceID: m.instanceID,
			Protocol:   e.Protocol,
			Address:    e.Address,
			Details:    details,
		})
	}
	for _, e := range report.Opened {
		emit(types.EventPortOpened, e, nil)
	}
	for _, e := range report.Closed {
		emit(types.EventPortClosed, e, nil)
	}
	if current.Truncated() {
		emit(types.EventSnapshotTruncated, snapshot.Entry{}, map[string]any{
			"capacity": current.Capacity(),
		})
	}
}
