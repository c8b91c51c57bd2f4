package diff

import (
	"strings"

	"github.com/portmonhq/portmon/internal/snapshot"
)

const (
	openedPrefix = "New open port: "
	closedPrefix = "Closed port: "
)

// Report holds the entries that appeared and disappeared between two
// snapshots.
type Report struct {
	Opened []snapshot.Entry
	Closed []snapshot.Entry
}

// Compute returns cur \ prev as Opened, in cur's order, and prev \ cur as
// Closed, in prev's order. A nil snapshot is empty.
func Compute(prev, cur *snapshot.Snapshot) Report {
	var report Report
	for _, e := range cur.Entries() {
		if !prev.Contains(e) {
			report.Opened = append(report.Opened, e)
		}
	}
	for _, e := range prev.Entries() {
		if !cur.Contains(e) {
			report.Closed = append(report.Closed, e)
		}
	}
	return report
}

func (r Report) HasChanges() bool {
	return len(r.Opened) > 0 || len(r.Closed) > 0
}

// String renders one newline-terminated line per change, opened first.
func (r Report) String() string {
	var sb strings.Builder
	for _, e := range r.Opened {
		sb.WriteString(openedPrefix)
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	for _, e := range r.Closed {
		sb.WriteString(closedPrefix)
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
