package types

import "time"

type EventType string

const (
	EventPortOpened        EventType = "PortOpened"
	EventPortClosed        EventType = "PortClosed"
	EventSnapshotTruncated EventType = "SnapshotTruncated"
	EventChangeLogFailed   EventType = "ChangeLogFailed"
)

type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"ts"`
	InstanceID string         `json:"instance_id,omitempty"`
	Protocol   string         `json:"protocol,omitempty"`
	Address    string         `json:"address,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}
