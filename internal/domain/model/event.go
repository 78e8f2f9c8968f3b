package model

import "time"

type EventType string

const (
	EventJobCreated      EventType = "job.created"
	EventJobStateChanged EventType = "job.state_changed"
	EventJobCompleted    EventType = "job.completed"
	EventJobFailed       EventType = "job.failed"
)

// EventTypeFor maps a reached state to the event type published for the
// transition. Non-terminal transitions and cancellation surface as
// job.state_changed; the two interesting terminals get their own types.
func EventTypeFor(state JobState) EventType {
	switch state {
	case JobStateCompleted:
		return EventJobCompleted
	case JobStateFailed:
		return EventJobFailed
	default:
		return EventJobStateChanged
	}
}

// Event is an immutable cross-module notification of a job state change.
// IDs are ULIDs, so the per-job event order is also the lexical id order.
type Event struct {
	ID          string
	Type        EventType
	JobID       string
	State       JobState
	Detail      string
	Metadata    map[string]string
	PublishedAt time.Time
	Attempts    int
}
