package model

import "time"

type JobKind string

const (
	JobKindDocumentProcessing JobKind = "document_processing"
	JobKindAIStream           JobKind = "ai_stream"
	JobKindClassification     JobKind = "classification"
)

// ValidKind reports whether k is one of the admitted job kinds.
func ValidKind(k JobKind) bool {
	switch k {
	case JobKindDocumentProcessing, JobKindAIStream, JobKindClassification:
		return true
	}
	return false
}

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateStreaming JobState = "streaming"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// transitions is the full edge set of the job state machine.
// Terminal states have no outgoing edges.
var transitions = map[JobState][]JobState{
	JobStateQueued:    {JobStateRunning, JobStateCancelled, JobStateFailed},
	JobStateRunning:   {JobStateStreaming, JobStateCompleted, JobStateFailed, JobStateCancelled},
	JobStateStreaming: {JobStateCompleted, JobStateFailed, JobStateCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Job is one tracked unit of asynchronous work. State is mutated only
// through the registry, which enforces the state machine above.
type Job struct {
	ID              string
	Kind            JobKind
	Owner           string
	State           JobState
	Params          map[string]string
	ResultRef       string
	ErrorDetail     string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CancellableNow reports whether a cancellation request can be honored
// without draining: only queued and running qualify. A streaming job
// finishes its in-flight chunk first.
func (j *Job) CancellableNow() bool {
	return j.State == JobStateQueued || j.State == JobStateRunning
}
