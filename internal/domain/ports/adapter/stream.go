package adapter

import (
	"time"

	"rfp-stream-core/internal/domain/model"
)

// StreamSubscription is one live fan-out target of a job's chunk stream.
// Chunks() yields chunks in sequence order; the channel closes after the
// final chunk (or on abort/drop), after which Err() reports why:
// nil for a normal close, ErrSlowConsumer when the subscriber was
// dropped for exhausting its credit.
type StreamSubscription interface {
	Chunks() <-chan model.Chunk
	Err() error
	Unsubscribe()
}

// StreamFanout is the multiplexer surface the use cases depend on.
//
// Open admits a job for streaming; Push is callable only by that job's
// producer. Abort closes the stream without a final chunk (failure or
// cancellation); Remove additionally discards retained chunks (retention
// eviction). LastActivity reports when the job last accepted a chunk,
// so idle detection counts chunk production as liveness, not just state
// transitions.
type StreamFanout interface {
	Open(jobID string)
	Push(jobID string, payload []byte, final bool) (uint64, error)
	Subscribe(jobID, subscriberID string, fromSeq uint64) (StreamSubscription, error)
	Unsubscribe(jobID, subscriberID string)
	Finalized(jobID string) bool
	LastActivity(jobID string) (time.Time, bool)
	Abort(jobID string)
	Remove(jobID string)
}
