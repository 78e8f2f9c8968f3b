// Package stream fans a job's ordered chunk sequence out to many live
// subscribers.
//
// Chunks pushed by a job's producer are retained per job so a subscriber
// can attach (or re-attach) at any sequence number and replay forward.
// Each subscriber drains through its own delivery goroutine; a subscriber
// whose unconsumed backlog exceeds the watermark is dropped with
// SlowConsumer while every other subscriber keeps streaming.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/adapter"
	"rfp-stream-core/internal/infra/metrics"
)

var _ adapter.StreamFanout = (*Mux)(nil)

// Mux is the stream multiplexer. All methods are safe for concurrent use.
type Mux struct {
	mu        sync.RWMutex
	jobs      map[string]*jobStream
	watermark int
	log       *zerolog.Logger
}

type jobStream struct {
	mu        sync.Mutex
	cond      *sync.Cond
	chunks    []model.Chunk // seq == slice index
	lastPush  time.Time     // zero until the first chunk arrives
	finalized bool          // a final chunk has been pushed
	aborted   bool          // closed without a final chunk
	subs      map[string]*subscriber
}

type subscriber struct {
	id   string
	ch   chan model.Chunk
	next uint64 // next seq to deliver
	done chan struct{}

	errMu sync.Mutex
	err   error
}

// NewMux returns a multiplexer with the given per-subscriber watermark.
func NewMux(watermark int, logger *zerolog.Logger) *Mux {
	if watermark <= 0 {
		watermark = 64
	}
	l := logger.With().Str("component", "StreamMux").Logger()
	return &Mux{
		jobs:      make(map[string]*jobStream),
		watermark: watermark,
		log:       &l,
	}
}

// Open admits a job for streaming. Idempotent; called by the registry on
// job creation so Push can distinguish unknown jobs from empty ones.
func (m *Mux) Open(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; ok {
		return
	}
	js := &jobStream{subs: make(map[string]*subscriber)}
	js.cond = sync.NewCond(&js.mu)
	m.jobs[jobID] = js
}

// Push appends one chunk to the job's stream and wakes subscribers.
// It returns the assigned sequence number. Only the job's producer may
// call Push; it never blocks on slow subscribers.
func (m *Mux) Push(jobID string, payload []byte, final bool) (uint64, error) {
	m.mu.RLock()
	js, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return 0, domain.ErrUnknownJob
	}

	js.mu.Lock()
	if js.finalized {
		js.mu.Unlock()
		return 0, domain.ErrAlreadyFinalized
	}
	if js.aborted {
		js.mu.Unlock()
		return 0, domain.ErrStreamClosed
	}
	seq := uint64(len(js.chunks))
	js.chunks = append(js.chunks, model.Chunk{JobID: jobID, Seq: seq, Payload: payload, Final: final})
	js.lastPush = time.Now()
	if final {
		js.finalized = true
	}
	// Enforce the watermark before waking anyone: a subscriber that has
	// fallen more than watermark chunks behind loses its slot, not the
	// stream.
	for _, sub := range js.subs {
		if seq+1-sub.next > uint64(m.watermark) {
			m.dropLocked(js, sub, domain.ErrSlowConsumer)
		}
	}
	js.cond.Broadcast()
	js.mu.Unlock()

	metrics.IncChunkPushed()
	return seq, nil
}

// Subscribe registers a live fan-out target delivering chunks in sequence
// order starting at fromSeq.
func (m *Mux) Subscribe(jobID, subscriberID string, fromSeq uint64) (adapter.StreamSubscription, error) {
	m.mu.RLock()
	js, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownJob
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	if _, exists := js.subs[subscriberID]; exists {
		return nil, domain.ErrSubscriberExists
	}
	// A stream that ended before this subscriber arrived still replays:
	// future subscribers of a finalized job observe the full sequence then
	// closure. Only a fully aborted-and-consumed position short-circuits.
	sub := &subscriber{
		id:   subscriberID,
		ch:   make(chan model.Chunk, m.watermark),
		next: fromSeq,
		done: make(chan struct{}),
	}
	js.subs[subscriberID] = sub
	metrics.IncSubscribers()

	h := &handle{mux: m, jobID: jobID, sub: sub}
	go m.pump(js, sub)
	return h, nil
}

// Unsubscribe deregisters a subscriber. Safe to call for unknown ids.
func (m *Mux) Unsubscribe(jobID, subscriberID string) {
	m.mu.RLock()
	js, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	js.mu.Lock()
	if sub, exists := js.subs[subscriberID]; exists {
		m.dropLocked(js, sub, nil)
		js.cond.Broadcast()
	}
	js.mu.Unlock()
}

// Abort closes a job's stream without a final chunk (failure or honored
// cancellation). Chunks already delivered are not retracted; subscribers
// that have drained the retained sequence observe closure.
func (m *Mux) Abort(jobID string) {
	m.mu.RLock()
	js, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	js.mu.Lock()
	js.aborted = true
	js.cond.Broadcast()
	js.mu.Unlock()
}

// Remove evicts the job's stream entirely, discarding retained chunks.
// Called by the retention sweeper once the job record is gone.
func (m *Mux) Remove(jobID string) {
	m.mu.Lock()
	js, ok := m.jobs[jobID]
	if ok {
		delete(m.jobs, jobID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	js.mu.Lock()
	js.aborted = true
	for _, sub := range js.subs {
		m.dropLocked(js, sub, domain.ErrStreamClosed)
	}
	js.cond.Broadcast()
	js.mu.Unlock()
}

// LastActivity reports when the job's stream last accepted a chunk.
// ok is false for unknown jobs and for jobs that never pushed.
func (m *Mux) LastActivity(jobID string) (time.Time, bool) {
	m.mu.RLock()
	js, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.lastPush.IsZero() {
		return time.Time{}, false
	}
	return js.lastPush, true
}

// Finalized reports whether a final chunk was pushed for the job.
func (m *Mux) Finalized(jobID string) bool {
	m.mu.RLock()
	js, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.finalized
}

// dropLocked removes a subscriber; js.mu must be held.
func (m *Mux) dropLocked(js *jobStream, sub *subscriber, reason error) {
	if _, exists := js.subs[sub.id]; !exists {
		return
	}
	delete(js.subs, sub.id)
	sub.errMu.Lock()
	sub.err = reason
	sub.errMu.Unlock()
	close(sub.done)
	metrics.DecSubscribers()
	if reason == domain.ErrSlowConsumer {
		metrics.IncSlowConsumerDrop()
		m.log.Warn().Str("subscriber_id", sub.id).Msg("slow consumer dropped")
	}
}

// pump delivers retained chunks to one subscriber in order, blocking on
// the subscriber's channel (its credit) until dropped or the stream ends.
func (m *Mux) pump(js *jobStream, sub *subscriber) {
	defer close(sub.ch)
	for {
		js.mu.Lock()
		for int(sub.next) >= len(js.chunks) && !js.finalized && !js.aborted && !dropped(sub) {
			js.cond.Wait()
		}
		if dropped(sub) {
			js.mu.Unlock()
			return
		}
		if int(sub.next) >= len(js.chunks) {
			// Drained and the stream ended.
			js.mu.Unlock()
			return
		}
		c := js.chunks[sub.next]
		sub.next++
		js.mu.Unlock()

		select {
		case sub.ch <- c:
			metrics.IncChunkDelivered()
		case <-sub.done:
			return
		}
		if c.Final {
			return
		}
	}
}

func dropped(sub *subscriber) bool {
	select {
	case <-sub.done:
		return true
	default:
		return false
	}
}

// handle adapts a subscriber to the adapter.StreamSubscription port.
type handle struct {
	mux   *Mux
	jobID string
	sub   *subscriber
}

func (h *handle) Chunks() <-chan model.Chunk { return h.sub.ch }

func (h *handle) Err() error {
	h.sub.errMu.Lock()
	defer h.sub.errMu.Unlock()
	return h.sub.err
}

func (h *handle) Unsubscribe() {
	h.mux.Unsubscribe(h.jobID, h.sub.id)
}
