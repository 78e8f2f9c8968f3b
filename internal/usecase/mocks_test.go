// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/repository"
)

// memJobRepo is a small in-memory implementation used by unit tests.
type memJobRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.Job
	saveErr error // used by tests to simulate save failures
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.Job)}
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job.UpdatedAt = time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) ListActive(ctx context.Context, tx repository.Tx, owner string) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.State.Terminal() {
			continue
		}
		if owner != "" && j.Owner != owner {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memJobRepo) CountActiveByOwner(ctx context.Context, tx repository.Tx, owner string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, j := range m.store {
		if j.Owner == owner && !j.State.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) ListIdleSince(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if !j.State.Terminal() && j.UpdatedAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobRepo) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, j := range m.store {
		if j.State.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.store, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// touch backdates a job's updated_at, for sweeper tests.
func (m *memJobRepo) touch(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.store[id]; ok {
		j.UpdatedAt = at
	}
}

// memEventLog is an in-memory append-only event log.
type memEventLog struct {
	mu     sync.RWMutex
	events []*model.Event
}

func newMemEventLog() *memEventLog { return &memEventLog{} }

func (m *memEventLog) Append(ctx context.Context, tx repository.Tx, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

func (m *memEventLog) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ev := range m.events {
		if ev.ID == id {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memEventLog) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Event
	for _, ev := range m.events {
		if ev.JobID == jobID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEventLog) IncAttempts(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ID == id {
			ev.Attempts++
		}
	}
	return nil
}

func (m *memEventLog) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// memTxManager runs the callback without a real transaction.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// captureBus records published events for assertions.
type captureBus struct {
	mu     sync.Mutex
	events []*model.Event
}

func (b *captureBus) Publish(ev *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *ev
	b.events = append(b.events, &cp)
}

func (b *captureBus) published() []*model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.Event, len(b.events))
	copy(out, b.events)
	return out
}

// memAckStore is an in-memory resume-cursor store.
type memAckStore struct {
	mu    sync.Mutex
	store map[string]int64
}

func newMemAckStore() *memAckStore { return &memAckStore{store: make(map[string]int64)} }

func (m *memAckStore) SetLastAcked(ctx context.Context, jobID, subscriberID string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[jobID+"/"+subscriberID] = int64(seq)
	return nil
}

func (m *memAckStore) LastAcked(ctx context.Context, jobID, subscriberID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.store[jobID+"/"+subscriberID]; ok {
		return v, nil
	}
	return -1, nil
}

func (m *memAckStore) Clear(ctx context.Context, jobID, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, jobID+"/"+subscriberID)
	return nil
}

// fakeConn is a transport connection capturing everything sent to it.
type fakeConn struct {
	id string

	mu       sync.Mutex
	received []model.Chunk
	closed   bool
	closeErr error
	sendErr  error
	notify   chan struct{} // signaled on every Send and on Close
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, notify: make(chan struct{}, 64)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, chunk model.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, chunk)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeErr = err
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *fakeConn) chunks() []model.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Chunk, len(c.received))
	copy(out, c.received)
	return out
}

func (c *fakeConn) isClosed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeErr
}
