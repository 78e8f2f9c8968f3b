package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/adapter"
	"rfp-stream-core/internal/domain/ports/repository"
	ucports "rfp-stream-core/internal/domain/ports/usecase"
	"rfp-stream-core/internal/infra/logging"
)

// Conn is the transport-level connection the gateway adapts. The wire
// protocol behind it is not this core's concern; implementations wrap
// whatever the connection layer speaks.
type Conn interface {
	ID() string
	Send(ctx context.Context, chunk model.Chunk) error
	// Close ends the connection; err is nil for normal stream closure,
	// ErrSlowConsumer when the subscriber was dropped.
	Close(err error)
}

// GatewayUseCase binds transport connections to chunk subscriptions.
// Detaching (disconnect, explicit close, idle timeout) tears down only
// the subscription; the job keeps running. Only RequestCancel touches
// the registry.
type GatewayUseCase struct {
	fanout adapter.StreamFanout
	reg    ucports.JobRegistry
	acks   repository.AckStore
	idle   time.Duration
	log    *zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session // conn id -> session
}

type session struct {
	conn Conn
	sub  adapter.StreamSubscription
	info model.Subscription
	done chan struct{}
}

func NewGatewayUseCase(
	fanout adapter.StreamFanout,
	reg ucports.JobRegistry,
	acks repository.AckStore,
	idleTimeout time.Duration,
	logger *zerolog.Logger,
) *GatewayUseCase {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	l := logger.With().Str("component", "SessionGateway").Logger()
	return &GatewayUseCase{
		fanout:   fanout,
		reg:      reg,
		acks:     acks,
		idle:     idleTimeout,
		log:      &l,
		sessions: make(map[string]*session),
	}
}

// Attach binds a connection to a job's chunk stream starting at fromSeq.
// Pass fromSeq < 0 to resume from the connection's last acknowledged
// sequence (reconnect-and-resume).
func (g *GatewayUseCase) Attach(ctx context.Context, conn Conn, jobID string, fromSeq int64) error {
	if fromSeq < 0 {
		last, err := g.acks.LastAcked(ctx, jobID, conn.ID())
		if err != nil {
			return err
		}
		fromSeq = last + 1
	}

	sub, err := g.fanout.Subscribe(jobID, conn.ID(), uint64(fromSeq))
	if err != nil {
		return err
	}

	s := &session{
		conn: conn,
		sub:  sub,
		info: model.Subscription{
			SubscriberID: conn.ID(),
			JobID:        jobID,
			LastAckedSeq: fromSeq - 1,
			Credit:       cap(sub.Chunks()),
		},
		done: make(chan struct{}),
	}
	g.mu.Lock()
	if _, dup := g.sessions[conn.ID()]; dup {
		g.mu.Unlock()
		sub.Unsubscribe()
		return domain.ErrSubscriberExists
	}
	g.sessions[conn.ID()] = s
	g.mu.Unlock()

	go g.run(s)
	g.log.Debug().Str("job_id", jobID).Str("subscriber_id", conn.ID()).Int64("from_seq", fromSeq).Msg("session attached")
	return nil
}

// run pumps chunks to the connection until the stream closes, the
// session detaches, or the connection goes idle.
func (g *GatewayUseCase) run(s *session) {
	base := logging.WithSubscriberID(logging.WithJobID(context.Background(), s.info.JobID), s.conn.ID())
	idle := time.NewTimer(g.idle)
	defer idle.Stop()

	for {
		select {
		case c, ok := <-s.sub.Chunks():
			if !ok {
				// Stream over: normal closure or SlowConsumer drop.
				g.remove(s.conn.ID())
				s.conn.Close(s.sub.Err())
				return
			}
			ctx, cancel := context.WithTimeout(base, 30*time.Second)
			err := s.conn.Send(ctx, c)
			cancel()
			if err != nil {
				// Network failure is a detach, never a cancel.
				logging.With(base, g.log).Debug().Err(err).Msg("send failed; detaching")
				g.Detach(s.conn.ID())
				return
			}
			_ = g.acks.SetLastAcked(base, s.info.JobID, s.conn.ID(), c.Seq)
			g.mu.Lock()
			s.info.LastAckedSeq = int64(c.Seq)
			g.mu.Unlock()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(g.idle)
		case <-idle.C:
			logging.With(base, g.log).Debug().Msg("idle timeout; detaching")
			g.Detach(s.conn.ID())
			return
		case <-s.done:
			return
		}
	}
}

// Detach tears down the subscription without affecting the job. The ack
// cursor survives so the client can reconnect and resume.
func (g *GatewayUseCase) Detach(connID string) {
	s := g.remove(connID)
	if s == nil {
		return
	}
	close(s.done)
	s.sub.Unsubscribe()
	s.conn.Close(nil)
	g.log.Debug().Str("subscriber_id", connID).Msg("session detached")
}

// RequestCancel is an explicit client cancellation: it detaches the
// session and asks the registry to cancel the job.
func (g *GatewayUseCase) RequestCancel(ctx context.Context, connID string) error {
	g.mu.Lock()
	s, ok := g.sessions[connID]
	g.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	jobID := s.info.JobID
	g.Detach(connID)
	return g.reg.Cancel(ctx, jobID)
}

// Sessions snapshots the live subscriptions, for the operational API.
func (g *GatewayUseCase) Sessions() []model.Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Subscription, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s.info)
	}
	return out
}

func (g *GatewayUseCase) remove(connID string) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.sessions[connID]
	delete(g.sessions, connID)
	return s
}
