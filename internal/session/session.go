package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	wire "qatmarket/pkg/domain"
)

// Session is one live connection of a user.
type Session struct {
	ID          string
	UserID      uuid.UUID
	ConnectedAt time.Time

	transport Transport
	queue     chan wire.OutboundEvent
	quit      chan struct{}
	draining  chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
	drainOnce sync.Once
	dropped   atomic.Int64

	seqMu   sync.Mutex
	lastSeq int64
}

type enqueueResult int

const (
	queued enqueueResult = iota
	queueFull
	staleSeq
	closedSession
)

func newSession(userID uuid.UUID, t Transport, buffer int) *Session {
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		transport:   t,
		queue:       make(chan wire.OutboundEvent, buffer),
		quit:        make(chan struct{}),
		draining:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// enqueue refuses events at or below the last queued seq. Those are repeats,
// or late arrivals from another delivery path, and stay available through
// the unread pull.
func (s *Session) enqueue(ev wire.OutboundEvent) enqueueResult {
	select {
	case <-s.quit:
		return closedSession
	default:
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if ev.Seq > 0 && ev.Seq <= s.lastSeq {
		return staleSeq
	}
	select {
	case s.queue <- ev:
		if ev.Seq > 0 {
			s.lastSeq = ev.Seq
		}
		return queued
	default:
		s.dropped.Add(1)
		return queueFull
	}
}

// Dropped is the number of pushes lost to a full queue.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

func (s *Session) stop()  { s.quitOnce.Do(func() { close(s.quit) }) }
func (s *Session) drain() { s.drainOnce.Do(func() { close(s.draining) }) }

// Done is closed when the writer has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// writeLoop is the only caller of transport.Send, which keeps per-session
// delivery in queue order.
func (s *Session) writeLoop(m *Manager) {
	defer close(s.done)
	for {
		select {
		case ev := <-s.queue:
			if !s.send(m, ev) {
				return
			}
		case <-s.draining:
			for {
				select {
				case ev := <-s.queue:
					if !s.send(m, ev) {
						return
					}
				default:
					return
				}
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Session) send(m *Manager, ev wire.OutboundEvent) bool {
	if err := s.transport.Send(ev); err != nil {
		m.logger.Warn("Push write failed, closing session", map[string]interface{}{
			"session_id": s.ID,
			"user_id":    s.UserID,
			"error":      err.Error(),
		})
		// Closing the transport also ends the connection's reader.
		_ = s.transport.Close(websocket.CloseInternalServerErr, "write failed")
		go m.OnDisconnect(s.ID)
		return false
	}
	return true
}
