// Package session tracks live push connections on the server and drives
// reconnection on the client.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"qatmarket/internal/metrics"
	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

var ErrShuttingDown = errors.New("session manager is shutting down")

// Transport is one client connection. Send is only ever called from the
// session's writer goroutine.
type Transport interface {
	Send(ev wire.OutboundEvent) error
	Close(code int, reason string) error
}

type Manager struct {
	buffer int
	logger logger.Logger

	mu       sync.RWMutex
	byUser   map[uuid.UUID]map[string]*Session
	byID     map[string]*Session
	shutdown bool
}

func NewManager(sendBuffer int, log logger.Logger) *Manager {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Manager{
		buffer: sendBuffer,
		logger: log,
		byUser: make(map[uuid.UUID]map[string]*Session),
		byID:   make(map[string]*Session),
	}
}

// OnConnect registers an authenticated connection and starts its writer.
func (m *Manager) OnConnect(userID uuid.UUID, t Transport) (*Session, error) {
	s := newSession(userID, t, m.buffer)

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Session)
	}
	m.byUser[userID][s.ID] = s
	m.byID[s.ID] = s
	m.mu.Unlock()

	metrics.SessionOpened()
	go s.writeLoop(m)

	m.logger.Info("Session connected", map[string]interface{}{
		"session_id": s.ID,
		"user_id":    userID,
	})
	return s, nil
}

// OnDisconnect forgets the session and stops its writer. Unknown ids are ignored.
func (m *Manager) OnDisconnect(id string) {
	s := m.remove(id)
	if s == nil {
		return
	}
	s.stop()
	m.logger.Info("Session disconnected", map[string]interface{}{
		"session_id": id,
		"user_id":    s.UserID,
		"dropped":    s.Dropped(),
	})
}

func (m *Manager) remove(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return nil
	}
	delete(m.byID, id)
	if set := m.byUser[s.UserID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
	metrics.SessionClosed()
	return s
}

func (m *Manager) snapshot(userID uuid.UUID) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byUser[userID]
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Push queues ev on every live session of userID and returns how many
// accepted it. The registry lock is released before any queue is touched.
func (m *Manager) Push(userID uuid.UUID, ev wire.OutboundEvent) int {
	accepted := 0
	for _, s := range m.snapshot(userID) {
		switch s.enqueue(ev) {
		case queued:
			accepted++
		case staleSeq:
			metrics.RecordDrop("stale_seq")
			m.logger.Debug("Skipping push at or below delivered seq", map[string]interface{}{
				"session_id": s.ID,
				"event_id":   ev.ID,
				"seq":        ev.Seq,
			})
		case queueFull:
			metrics.RecordDrop("session_queue")
			m.logger.Warn("Session queue full, dropping push", map[string]interface{}{
				"session_id": s.ID,
				"user_id":    userID,
				"event_id":   ev.ID,
			})
		}
	}
	return accepted
}

// Count returns the live sessions for userID.
func (m *Manager) Count(userID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

func (m *Manager) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Shutdown refuses new sessions, lets every writer flush what is already
// queued and then closes each transport with the service restart code so
// clients reconnect immediately.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	all := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.drain()
	}

	var firstErr error
	for _, s := range all {
		select {
		case <-s.done:
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
		s.stop()
		if err := s.transport.Close(websocket.CloseServiceRestart, "server restart"); err != nil {
			m.logger.Debug("Transport close failed", map[string]interface{}{"session_id": s.ID, "error": err.Error()})
		}
		m.remove(s.ID)
	}

	m.logger.Info("Session manager stopped", map[string]interface{}{"sessions": len(all)})
	return firstErr
}
