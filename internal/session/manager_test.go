package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/logger"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      []string
	gate      chan struct{}
	closeCode int
	closed    bool
	failSend  error
}

func (t *fakeTransport) Send(ev wire.OutboundEvent) error {
	if t.gate != nil {
		<-t.gate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSend != nil {
		return t.failSend
	}
	t.sent = append(t.sent, ev.ID)
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeCode = code
	return nil
}

func (t *fakeTransport) ids() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func event(i int) wire.OutboundEvent {
	return wire.OutboundEvent{ID: "ev-" + strconv.Itoa(i), Type: "wallet_updated"}
}

func TestManager_PushFansOutInOrder(t *testing.T) {
	m := NewManager(16, logger.NewNop())
	user, other := uuid.New(), uuid.New()

	a, b, c := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	_, err := m.OnConnect(user, a)
	require.NoError(t, err)
	_, err = m.OnConnect(user, b)
	require.NoError(t, err)
	_, err = m.OnConnect(other, c)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count(user))

	for i := 0; i < 5; i++ {
		assert.Equal(t, 2, m.Push(user, event(i)))
	}

	want := []string{"ev-0", "ev-1", "ev-2", "ev-3", "ev-4"}
	require.Eventually(t, func() bool { return len(a.ids()) == 5 && len(b.ids()) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a.ids())
	assert.Equal(t, want, b.ids())
	assert.Empty(t, c.ids())
}

func TestManager_PushWithoutSessions(t *testing.T) {
	m := NewManager(4, logger.NewNop())
	assert.Zero(t, m.Push(uuid.New(), event(1)))
}

func TestManager_FullQueueDrops(t *testing.T) {
	m := NewManager(2, logger.NewNop())
	user := uuid.New()
	tr := &fakeTransport{gate: make(chan struct{})}
	s, err := m.OnConnect(user, tr)
	require.NoError(t, err)

	// The writer holds one event at the gate; two more fill the queue.
	accepted := 0
	for i := 0; i < 6; i++ {
		accepted += m.Push(user, event(i))
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 3, accepted)
	assert.EqualValues(t, 3, s.Dropped())

	close(tr.gate)
	require.Eventually(t, func() bool { return len(tr.ids()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ev-0", "ev-1", "ev-2"}, tr.ids())
}

func TestManager_OnDisconnect(t *testing.T) {
	m := NewManager(4, logger.NewNop())
	user := uuid.New()
	s, err := m.OnConnect(user, &fakeTransport{})
	require.NoError(t, err)

	m.OnDisconnect(s.ID)
	m.OnDisconnect(s.ID)
	assert.Zero(t, m.Count(user))
	assert.Zero(t, m.Push(user, event(1)))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("writer did not stop")
	}
}

func TestManager_SendFailureUnregisters(t *testing.T) {
	m := NewManager(4, logger.NewNop())
	user := uuid.New()
	tr := &fakeTransport{failSend: assert.AnError}
	_, err := m.OnConnect(user, tr)
	require.NoError(t, err)

	m.Push(user, event(1))
	require.Eventually(t, func() bool { return m.Count(user) == 0 }, 2*time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.True(t, tr.closed)
	assert.Equal(t, websocket.CloseInternalServerErr, tr.closeCode)
}

func TestManager_SkipsRepeatedAndStaleSeq(t *testing.T) {
	m := NewManager(8, logger.NewNop())
	user := uuid.New()
	tr := &fakeTransport{}
	_, err := m.OnConnect(user, tr)
	require.NoError(t, err)

	seqEvent := func(seq int64) wire.OutboundEvent {
		ev := event(int(seq))
		ev.Seq = seq
		return ev
	}
	assert.Equal(t, 1, m.Push(user, seqEvent(3)))
	assert.Zero(t, m.Push(user, seqEvent(3)))
	assert.Zero(t, m.Push(user, seqEvent(2)))
	assert.Equal(t, 1, m.Push(user, seqEvent(5)))
	assert.Equal(t, 1, m.Push(user, event(9)))

	require.Eventually(t, func() bool { return len(tr.ids()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ev-3", "ev-5", "ev-9"}, tr.ids())
}

func TestManager_ShutdownDrainsThenCloses(t *testing.T) {
	m := NewManager(8, logger.NewNop())
	user := uuid.New()
	tr := &fakeTransport{gate: make(chan struct{})}
	_, err := m.OnConnect(user, tr)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		m.Push(user, event(i))
	}

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()
	close(tr.gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	assert.Len(t, tr.ids(), 4)
	assert.True(t, tr.closed)
	assert.Equal(t, websocket.CloseServiceRestart, tr.closeCode)
	assert.Zero(t, m.Total())

	_, err = m.OnConnect(user, &fakeTransport{})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_ShutdownHonoursDeadline(t *testing.T) {
	m := NewManager(8, logger.NewNop())
	tr := &fakeTransport{gate: make(chan struct{})}
	user := uuid.New()
	_, err := m.OnConnect(user, tr)
	require.NoError(t, err)
	m.Push(user, event(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
	assert.True(t, tr.closed)
	close(tr.gate)
}
