package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qatmarket/pkg/errors"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	p := BackoffPolicy{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.5}

	tests := []struct {
		attempt int
		rnd     float64
		want    time.Duration
	}{
		{0, 0, 0},
		{1, 0, 100 * time.Millisecond},
		{2, 0, 200 * time.Millisecond},
		{3, 0, 400 * time.Millisecond},
		{4, 0, 800 * time.Millisecond},
		{5, 0, time.Second},
		{60, 0, time.Second},
		{1, 0.5, 75 * time.Millisecond},
		{5, 0.5, 750 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt, tt.rnd), "attempt %d rnd %v", tt.attempt, tt.rnd)
	}

	for attempt := 1; attempt < 20; attempt++ {
		d := p.Delay(attempt, 0.999)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestMachine_Lifecycle(t *testing.T) {
	m := NewMachine(BackoffPolicy{Base: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 3}, nil)
	assert.Equal(t, StateDisconnected, m.State())

	step, err := m.Fire(EventDial)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, step.To)

	step, err = m.Fire(EventDialFailed)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, step.To)
	assert.Equal(t, 100*time.Millisecond, step.Delay)

	_, _ = m.Fire(EventDial)
	step, _ = m.Fire(EventDialFailed)
	assert.Equal(t, 200*time.Millisecond, step.Delay)

	_, _ = m.Fire(EventDial)
	step, _ = m.Fire(EventDialSucceeded)
	assert.Equal(t, StateConnected, step.To)
	assert.Zero(t, m.Failures())

	step, err = m.Fire(EventDropped)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, step.To)
	assert.Equal(t, 100*time.Millisecond, step.Delay)
}

func TestMachine_ServerCloseReconnectsImmediately(t *testing.T) {
	m := NewMachine(BackoffPolicy{Base: time.Second, Max: time.Minute}, nil)
	_, _ = m.Fire(EventDial)
	_, _ = m.Fire(EventDialSucceeded)

	step, err := m.Fire(EventServerClosed)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, step.To)
	assert.Zero(t, step.Delay)
}

func TestMachine_GoesOfflineAfterMaxAttempts(t *testing.T) {
	m := NewMachine(BackoffPolicy{Base: time.Millisecond, Max: time.Second, MaxAttempts: 2}, nil)
	_, _ = m.Fire(EventDial)
	_, _ = m.Fire(EventDialFailed)
	_, _ = m.Fire(EventDial)
	step, err := m.Fire(EventDialFailed)
	require.NoError(t, err)
	assert.Equal(t, StateOffline, step.To)

	_, err = m.Fire(EventDialFailed)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	step, err = m.Fire(EventDial)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, step.To)
	assert.Zero(t, m.Failures())
}

func TestMachine_RejectsInvalidEvents(t *testing.T) {
	m := NewMachine(DefaultBackoff(), nil)
	_, err := m.Fire(EventDialSucceeded)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	_, err = m.Fire(EventDropped)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Equal(t, StateDisconnected, m.State())
}
