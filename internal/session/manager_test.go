// ABOUTME: Tests for the session lifecycle state machine
// ABOUTME: Replays transport event sequences and checks phase folding, expiry, restart idempotence

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConnector records connect/disconnect calls
type fakeConnector struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	connectErr  error
}

func (f *fakeConnector) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeConnector) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeConnector) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func newTestManager(t *testing.T, expiry time.Duration) (*Manager, *fakeConnector) {
	t.Helper()
	conn := &fakeConnector{}
	return New(conn, expiry, nil, nil), conn
}

func waitForPhase(t *testing.T, m *Manager, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Phase() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase never reached %s, still %s", want, m.Phase())
}

func TestManager_HappyPathLifecycle(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	assert.Equal(t, PhaseUninitialized, m.Phase())

	m.Start(ctx)
	assert.Equal(t, PhaseAwaitingPairing, m.Phase())

	m.OnPairingMaterial("qr-data-1")
	assert.Equal(t, PhasePairingIssued, m.Phase())
	assert.Equal(t, "qr-data-1", m.Status().PairingMaterial)

	// Material refresh stays in PairingIssued
	m.OnPairingMaterial("qr-data-2")
	assert.Equal(t, PhasePairingIssued, m.Phase())
	assert.Equal(t, "qr-data-2", m.Status().PairingMaterial)

	m.OnPairingConsumed()
	assert.Equal(t, PhaseAuthenticating, m.Phase())
	assert.Empty(t, m.Status().PairingMaterial)
	assert.True(t, m.Status().Connecting)

	m.OnReady("966512345678")
	st := m.Status()
	assert.True(t, st.Connected)
	assert.False(t, st.Connecting)
	assert.Equal(t, "966512345678", st.PhoneNumber)

	m.OnDisconnected("network dropped")
	assert.Equal(t, PhaseDisconnected, m.Phase())
	assert.False(t, m.Status().Connected)
}

func TestManager_ReadyBeforeStartIsIllegal(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)

	m.OnReady("966512345678")
	assert.Equal(t, PhaseUninitialized, m.Phase())
	assert.False(t, m.Status().Connected)
}

func TestManager_StalePairingEventDoesNotRegressReadySession(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	m.Start(context.Background())
	m.OnReady("966512345678")

	m.OnPairingMaterial("stale-qr")
	assert.Equal(t, PhaseReady, m.Phase())
	assert.Empty(t, m.Status().PairingMaterial)
}

func TestManager_DuplicateReadyIsNoOp(t *testing.T) {
	var readyCalls atomic.Int32
	conn := &fakeConnector{}
	m := New(conn, time.Minute, func() { readyCalls.Add(1) }, nil)

	m.Start(context.Background())
	m.OnReady("966512345678")
	m.OnReady("966512345678")
	m.OnReady("966512345678")

	assert.Equal(t, PhaseReady, m.Phase())
	assert.Equal(t, int32(1), readyCalls.Load())
}

func TestManager_BackfillFiresPerReadyTransition(t *testing.T) {
	var readyCalls atomic.Int32
	conn := &fakeConnector{}
	m := New(conn, time.Minute, func() { readyCalls.Add(1) }, nil)

	m.Start(context.Background())
	m.OnReady("x")
	m.OnDisconnected("drop")
	m.OnReady("x")

	assert.Equal(t, int32(2), readyCalls.Load())
}

func TestManager_RestartFromAnyPhase(t *testing.T) {
	for _, setup := range []struct {
		name string
		prep func(m *Manager)
	}{
		{"uninitialized", func(m *Manager) {}},
		{"mid-pairing", func(m *Manager) {
			m.Start(context.Background())
			m.OnPairingMaterial("qr")
		}},
		{"ready", func(m *Manager) {
			m.Start(context.Background())
			m.OnReady("x")
		}},
		{"failed", func(m *Manager) {
			m.Start(context.Background())
			m.Fail("boom")
		}},
		{"disconnected", func(m *Manager) {
			m.Start(context.Background())
			m.OnReady("x")
			m.OnDisconnected("drop")
		}},
	} {
		t.Run(setup.name, func(t *testing.T) {
			m, conn := newTestManager(t, time.Minute)
			setup.prep(m)

			m.Restart(context.Background())
			assert.Equal(t, PhaseAwaitingPairing, m.Phase())
			assert.Empty(t, m.Status().PairingMaterial)

			waitForDisconnects(t, conn, 1)
		})
	}
}

func waitForDisconnects(t *testing.T, conn *fakeConnector, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, d := conn.counts(); d >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, d := conn.counts()
	t.Fatalf("disconnects = %d, want >= %d", d, want)
}

func TestManager_RestartIsIdempotent(t *testing.T) {
	m, conn := newTestManager(t, time.Minute)
	m.Start(context.Background())
	m.OnPairingMaterial("qr")

	m.Restart(context.Background())
	m.Restart(context.Background())

	assert.Equal(t, PhaseAwaitingPairing, m.Phase())
	waitForDisconnects(t, conn, 2)
	assert.Equal(t, PhaseAwaitingPairing, m.Phase())
}

func TestManager_ConnectFailureMovesToFailed(t *testing.T) {
	conn := &fakeConnector{connectErr: assert.AnError}
	m := New(conn, time.Minute, nil, nil)

	m.Start(context.Background())
	waitForPhase(t, m, PhaseFailed)

	// Failed is recoverable via restart
	conn.mu.Lock()
	conn.connectErr = nil
	conn.mu.Unlock()
	m.Restart(context.Background())
	assert.Equal(t, PhaseAwaitingPairing, m.Phase())
}

func TestManager_ExpiredPairingMaterialReadsAsAbsent(t *testing.T) {
	m, _ := newTestManager(t, 30*time.Millisecond)
	m.Start(context.Background())
	m.OnPairingMaterial("qr")

	require.Equal(t, "qr", m.Status().PairingMaterial)

	time.Sleep(50 * time.Millisecond)

	// No event fired, but callers must not see expired material
	st := m.Status()
	assert.Empty(t, st.PairingMaterial)
	assert.Equal(t, PhasePairingIssued, m.Phase())
}

func TestManager_SweepDemotesExpiredPairing(t *testing.T) {
	m, _ := newTestManager(t, 20*time.Millisecond)
	m.Start(context.Background())
	m.OnPairingMaterial("qr")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitForPhase(t, m, PhaseAwaitingPairing)
	assert.Empty(t, m.Status().PairingMaterial)
}

func TestManager_EventReplayMatchesTransitionTable(t *testing.T) {
	// Fold a full event sequence and check the phase after each step,
	// including events the table rejects.
	m, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	steps := []struct {
		apply func()
		want  Phase
	}{
		{func() { m.OnPairingConsumed() }, PhaseUninitialized}, // illegal before start
		{func() { m.Start(ctx) }, PhaseAwaitingPairing},
		{func() { m.OnPairingConsumed() }, PhaseAwaitingPairing}, // no material yet
		{func() { m.OnPairingMaterial("a") }, PhasePairingIssued},
		{func() { m.OnPairingMaterial("b") }, PhasePairingIssued},
		{func() { m.OnPairingConsumed() }, PhaseAuthenticating},
		{func() { m.OnPairingMaterial("c") }, PhaseAuthenticating}, // stale event mid-auth
		{func() { m.OnReady("p") }, PhaseReady},
		{func() { m.OnPairingMaterial("d") }, PhaseReady}, // stale event on ready
		{func() { m.OnDisconnected("drop") }, PhaseDisconnected},
		{func() { m.OnReady("p") }, PhaseReady}, // reconnect without re-pairing
		{func() { m.Fail("fatal") }, PhaseFailed},
		{func() { m.OnDisconnected("late") }, PhaseFailed}, // failed is sticky
	}
	for i, step := range steps {
		step.apply()
		assert.Equal(t, step.want, m.Phase(), "step %d", i)
	}
}
