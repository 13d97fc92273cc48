// ABOUTME: Connection lifecycle state machine for one messaging account
// ABOUTME: Serializes transport lifecycle events into phase transitions and pairing state

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Phase is the connection lifecycle phase
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseAwaitingPairing Phase = "awaiting_pairing"
	PhasePairingIssued   Phase = "pairing_issued"
	PhaseAuthenticating  Phase = "authenticating"
	PhaseReady           Phase = "ready"
	PhaseDisconnected    Phase = "disconnected"
	PhaseFailed          Phase = "failed"
)

// DefaultPairingExpiry is how long pairing material stays valid. The remote
// network rotates QR codes on roughly this cadence.
const DefaultPairingExpiry = 2 * time.Minute

// Connector is what the manager needs from the transport: establishing and
// tearing down the underlying connection. Both must be safe to call
// repeatedly.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect() error
}

// Status is a point-in-time read of the session, shaped for the status
// endpoint. Expired pairing material reads as absent.
type Status struct {
	Connected       bool   `json:"connected"`
	Connecting      bool   `json:"connecting"`
	PairingMaterial string `json:"pairingMaterial,omitempty"`
	PhoneNumber     string `json:"phoneNumber,omitempty"`
	Phase           string `json:"phase"`
}

// Manager owns the single connection lifecycle per account. All transitions
// go through the internal mutex; the gateway additionally delivers transport
// events from one dispatcher goroutine, so transitions are never reordered.
type Manager struct {
	mu              sync.Mutex
	phase           Phase
	pairingMaterial string
	phoneNumber     string
	lastTransition  time.Time

	// gen guards against a stale async connect attempt reporting failure
	// after a newer restart has already started over.
	gen int

	connector     Connector
	pairingExpiry time.Duration
	onReady       func()
	logger        *slog.Logger
}

// New creates a session manager in the Uninitialized phase. onReady is
// invoked once per transition into Ready (used to request a history
// backfill); pass nil if not needed.
func New(connector Connector, pairingExpiry time.Duration, onReady func(), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if pairingExpiry <= 0 {
		pairingExpiry = DefaultPairingExpiry
	}
	return &Manager{
		phase:         PhaseUninitialized,
		connector:     connector,
		pairingExpiry: pairingExpiry,
		onReady:       onReady,
		logger:        logger.With("component", "session"),
	}
}

// Start transitions Uninitialized -> AwaitingPairing and requests a
// transport connection. Calling Start in any other phase is a logged no-op;
// use Restart to start over.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.phase != PhaseUninitialized {
		m.logger.Warn("start ignored", "phase", m.phase)
		m.mu.Unlock()
		return
	}
	m.transitionLocked(PhaseAwaitingPairing)
	gen := m.gen
	m.mu.Unlock()

	go m.connect(ctx, gen)
}

// connect runs the (potentially long) transport connection attempt. A
// failure only moves the machine to Failed if no restart superseded this
// attempt in the meantime.
func (m *Manager) connect(ctx context.Context, gen int) {
	if err := m.connector.Connect(ctx); err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			m.logger.Debug("stale connect attempt failed after restart", "error", err)
			return
		}
		m.logger.Error("transport connect failed", "error", err)
		m.transitionLocked(PhaseFailed)
	}
}

// OnPairingMaterial stores freshly issued pairing material. Valid from
// AwaitingPairing, Disconnected, or PairingIssued (material refresh). The
// transport occasionally re-emits stale pairing events on a working
// session; those must not regress it, so anything else is a logged no-op.
func (m *Manager) OnPairingMaterial(material string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseAwaitingPairing, PhaseDisconnected, PhasePairingIssued:
		m.pairingMaterial = material
		m.transitionLocked(PhasePairingIssued)
	default:
		m.logger.Warn("pairing material ignored", "phase", m.phase)
	}
}

// OnPairingConsumed handles the remote party scanning the code:
// PairingIssued -> Authenticating.
func (m *Manager) OnPairingConsumed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhasePairingIssued {
		m.logger.Warn("pairing consumed ignored", "phase", m.phase)
		return
	}
	m.pairingMaterial = ""
	m.transitionLocked(PhaseAuthenticating)
}

// OnReady transitions any started, non-Ready phase to Ready and fires the
// backfill hook. Ready while Uninitialized is illegal (no Start happened)
// and duplicate ready events are no-ops.
func (m *Manager) OnReady(phoneNumber string) {
	m.mu.Lock()

	if m.phase == PhaseUninitialized {
		m.logger.Warn("ready ignored before start")
		m.mu.Unlock()
		return
	}
	if m.phase == PhaseReady {
		m.logger.Debug("duplicate ready event ignored")
		m.mu.Unlock()
		return
	}

	m.pairingMaterial = ""
	if phoneNumber != "" {
		m.phoneNumber = phoneNumber
	}
	m.transitionLocked(PhaseReady)
	hook := m.onReady
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// OnDisconnected transitions to Disconnected. There is no auto-restart:
// uncontrolled restart loops leak transport resources, so recovery is an
// explicit Restart.
func (m *Manager) OnDisconnected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseUninitialized:
		m.logger.Warn("disconnect ignored before start", "reason", reason)
		return
	case PhaseFailed:
		// Failed is sticky until restart
		return
	}
	m.logger.Info("transport disconnected", "reason", reason)
	m.pairingMaterial = ""
	m.transitionLocked(PhaseDisconnected)
}

// Fail records an unrecoverable transport error. Recoverable via Restart.
func (m *Manager) Fail(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Error("transport failure", "reason", reason)
	m.pairingMaterial = ""
	m.transitionLocked(PhaseFailed)
}

// Restart tears down the current connection and starts pairing over.
// Idempotent and safe from any phase, including mid-pairing.
func (m *Manager) Restart(ctx context.Context) {
	m.mu.Lock()
	m.pairingMaterial = ""
	m.phoneNumber = ""
	m.gen++
	gen := m.gen
	m.transitionLocked(PhaseAwaitingPairing)
	m.mu.Unlock()

	go func() {
		if err := m.connector.Disconnect(); err != nil {
			m.logger.Warn("teardown during restart", "error", err)
		}
		m.connect(ctx, gen)
	}()
}

// Status returns the session snapshot. Pairing material past its expiry
// window reads as absent even before the sweep demotes the phase.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	material := m.pairingMaterial
	if m.phase == PhasePairingIssued && time.Since(m.lastTransition) > m.pairingExpiry {
		material = ""
	}
	return Status{
		Connected:       m.phase == PhaseReady,
		Connecting:      m.phase == PhaseAuthenticating || m.phase == PhasePairingIssued,
		PairingMaterial: material,
		PhoneNumber:     m.phoneNumber,
		Phase:           string(m.phase),
	}
}

// Phase returns the current lifecycle phase
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Run sweeps expired pairing material until ctx is done, demoting
// PairingIssued back to AwaitingPairing so callers stop seeing a code the
// network no longer accepts.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pairingExpiry / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhasePairingIssued && time.Since(m.lastTransition) > m.pairingExpiry {
		m.logger.Info("pairing material expired")
		m.pairingMaterial = ""
		m.transitionLocked(PhaseAwaitingPairing)
	}
}

// transitionLocked records a phase change. Must be called with mu held.
func (m *Manager) transitionLocked(next Phase) {
	if next != m.phase {
		m.logger.Info("phase transition", "from", m.phase, "to", next)
	}
	m.phase = next
	m.lastTransition = time.Now()
}
