package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-otp-gateway/internal/telemetry"
)

const (
	// defaultProbeAfter is how long to wait in pending_ready before the soft recovery probe.
	defaultProbeAfter = 30 * time.Second
	// defaultCeiling bounds total time in a non-ready state after authentication.
	defaultCeiling = 120 * time.Second
	// stateProbeWait bounds watchdog and readiness queries of the engine's raw state.
	stateProbeWait = 5 * time.Second
	// recycleWait bounds a single destroy+connect cycle.
	recycleWait = 30 * time.Second
)

// Machine owns the session Client, tracks its lifecycle, and runs the watchdog
// that detects a stalled authenticated-but-not-ready session.
//
// All Connect/Destroy/Send/Refresh calls on the client go through the machine,
// which serializes them; the client is not safe for concurrent calls.
type Machine struct {
	client  Client
	emitter telemetry.EventEmitter

	probeAfter time.Duration
	ceiling    time.Duration

	// clientMu serializes mutating calls on the adapter. State queries do not
	// take it so the watchdog is never blocked behind a slow in-flight send.
	clientMu sync.Mutex

	mu          sync.Mutex
	state       State
	identity    string
	challenge   string
	lastReadyAt time.Time
	lastChange  time.Time
	reinitDone  bool
	recycling   bool
	timers      []*time.Timer

	stop chan struct{}
	done chan struct{}
}

// NewMachine returns a Machine supervising the given client. ceiling bounds the
// total time the watchdog allows in a non-ready state after authentication;
// zero means the 120s default. emitter may be nil.
func NewMachine(client Client, emitter telemetry.EventEmitter, ceiling time.Duration) *Machine {
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}
	return &Machine{
		client:     client,
		emitter:    emitter,
		probeAfter: defaultProbeAfter,
		ceiling:    ceiling,
		state:      StateUninitialized,
		lastChange: time.Now().UTC(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins consuming client events and initiates the first connect.
// A connect failure is returned but the machine keeps running; the operator
// can drive a restart later.
func (m *Machine) Start(ctx context.Context) error {
	go m.run()
	m.setState(StateAuthenticating, "connect")

	m.clientMu.Lock()
	err := m.client.Connect(ctx)
	m.clientMu.Unlock()
	if err != nil {
		m.setState(StateDisconnected, "connect failed")
		return err
	}
	return nil
}

// Stop halts the event loop and destroys the client session. Safe to call once.
func (m *Machine) Stop(ctx context.Context) {
	close(m.stop)
	<-m.done

	m.mu.Lock()
	m.cancelTimersLocked()
	m.mu.Unlock()

	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if err := m.client.Destroy(ctx); err != nil {
		log.Printf("session: destroy on stop: %v", err)
	}
}

// Snapshot returns a read-only copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:             m.state,
		Identity:          m.identity,
		Challenge:         m.challenge,
		LastReadyAt:       m.lastReadyAt,
		LastStateChangeAt: m.lastChange,
	}
}

// IsReady reports whether the session can carry a send: either the machine saw
// the ready event, or identity is present and the engine's raw state is
// connected-equivalent. An ambiguous raw state (unknown, or a failed query)
// counts as connected because the engine's reporting is unreliable.
func (m *Machine) IsReady() bool {
	m.mu.Lock()
	state, identity := m.state, m.identity
	m.mu.Unlock()

	if state == StateReady {
		return true
	}
	if identity == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(context.Background(), stateProbeWait)
	defer cancel()
	raw, err := m.client.State(probeCtx)
	if err != nil {
		return true
	}
	return raw == RawConnected || raw == RawUnknown
}

// Send delivers text through the adapter, holding the adapter lock so at most
// one mutating adapter call is in flight process-wide.
func (m *Machine) Send(ctx context.Context, channelID, text string) (string, error) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	return m.client.Send(ctx, channelID, text)
}

// Recover attempts a lightweight page refresh and falls back to a full
// reconnect if the refresh itself fails. Used by the send pipeline between
// transient failures. The session is marked degraded while recovering; a
// successful refresh restores the prior state.
func (m *Machine) Recover(ctx context.Context) error {
	m.mu.Lock()
	prior := m.state
	m.mu.Unlock()
	m.setState(StateDegraded, "recovering")

	m.clientMu.Lock()
	defer m.clientMu.Unlock()

	if err := m.client.Refresh(ctx); err == nil {
		m.setState(prior, "refresh ok")
		return nil
	}
	if err := m.client.Connect(ctx); err != nil {
		m.setState(StateDisconnected, "recover reconnect failed")
		return err
	}
	m.setState(StateAuthenticating, "recover reconnect")
	return nil
}

// Restart drives destroy+connect in the background and returns once the cycle
// has been initiated. A second Restart while one is in progress is a no-op.
func (m *Machine) Restart(ctx context.Context) {
	m.mu.Lock()
	if m.recycling {
		m.mu.Unlock()
		log.Print("session: restart already in progress")
		return
	}
	m.recycling = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.recycling = false
			m.mu.Unlock()
		}()
		m.recycle("restart")
	}()
}

// ForceChallenge forces a fresh pairing challenge by recycling the session.
// No-op when the session is already authenticated.
func (m *Machine) ForceChallenge(ctx context.Context) {
	if m.Snapshot().Authenticated() {
		log.Print("session: force challenge ignored, already authenticated")
		return
	}
	m.Restart(ctx)
}

// recycle performs one synchronous destroy+connect cycle.
func (m *Machine) recycle(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), recycleWait)
	defer cancel()

	m.clientMu.Lock()
	defer m.clientMu.Unlock()

	if err := m.client.Destroy(ctx); err != nil {
		log.Printf("session: destroy (%s): %v", reason, err)
	}
	m.setState(StateAuthenticating, reason)
	if err := m.client.Connect(ctx); err != nil {
		log.Printf("session: connect (%s): %v", reason, err)
		m.setState(StateDisconnected, reason+" connect failed")
	}
}

func (m *Machine) run() {
	defer close(m.done)
	events := m.client.Events()
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Machine) handleEvent(ev Event) {
	switch ev.Kind {
	case EventChallenge:
		m.mu.Lock()
		m.challenge = ev.Challenge
		if m.state == StateUninitialized || m.state == StateDisconnected {
			m.transitionLocked(StateAuthenticating, "challenge")
		}
		m.mu.Unlock()

	case EventAuthenticated:
		m.mu.Lock()
		m.challenge = ""
		m.transitionLocked(StatePendingReady, "authenticated")
		m.armWatchdogLocked()
		m.mu.Unlock()

	case EventReady:
		m.mu.Lock()
		m.identity = ev.Identity
		m.challenge = ""
		m.lastReadyAt = time.Now().UTC()
		m.reinitDone = false
		m.cancelTimersLocked()
		m.transitionLocked(StateReady, "ready")
		m.mu.Unlock()

	case EventDisconnected:
		m.mu.Lock()
		m.identity = ""
		m.cancelTimersLocked()
		m.transitionLocked(StateDisconnected, ev.Reason)
		m.mu.Unlock()
	}
}

// armWatchdogLocked schedules the pending-ready probe and the two escalation
// stages. Caller holds m.mu.
func (m *Machine) armWatchdogLocked() {
	m.cancelTimersLocked()
	m.timers = []*time.Timer{
		time.AfterFunc(m.probeAfter, m.watchdogProbe),
		time.AfterFunc(m.ceiling/2, m.watchdogRefresh),
		time.AfterFunc(m.ceiling, m.watchdogReinit),
	}
}

// watchdogProbe re-queries the engine's raw state and promotes to ready when the
// engine reports connected but the ready event was lost.
func (m *Machine) watchdogProbe() {
	if !m.pending() {
		return
	}
	probeCtx, cancel := context.WithTimeout(context.Background(), stateProbeWait)
	defer cancel()
	raw, err := m.client.State(probeCtx)
	if err != nil || raw != RawConnected {
		return
	}
	m.mu.Lock()
	if m.state == StatePendingReady {
		m.lastReadyAt = time.Now().UTC()
		m.cancelTimersLocked()
		m.transitionLocked(StateReady, "probe promoted")
	}
	m.mu.Unlock()
}

// watchdogRefresh fires at 50% of the ceiling: a page-level refresh recovery.
func (m *Machine) watchdogRefresh() {
	if !m.pending() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recycleWait)
	defer cancel()
	m.clientMu.Lock()
	err := m.client.Refresh(ctx)
	m.clientMu.Unlock()
	if err != nil {
		log.Printf("session: watchdog refresh: %v", err)
	}
}

// watchdogReinit fires at 100% of the ceiling: one full destroy+connect cycle,
// exactly once per authentication; afterwards the session is left for the operator.
func (m *Machine) watchdogReinit() {
	if !m.pending() {
		return
	}
	m.mu.Lock()
	if m.reinitDone {
		m.mu.Unlock()
		log.Print("session: watchdog exhausted, waiting for operator")
		return
	}
	m.reinitDone = true
	m.mu.Unlock()
	m.recycle("watchdog reinit")
}

// pending reports whether the session is still authenticated-but-not-ready.
// Checked immediately before each watchdog escalation so a session that became
// ready is never disturbed.
func (m *Machine) pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StatePendingReady
}

func (m *Machine) setState(s State, reason string) {
	m.mu.Lock()
	m.transitionLocked(s, reason)
	m.mu.Unlock()
}

// transitionLocked records the state change and emits the transition event.
// Caller holds m.mu.
func (m *Machine) transitionLocked(s State, reason string) {
	if m.state == s {
		return
	}
	m.state = s
	m.lastChange = time.Now().UTC()
	telemetry.EmitAsync(m.emitter, context.Background(), &telemetry.Event{
		ID:        uuid.New().String(),
		EventType: telemetry.EventSessionState,
		Source:    "session",
		State:     string(s),
		Detail:    reason,
		CreatedAt: m.lastChange,
	})
}

func (m *Machine) cancelTimersLocked() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}
