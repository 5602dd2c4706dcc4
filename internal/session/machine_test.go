package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu        sync.Mutex
	connects  int
	destroys  int
	refreshes int
	sends     int

	connectErr error
	refreshErr error
	stateFn    func() (RawState, error)
	sendFn     func(channelID, text string) (string, error)

	events chan Event
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:  make(chan Event, 16),
		stateFn: func() (RawState, error) { return RawUnknown, nil },
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeClient) Destroy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return nil
}

func (f *fakeClient) State(ctx context.Context) (RawState, error) {
	return f.stateFn()
}

func (f *fakeClient) Send(ctx context.Context, channelID, text string) (string, error) {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(channelID, text)
	}
	return "msg-1", nil
}

func (f *fakeClient) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeClient) Events() <-chan Event { return f.events }

func (f *fakeClient) counts() (connects, destroys, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.destroys, f.refreshes
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startMachine(t *testing.T, fc *fakeClient) *Machine {
	t.Helper()
	m := NewMachine(fc, nil, 0)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m
}

func TestMachine_EventDrivenTransitions(t *testing.T) {
	fc := newFakeClient()
	m := startMachine(t, fc)

	if got := m.Snapshot().State; got != StateAuthenticating {
		t.Fatalf("state after Start = %q, want %q", got, StateAuthenticating)
	}

	fc.events <- Event{Kind: EventChallenge, Challenge: "qr-payload"}
	waitFor(t, "challenge stored", func() bool { return m.Snapshot().Challenge == "qr-payload" })

	fc.events <- Event{Kind: EventAuthenticated}
	waitFor(t, "pending_ready", func() bool { return m.Snapshot().State == StatePendingReady })
	if c := m.Snapshot().Challenge; c != "" {
		t.Errorf("challenge after authenticated = %q, want cleared", c)
	}

	fc.events <- Event{Kind: EventReady, Identity: "acct:+1555"}
	waitFor(t, "ready", func() bool { return m.Snapshot().State == StateReady })
	snap := m.Snapshot()
	if snap.Identity != "acct:+1555" {
		t.Errorf("identity = %q, want %q", snap.Identity, "acct:+1555")
	}
	if snap.LastReadyAt.IsZero() {
		t.Error("LastReadyAt should be set after ready")
	}

	fc.events <- Event{Kind: EventDisconnected, Reason: "network"}
	waitFor(t, "disconnected", func() bool { return m.Snapshot().State == StateDisconnected })
	if id := m.Snapshot().Identity; id != "" {
		t.Errorf("identity after disconnect = %q, want cleared", id)
	}
}

func TestMachine_WatchdogProbePromotesToReady(t *testing.T) {
	fc := newFakeClient()
	fc.stateFn = func() (RawState, error) { return RawConnected, nil }
	m := NewMachine(fc, nil, time.Hour)
	m.probeAfter = 20 * time.Millisecond
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })

	fc.events <- Event{Kind: EventAuthenticated}
	waitFor(t, "probe promotion", func() bool { return m.Snapshot().State == StateReady })
}

func TestMachine_WatchdogEscalation(t *testing.T) {
	fc := newFakeClient()
	fc.stateFn = func() (RawState, error) { return RawDisconnected, nil }
	m := NewMachine(fc, nil, 120*time.Millisecond)
	m.probeAfter = 10 * time.Millisecond
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })

	connectsBefore, _, _ := fc.counts()

	fc.events <- Event{Kind: EventAuthenticated}

	// 50% of ceiling: page refresh.
	waitFor(t, "watchdog refresh", func() bool {
		_, _, refreshes := fc.counts()
		return refreshes >= 1
	})

	// 100% of ceiling: one destroy+connect cycle.
	waitFor(t, "watchdog reinit", func() bool {
		connects, destroys, _ := fc.counts()
		return destroys >= 1 && connects > connectsBefore
	})

	// The cycle happens exactly once even though the session never becomes ready.
	time.Sleep(200 * time.Millisecond)
	connects, destroys, _ := fc.counts()
	if destroys != 1 {
		t.Errorf("destroys = %d, want exactly 1", destroys)
	}
	if connects != connectsBefore+1 {
		t.Errorf("connects = %d, want %d", connects, connectsBefore+1)
	}
}

func TestMachine_WatchdogNoopWhenReadyFirst(t *testing.T) {
	fc := newFakeClient()
	m := NewMachine(fc, nil, 60*time.Millisecond)
	m.probeAfter = 20 * time.Millisecond
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })

	fc.events <- Event{Kind: EventAuthenticated}
	fc.events <- Event{Kind: EventReady, Identity: "acct"}
	waitFor(t, "ready", func() bool { return m.Snapshot().State == StateReady })

	time.Sleep(150 * time.Millisecond)
	_, destroys, refreshes := fc.counts()
	if destroys != 0 || refreshes != 0 {
		t.Errorf("watchdog acted after ready: destroys=%d refreshes=%d", destroys, refreshes)
	}
}

func TestMachine_IsReady(t *testing.T) {
	fc := newFakeClient()
	m := startMachine(t, fc)

	if m.IsReady() {
		t.Error("IsReady should be false before authentication")
	}

	fc.events <- Event{Kind: EventReady, Identity: "acct"}
	waitFor(t, "ready", func() bool { return m.Snapshot().State == StateReady })
	if !m.IsReady() {
		t.Error("IsReady should be true in ready state")
	}

	// Identity present but raw state ambiguous: tolerated as ready.
	fc.events <- Event{Kind: EventAuthenticated}
	waitFor(t, "pending_ready", func() bool { return m.Snapshot().State == StatePendingReady })
	fc.stateFn = func() (RawState, error) { return RawUnknown, nil }
	if !m.IsReady() {
		t.Error("IsReady should tolerate ambiguous raw state when identity is present")
	}

	fc.stateFn = func() (RawState, error) { return RawDisconnected, nil }
	if m.IsReady() {
		t.Error("IsReady should be false when engine reports disconnected")
	}

	fc.stateFn = func() (RawState, error) { return "", errors.New("probe failed") }
	if !m.IsReady() {
		t.Error("IsReady should tolerate a failed raw-state query when identity is present")
	}
}

func TestMachine_RestartIdempotent(t *testing.T) {
	fc := newFakeClient()
	m := startMachine(t, fc)
	connectsBefore, _, _ := fc.counts()

	m.Restart(context.Background())
	m.Restart(context.Background())

	waitFor(t, "restart cycle", func() bool {
		connects, destroys, _ := fc.counts()
		return destroys >= 1 && connects > connectsBefore
	})
	time.Sleep(100 * time.Millisecond)

	connects, destroys, _ := fc.counts()
	if destroys > 2 {
		t.Errorf("destroys = %d; two quick restarts must not pile up cycles", destroys)
	}
	if connects > connectsBefore+2 {
		t.Errorf("connects = %d, want at most %d", connects, connectsBefore+2)
	}
}

func TestMachine_ForceChallengeNoopWhenAuthenticated(t *testing.T) {
	fc := newFakeClient()
	m := startMachine(t, fc)

	fc.events <- Event{Kind: EventReady, Identity: "acct"}
	waitFor(t, "ready", func() bool { return m.Snapshot().State == StateReady })

	m.ForceChallenge(context.Background())
	time.Sleep(50 * time.Millisecond)
	_, destroys, _ := fc.counts()
	if destroys != 0 {
		t.Errorf("destroys = %d, want 0 (force challenge must be a no-op when authenticated)", destroys)
	}
}

func TestMachine_RecoverFallsBackToConnect(t *testing.T) {
	fc := newFakeClient()
	fc.refreshErr = errors.New("page gone")
	m := startMachine(t, fc)
	connectsBefore, _, _ := fc.counts()

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	connects, _, refreshes := fc.counts()
	if refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes)
	}
	if connects != connectsBefore+1 {
		t.Errorf("connects = %d, want %d (fallback reconnect)", connects, connectsBefore+1)
	}
}
