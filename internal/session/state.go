package session

import "time"

// State is the machine's view of the session lifecycle.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateAuthenticating State = "authenticating"
	// StatePendingReady means authenticated but the engine has not reported ready yet.
	StatePendingReady State = "pending_ready"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
	StateDisconnected State = "disconnected"
)

// Snapshot is a read-only copy of the machine's state, consumed by the status facade.
type Snapshot struct {
	State             State     `json:"state"`
	Identity          string    `json:"identity,omitempty"`
	Challenge         string    `json:"challenge,omitempty"`
	LastReadyAt       time.Time `json:"lastReadyAt,omitempty"`
	LastStateChangeAt time.Time `json:"lastStateChangeAt,omitempty"`
}

// Authenticated reports whether the session holds accepted credentials
// (ready, or authenticated and waiting on readiness).
func (s Snapshot) Authenticated() bool {
	return s.State == StateReady || s.State == StatePendingReady || s.Identity != ""
}
