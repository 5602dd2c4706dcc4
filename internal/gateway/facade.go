// Package gateway exposes the operator-facing status and control surface over
// the session machine.
package gateway

import (
	"context"
	"errors"

	"chat-otp-gateway/internal/session"
)

var (
	// ErrAlreadyAuthenticated means a pairing challenge makes no sense right now.
	ErrAlreadyAuthenticated = errors.New("gateway: session already authenticated")
	// ErrChallengeUnavailable means the engine has not produced a challenge yet; poll again.
	ErrChallengeUnavailable = errors.New("gateway: no challenge available yet")
)

// Session is the slice of the session machine the facade needs.
type Session interface {
	Snapshot() session.Snapshot
	IsReady() bool
	Restart(ctx context.Context)
	ForceChallenge(ctx context.Context)
}

// Status is the public view of the session, shaped for JSON responses.
type Status struct {
	State             session.State `json:"state"`
	IsReady           bool          `json:"isReady"`
	Identity          string        `json:"identity,omitempty"`
	LastReadyAt       string        `json:"lastReadyAt,omitempty"`
	LastStateChangeAt string        `json:"lastStateChangeAt,omitempty"`
}

// Facade adapts the session machine into the status and control operations the
// HTTP layer serves.
type Facade struct {
	sess Session
}

func NewFacade(sess Session) *Facade {
	return &Facade{sess: sess}
}

// Status returns the current session snapshot plus the readiness verdict.
func (f *Facade) Status() Status {
	snap := f.sess.Snapshot()
	st := Status{
		State:    snap.State,
		IsReady:  f.sess.IsReady(),
		Identity: snap.Identity,
	}
	if !snap.LastReadyAt.IsZero() {
		st.LastReadyAt = snap.LastReadyAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if !snap.LastStateChangeAt.IsZero() {
		st.LastStateChangeAt = snap.LastStateChangeAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return st
}

// Restart tears down and reinitializes the session in the background. Always
// accepted; concurrent restarts collapse into one.
func (f *Facade) Restart(ctx context.Context) {
	f.sess.Restart(ctx)
}

// Challenge returns the current pairing challenge payload, forcing a new one
// when the session is not authenticated. Returns ErrAlreadyAuthenticated when
// the session holds credentials, or ErrChallengeUnavailable when the engine
// has not produced a payload yet (the caller should poll).
func (f *Facade) Challenge(ctx context.Context) (string, error) {
	snap := f.sess.Snapshot()
	if snap.Authenticated() {
		return "", ErrAlreadyAuthenticated
	}
	if snap.Challenge != "" {
		return snap.Challenge, nil
	}
	f.sess.ForceChallenge(ctx)
	snap = f.sess.Snapshot()
	if snap.Challenge == "" {
		return "", ErrChallengeUnavailable
	}
	return snap.Challenge, nil
}
