// Package session tracks the lifecycle of the single authenticated connection to the
// external messaging network and recovers it when it stalls.
package session

import "context"

// RawState is the connection state as reported by the messaging engine itself.
// The engine's reporting is not fully reliable; RawUnknown is a normal answer.
type RawState string

const (
	RawConnected    RawState = "connected"
	RawDisconnected RawState = "disconnected"
	RawUnknown      RawState = "unknown"
)

// EventKind identifies an asynchronous notification from the messaging engine.
type EventKind string

const (
	// EventChallenge carries a fresh pairing challenge (QR payload) to display to the operator.
	EventChallenge EventKind = "challenge"
	// EventAuthenticated means credentials were accepted; the session is not yet usable.
	EventAuthenticated EventKind = "authenticated"
	// EventReady means the session is fully usable for sending.
	EventReady EventKind = "ready"
	// EventDisconnected means the session dropped; Reason explains why.
	EventDisconnected EventKind = "disconnected"
)

// Event is one asynchronous notification from the engine.
type Event struct {
	Kind EventKind
	// Challenge is the pairing payload for EventChallenge.
	Challenge string
	// Identity is opaque account metadata delivered with EventReady.
	Identity string
	// Reason explains EventDisconnected.
	Reason string
}

// Client is the capability the external messaging engine supplies: one long-lived
// session with connect/destroy/state/send primitives plus an event stream.
//
// Connect, Destroy, Send, and Refresh must not be called concurrently with each
// other; the Machine serializes them. State is safe to call at any time.
type Client interface {
	// Connect starts or resumes the session. Idempotent if already connecting or connected.
	Connect(ctx context.Context) error
	// Destroy tears down the session and releases underlying resources.
	// Safe to call even if never connected.
	Destroy(ctx context.Context) error
	// State reports the engine's own view of the connection.
	State(ctx context.Context) (RawState, error)
	// Send delivers text to the fully-qualified channel id and returns the message id.
	Send(ctx context.Context, channelID, text string) (string, error)
	// Refresh performs a lightweight page-level recovery without dropping the session.
	Refresh(ctx context.Context) error
	// Events returns the notification stream. Closed when the client is destroyed.
	Events() <-chan Event
}
