// Package telemetry defines the gateway's structured event stream: one event per
// session state transition, send attempt/outcome, and OTP issuance/verification outcome.
package telemetry

import (
	"context"
	"time"
)

// Event is a single structured gateway event. Serialized as JSON for Kafka and Loki.
type Event struct {
	ID          string    `json:"id"`
	EventType   string    `json:"eventType"`
	Source      string    `json:"source"`
	Destination string    `json:"destination,omitempty"`
	State       string    `json:"state,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Event types emitted by the core components.
const (
	EventSessionState = "session.state"
	EventSendAttempt  = "send.attempt"
	EventSendOutcome  = "send.outcome"
	EventOTPIssue     = "otp.issue"
	EventOTPVerify    = "otp.verify"
)

// EventEmitter emits gateway events (e.g. to OTel Logs or Kafka). Best-effort;
// callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// MultiEmitter fans one event out to several emitters. Emit returns the first
// error but still tries every emitter.
type MultiEmitter []EventEmitter

// Emit sends the event to every wrapped emitter.
func (m MultiEmitter) Emit(ctx context.Context, event *Event) error {
	var first error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
