// Package audit records delivery outcomes in the database so operators can
// answer "what did we send to this number and when" without the event pipeline.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"chat-otp-gateway/internal/audit/domain"
	auditrepo "chat-otp-gateway/internal/audit/repository"
)

// Recorder writes a single delivery-log entry. Used by the OTP and contact code paths.
// Record is best-effort: failures are logged and do not affect the caller.
type Recorder interface {
	Record(ctx context.Context, destination, action, outcome, detail string)
}

// Logger implements Recorder using the delivery-log repository.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns a Recorder that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// Record writes one delivery-log entry. Best-effort: errors are logged and not returned.
func (l *Logger) Record(ctx context.Context, destination, action, outcome, detail string) {
	if l == nil || l.repo == nil {
		return
	}
	rec := &domain.Record{
		ID:          uuid.New().String(),
		Destination: destination,
		Action:      action,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, rec); err != nil {
		log.Printf("audit: failed to record %s/%s: %v", action, outcome, err)
	}
}
