package audit

import (
	"context"
	"errors"
	"testing"

	"chat-otp-gateway/internal/audit/domain"
)

type fakeRepo struct {
	records []*domain.Record
	err     error
}

func (f *fakeRepo) Create(ctx context.Context, r *domain.Record) error {
	f.records = append(f.records, r)
	return f.err
}

func (f *fakeRepo) ListByDestination(ctx context.Context, destination string, limit int) ([]*domain.Record, error) {
	return f.records, nil
}

func TestRecord_PersistsEntry(t *testing.T) {
	repo := &fakeRepo{}
	l := NewLogger(repo)

	l.Record(context.Background(), "+14155550123", "otp.issue", "delivered", "")

	if len(repo.records) != 1 {
		t.Fatalf("records = %d, want 1", len(repo.records))
	}
	rec := repo.records[0]
	if rec.ID == "" {
		t.Error("record ID should be assigned")
	}
	if rec.Destination != "+14155550123" || rec.Action != "otp.issue" || rec.Outcome != "delivered" {
		t.Errorf("record = %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestRecord_BestEffort(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	l := NewLogger(repo)

	// Must not panic or propagate the error.
	l.Record(context.Background(), "+14155550123", "send", "failed", "timeout")
}

func TestRecord_NilLogger(t *testing.T) {
	var l *Logger
	l.Record(context.Background(), "+14155550123", "send", "delivered", "")
}
