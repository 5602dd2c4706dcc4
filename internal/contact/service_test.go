package contact

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"chat-otp-gateway/internal/contact/domain"
)

type memoryRepo struct {
	mu   sync.Mutex
	subs []*domain.Submission
	fail error
}

func (r *memoryRepo) Create(_ context.Context, s *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	cp := *s
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *memoryRepo) List(_ context.Context, limit int) ([]*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Submission, 0, limit)
	for i := len(r.subs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.subs[i])
	}
	return out, nil
}

type fanoutSender struct {
	mu       sync.Mutex
	sent     map[string]string // destination -> body
	failDest string
}

func newFanoutSender() *fanoutSender {
	return &fanoutSender{sent: make(map[string]string)}
}

func (s *fanoutSender) Send(_ context.Context, destination, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if destination == s.failDest {
		return "", errors.New("session not ready")
	}
	s.sent[destination] = body
	return "msg-1", nil
}

func validInput() Input {
	return Input{
		Name:    "Ana",
		Phone:   "+14155550123",
		Email:   "ana@example.com",
		Message: "I'd like a quote.",
	}
}

func TestSubmitPersistsAndNotifiesBoth(t *testing.T) {
	repo := &memoryRepo{}
	sender := newFanoutSender()
	svc := NewService(repo, sender, nil, "+15551230000")

	res, err := svc.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.ID == "" {
		t.Error("Submit() returned empty ID")
	}
	if !res.CustomerSent || !res.AdminSent {
		t.Errorf("CustomerSent = %v, AdminSent = %v, want both true", res.CustomerSent, res.AdminSent)
	}
	if len(repo.subs) != 1 {
		t.Fatalf("stored %d submissions, want 1", len(repo.subs))
	}
	if body := sender.sent["+14155550123"]; !strings.Contains(body, "Ana") {
		t.Errorf("customer message %q does not mention the name", body)
	}
	if body := sender.sent["+15551230000"]; !strings.Contains(body, "+14155550123") {
		t.Errorf("admin message %q does not include the customer phone", body)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(&memoryRepo{}, newFanoutSender(), nil, "+15551230000")

	tests := []struct {
		name    string
		mutate  func(*Input)
		wantErr error
	}{
		{"missing name", func(in *Input) { in.Name = "  " }, ErrInvalidName},
		{"missing phone", func(in *Input) { in.Phone = "" }, ErrInvalidPhone},
		{"local phone", func(in *Input) { in.Phone = "4155550123" }, ErrInvalidPhone},
		{"missing message", func(in *Input) { in.Message = "" }, ErrInvalidMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			if _, err := svc.Submit(context.Background(), in); !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitCustomerFailureStillNotifiesAdmin(t *testing.T) {
	repo := &memoryRepo{}
	sender := newFanoutSender()
	sender.failDest = "+14155550123"
	svc := NewService(repo, sender, nil, "+15551230000")

	res, err := svc.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.CustomerSent {
		t.Error("CustomerSent = true, want false")
	}
	if res.CustomerError == "" {
		t.Error("CustomerError empty, want the send error")
	}
	if !res.AdminSent {
		t.Error("AdminSent = false, want true despite customer failure")
	}
	if len(repo.subs) != 1 {
		t.Errorf("stored %d submissions, want 1 (send failure must not roll back)", len(repo.subs))
	}
}

func TestSubmitWithoutAdminPhone(t *testing.T) {
	sender := newFanoutSender()
	svc := NewService(&memoryRepo{}, sender, nil, "")

	res, err := svc.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.AdminSent {
		t.Error("AdminSent = true with no admin phone configured")
	}
	if _, ok := sender.sent["+14155550123"]; !ok {
		t.Error("customer confirmation not sent")
	}
}

func TestSubmitPersistFailure(t *testing.T) {
	repo := &memoryRepo{fail: errors.New("db down")}
	sender := newFanoutSender()
	svc := NewService(repo, sender, nil, "+15551230000")

	if _, err := svc.Submit(context.Background(), validInput()); err == nil {
		t.Fatal("Submit() error = nil, want persistence error")
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages after persist failure, want 0", len(sender.sent))
	}
}
