// Package contact handles contact-form submissions: persist first, then notify
// the customer and the admin number over the messaging channel.
package contact

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-otp-gateway/internal/audit"
	"chat-otp-gateway/internal/contact/domain"
	"chat-otp-gateway/internal/contact/repository"
	"chat-otp-gateway/internal/message"
)

var (
	ErrInvalidName    = errors.New("contact: name is required")
	ErrInvalidPhone   = errors.New("contact: phone must be international format (+ followed by 2-15 digits)")
	ErrInvalidMessage = errors.New("contact: message is required")
)

var phoneRe = regexp.MustCompile(`^\+[0-9]{2,15}$`)

// Sender is the slice of the send pipeline the contact service needs.
type Sender interface {
	Send(ctx context.Context, destination, body string) (string, error)
}

// Input is a validated-on-entry contact-form submission.
type Input struct {
	Name    string
	Phone   string
	Email   string
	Message string
}

// Result reports the submission ID and the outcome of each notification. The
// sends are independent: a failed customer confirmation does not block the
// admin notification, and neither failure rolls back the stored submission.
type Result struct {
	ID            string
	CustomerSent  bool
	CustomerError string
	AdminSent     bool
	AdminError    string
}

// Service persists submissions and fans out the two notifications.
type Service struct {
	repo       repository.Repository
	sender     Sender
	recorder   audit.Recorder
	adminPhone string
	nowF       func() time.Time
}

// NewService returns a Service. adminPhone may be empty, in which case the
// admin notification is skipped. recorder may be nil.
func NewService(repo repository.Repository, sender Sender, recorder audit.Recorder, adminPhone string) *Service {
	return &Service{
		repo:       repo,
		sender:     sender,
		recorder:   recorder,
		adminPhone: adminPhone,
		nowF:       time.Now,
	}
}

// Submit validates and stores the submission, then sends the customer
// confirmation and the admin notification. Persistence failure is the only
// error path; notification failures are reported in the Result.
func (s *Service) Submit(ctx context.Context, in Input) (*Result, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	in.Message = strings.TrimSpace(in.Message)

	if in.Name == "" {
		return nil, ErrInvalidName
	}
	if !phoneRe.MatchString(in.Phone) {
		return nil, ErrInvalidPhone
	}
	if in.Message == "" {
		return nil, ErrInvalidMessage
	}

	sub := &domain.Submission{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Phone:     in.Phone,
		Email:     in.Email,
		Message:   in.Message,
		CreatedAt: s.nowF().UTC(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("contact: persist submission: %w", err)
	}

	data := message.ContactData{Name: in.Name, Phone: in.Phone, Email: in.Email, Message: in.Message}
	res := &Result{ID: sub.ID}

	if _, err := s.sender.Send(ctx, in.Phone, message.RenderContactCustomer(data)); err != nil {
		res.CustomerError = err.Error()
		s.record(ctx, in.Phone, "contact.customer", "failed", err.Error())
	} else {
		res.CustomerSent = true
		s.record(ctx, in.Phone, "contact.customer", "sent", "")
	}

	if s.adminPhone == "" {
		res.AdminError = "admin phone not configured"
		return res, nil
	}
	if _, err := s.sender.Send(ctx, s.adminPhone, message.RenderContactAdmin(data)); err != nil {
		res.AdminError = err.Error()
		s.record(ctx, s.adminPhone, "contact.admin", "failed", err.Error())
	} else {
		res.AdminSent = true
		s.record(ctx, s.adminPhone, "contact.admin", "sent", "")
	}
	return res, nil
}

// List returns the newest submissions, up to limit.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.Submission, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit)
}

func (s *Service) record(ctx context.Context, destination, action, outcome, detail string) {
	if s.recorder != nil {
		s.recorder.Record(ctx, destination, action, outcome, detail)
	}
}
