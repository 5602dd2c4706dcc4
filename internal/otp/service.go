package otp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-otp-gateway/internal/audit"
	"chat-otp-gateway/internal/message"
	"chat-otp-gateway/internal/otp/domain"
	"chat-otp-gateway/internal/otp/repository"
	"chat-otp-gateway/internal/telemetry"
)

// Sentinel errors for the OTP service; handlers map them to HTTP codes.
var (
	ErrInvalidDestination = errors.New("otp: destination must be international format (+ followed by 2-15 digits)")
	ErrTokenInvalid       = errors.New("otp: token not found, expired, or attempts exhausted")
	ErrNotFound           = errors.New("otp: token not found")
)

// MismatchError is returned when the supplied code does not match. The failed
// attempt still counts against the cap.
type MismatchError struct {
	AttemptsRemaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("otp: incorrect code, %d attempts remaining", e.AttemptsRemaining)
}

// DeliveryError reports that the token was created but the code message could
// not be delivered. The token stays valid; the caller may retry out of band.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("otp: code delivery failed: %v", e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

// destinationRe validates international format: leading +, 2-15 digits total.
var destinationRe = regexp.MustCompile(`^\+[0-9]{2,15}$`)

// Sender is the slice of the send pipeline the OTP service needs.
type Sender interface {
	Send(ctx context.Context, destination, body string) (string, error)
}

// IssueResult is the outcome of a successful issuance.
type IssueResult struct {
	UUID      string
	ExpiresIn int // seconds
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	Reason string
}

// StatusResult reports a token's state without consuming an attempt.
type StatusResult struct {
	Destination string
	IsExpired   bool
	Attempts    int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Service implements the OTP lifecycle on top of the token repository and the
// send pipeline.
type Service struct {
	repo        repository.Repository
	sender      Sender
	recorder    audit.Recorder
	emitter     telemetry.EventEmitter
	ttl         time.Duration
	cooldown    time.Duration
	maxAttempts int
	nowF        func() time.Time
}

// NewService returns a Service with the given dependencies. recorder and
// emitter may be nil.
func NewService(repo repository.Repository, sender Sender, recorder audit.Recorder, emitter telemetry.EventEmitter, ttl, cooldown time.Duration, maxAttempts int) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &Service{
		repo:        repo,
		sender:      sender,
		recorder:    recorder,
		emitter:     emitter,
		ttl:         ttl,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		nowF:        time.Now,
	}
}

// Issue creates a token for destination and delivers the code. The cooldown
// check, deletion of superseded tokens, and the insert are one atomic unit in
// the repository. Delivery happens after commit; a delivery failure is returned
// as *DeliveryError alongside a non-nil result, and the token stays valid.
func (s *Service) Issue(ctx context.Context, destination, reason, template string) (*IssueResult, error) {
	destination = strings.TrimSpace(destination)
	if !destinationRe.MatchString(destination) {
		return nil, ErrInvalidDestination
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("otp: generate code: %w", err)
	}
	now := s.nowF().UTC()
	token := &domain.Token{
		UUID:        uuid.New().String(),
		Destination: destination,
		CodeHash:    HashCode(code),
		Reason:      reason,
		Attempts:    0,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	if err := s.repo.Replace(ctx, token, s.cooldown); err != nil {
		var cooldownErr *domain.CooldownError
		if errors.As(err, &cooldownErr) {
			s.emitOutcome(telemetry.EventOTPIssue, destination, 0, "cooldown")
			return nil, err
		}
		return nil, fmt.Errorf("otp: persist token: %w", err)
	}

	result := &IssueResult{UUID: token.UUID, ExpiresIn: int(s.ttl.Seconds())}

	body := message.RenderOTP(template, code, s.ttl)
	if _, err := s.sender.Send(ctx, destination, body); err != nil {
		s.record(ctx, destination, "otp.issue", "delivery_failed", err.Error())
		s.emitOutcome(telemetry.EventOTPIssue, destination, 0, "delivery_failed")
		return result, &DeliveryError{Err: err}
	}

	s.record(ctx, destination, "otp.issue", "delivered", reason)
	s.emitOutcome(telemetry.EventOTPIssue, destination, 0, "delivered")
	return result, nil
}

// Verify checks the supplied code for the token matching uuid and destination.
// The attempt increment is atomic with the predicate lookup and happens whether
// or not the code matches, so wrong guesses also burn attempts. On a match the
// token is deleted and a confirmation message is sent best-effort.
func (s *Service) Verify(ctx context.Context, uuidStr, destination, code string) (*VerifyResult, error) {
	destination = strings.TrimSpace(destination)
	if _, err := uuid.Parse(strings.TrimSpace(uuidStr)); err != nil {
		return nil, ErrTokenInvalid
	}

	token, err := s.repo.ConsumeAttempt(ctx, strings.TrimSpace(uuidStr), destination, s.maxAttempts, s.nowF().UTC())
	if err != nil {
		return nil, fmt.Errorf("otp: consume attempt: %w", err)
	}
	if token == nil {
		s.emitOutcome(telemetry.EventOTPVerify, destination, 0, "invalid")
		return nil, ErrTokenInvalid
	}

	if !CodeEqual(code, token.CodeHash) {
		remaining := s.maxAttempts - token.Attempts
		s.record(ctx, destination, "otp.verify", "mismatch", fmt.Sprintf("%d attempts remaining", remaining))
		s.emitOutcome(telemetry.EventOTPVerify, destination, token.Attempts, "mismatch")
		return nil, &MismatchError{AttemptsRemaining: remaining}
	}

	if err := s.repo.Delete(ctx, token.UUID); err != nil {
		return nil, fmt.Errorf("otp: consume token: %w", err)
	}

	if _, err := s.sender.Send(ctx, destination, message.DefaultConfirmationTemplate); err != nil {
		log.Printf("otp: confirmation send to %s: %v", destination, err)
	}

	s.record(ctx, destination, "otp.verify", "verified", token.Reason)
	s.emitOutcome(telemetry.EventOTPVerify, destination, token.Attempts, "verified")
	return &VerifyResult{Reason: token.Reason}, nil
}

// Status reports the token's state. A token discovered expired is deleted
// (lazy expiry cleanup) and still reported once with IsExpired set.
func (s *Service) Status(ctx context.Context, uuidStr string) (*StatusResult, error) {
	uuidStr = strings.TrimSpace(uuidStr)
	if _, err := uuid.Parse(uuidStr); err != nil {
		return nil, ErrNotFound
	}

	token, err := s.repo.GetByUUID(ctx, uuidStr)
	if err != nil {
		return nil, fmt.Errorf("otp: load token: %w", err)
	}
	if token == nil {
		return nil, ErrNotFound
	}

	expired := token.Expired(s.nowF().UTC())
	if expired {
		if err := s.repo.Delete(ctx, token.UUID); err != nil {
			log.Printf("otp: lazy expiry delete %s: %v", token.UUID, err)
		}
	}
	return &StatusResult{
		Destination: token.Destination,
		IsExpired:   expired,
		Attempts:    token.Attempts,
		CreatedAt:   token.CreatedAt,
		ExpiresAt:   token.ExpiresAt,
	}, nil
}

func (s *Service) record(ctx context.Context, destination, action, outcome, detail string) {
	if s.recorder != nil {
		s.recorder.Record(ctx, destination, action, outcome, detail)
	}
}

func (s *Service) emitOutcome(eventType, destination string, attempt int, outcome string) {
	telemetry.EmitAsync(s.emitter, context.Background(), &telemetry.Event{
		ID:          uuid.New().String(),
		EventType:   eventType,
		Source:      "otp",
		Destination: destination,
		Attempt:     attempt,
		Outcome:     outcome,
		CreatedAt:   time.Now().UTC(),
	})
}
