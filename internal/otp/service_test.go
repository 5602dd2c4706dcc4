package otp

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"chat-otp-gateway/internal/otp/domain"
)

// memoryRepo is an in-memory Repository with the same atomicity guarantees as
// the Postgres implementation, guarded by a single mutex.
type memoryRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token // keyed by UUID
	calls  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tokens: make(map[string]*domain.Token)}
}

func (r *memoryRepo) Replace(_ context.Context, t *domain.Token, cooldown time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var newest *domain.Token
	for _, existing := range r.tokens {
		if existing.Destination != t.Destination {
			continue
		}
		if newest == nil || existing.CreatedAt.After(newest.CreatedAt) {
			newest = existing
		}
	}
	if newest != nil {
		if age := t.CreatedAt.Sub(newest.CreatedAt); age < cooldown {
			return &domain.CooldownError{RetryAfter: cooldown - age}
		}
	}
	for id, existing := range r.tokens {
		if existing.Destination == t.Destination {
			delete(r.tokens, id)
		}
	}
	cp := *t
	r.tokens[t.UUID] = &cp
	return nil
}

func (r *memoryRepo) ConsumeAttempt(_ context.Context, uuid, destination string, maxAttempts int, now time.Time) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	t, ok := r.tokens[uuid]
	if !ok || t.Destination != destination || t.Attempts >= maxAttempts || t.Expired(now) {
		return nil, nil
	}
	t.Attempts++
	cp := *t
	return &cp, nil
}

func (r *memoryRepo) GetByUUID(_ context.Context, uuid string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[uuid]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memoryRepo) Delete(_ context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, uuid)
	return nil
}

type captureSender struct {
	mu       sync.Mutex
	sent     []string // bodies, in order
	failWith error
}

func (s *captureSender) Send(_ context.Context, _, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return "", s.failWith
	}
	s.sent = append(s.sent, body)
	return "msg-1", nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *captureSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

var codeRe = regexp.MustCompile(`[0-9]{6}`)

func newTestService(repo *memoryRepo, sender *captureSender) *Service {
	return NewService(repo, sender, nil, nil, 5*time.Minute, 2*time.Minute, 5)
}

func TestIssueDeliversCode(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	res, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if res.UUID == "" {
		t.Error("Issue() returned empty UUID")
	}
	if res.ExpiresIn != 300 {
		t.Errorf("ExpiresIn = %d, want 300", res.ExpiresIn)
	}
	if sender.count() != 1 {
		t.Fatalf("sent %d messages, want 1", sender.count())
	}
	if !codeRe.MatchString(sender.last()) {
		t.Errorf("delivered body %q does not contain a 6-digit code", sender.last())
	}
}

func TestIssueRejectsMalformedDestination(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	for _, dest := range []string{"", "4155550123", "+1", "+1415555a123", "not-a-number"} {
		if _, err := svc.Issue(context.Background(), dest, "login", ""); !errors.Is(err, ErrInvalidDestination) {
			t.Errorf("Issue(%q) error = %v, want ErrInvalidDestination", dest, err)
		}
	}
	if repo.calls != 0 {
		t.Errorf("store touched %d times for invalid input, want 0", repo.calls)
	}
	if sender.count() != 0 {
		t.Errorf("sent %d messages for invalid input, want 0", sender.count())
	}
}

func TestIssueCooldown(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	if _, err := svc.Issue(context.Background(), "+14155550123", "login", ""); err != nil {
		t.Fatalf("first Issue() error = %v", err)
	}

	_, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	var cd *domain.CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("second Issue() error = %v, want *CooldownError", err)
	}
	if cd.RetryAfter <= 0 || cd.RetryAfter > 2*time.Minute {
		t.Errorf("RetryAfter = %v, want in (0, 2m]", cd.RetryAfter)
	}
	if sender.count() != 1 {
		t.Errorf("sent %d messages, want 1 (no delivery during cooldown)", sender.count())
	}
}

func TestIssueSupersedesAfterCooldown(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	now := time.Now().UTC()
	svc.nowF = func() time.Time { return now }

	first, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("first Issue() error = %v", err)
	}

	now = now.Add(3 * time.Minute)
	second, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("second Issue() error = %v", err)
	}

	if tok, _ := repo.GetByUUID(context.Background(), first.UUID); tok != nil {
		t.Error("superseded token still present")
	}
	if tok, _ := repo.GetByUUID(context.Background(), second.UUID); tok == nil {
		t.Error("replacement token missing")
	}
}

func TestIssueConcurrentSameDestination(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, cooled int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), "+14155550123", "login", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			default:
				var cd *domain.CooldownError
				if errors.As(err, &cd) {
					cooled++
				}
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("successful issues = %d, want exactly 1", ok)
	}
	if cooled != n-1 {
		t.Errorf("cooldown rejections = %d, want %d", cooled, n-1)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	res, err := svc.Issue(context.Background(), "+14155550123", "password_reset", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := codeRe.FindString(sender.last())
	if code == "" {
		t.Fatal("no code in delivered body")
	}

	out, err := svc.Verify(context.Background(), res.UUID, "+14155550123", code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if out.Reason != "password_reset" {
		t.Errorf("Reason = %q, want %q", out.Reason, "password_reset")
	}

	// Token is consumed; a second verify with the same code must fail.
	if _, err := svc.Verify(context.Background(), res.UUID, "+14155550123", code); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("second Verify() error = %v, want ErrTokenInvalid", err)
	}

	// Code delivery plus confirmation.
	if sender.count() != 2 {
		t.Errorf("sent %d messages, want 2", sender.count())
	}
}

func TestVerifyAttemptsExhaust(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	res, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	for want := 4; want >= 0; want-- {
		_, err := svc.Verify(context.Background(), res.UUID, "+14155550123", "000000")
		var mm *MismatchError
		if !errors.As(err, &mm) {
			t.Fatalf("Verify() error = %v, want *MismatchError", err)
		}
		if mm.AttemptsRemaining != want {
			t.Errorf("AttemptsRemaining = %d, want %d", mm.AttemptsRemaining, want)
		}
	}

	// Cap reached: even the right code is rejected now.
	code := codeRe.FindString(sender.last())
	if _, err := svc.Verify(context.Background(), res.UUID, "+14155550123", code); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() after exhaustion error = %v, want ErrTokenInvalid", err)
	}
}

// The attempt slot is consumed atomically, so concurrent verifications of the
// same token cannot all see the last slot: exactly one claims it.
func TestVerifyConcurrentLastAttempt(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	res, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := codeRe.FindString(sender.last())

	// Burn down to a single remaining slot.
	for i := 0; i < 4; i++ {
		if _, err := svc.Verify(context.Background(), res.UUID, "+14155550123", "000000"); err == nil {
			t.Fatal("Verify() with wrong code should fail")
		}
	}

	const workers = 8
	errs := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			_, err := svc.Verify(context.Background(), res.UUID, "+14155550123", code)
			errs <- err
		}()
	}
	start.Done()
	wg.Wait()
	close(errs)

	var ok, invalid int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTokenInvalid):
			invalid++
		default:
			t.Errorf("Verify() error = %v, want nil or ErrTokenInvalid", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful verifications = %d, want 1", ok)
	}
	if invalid != workers-1 {
		t.Errorf("ErrTokenInvalid count = %d, want %d", invalid, workers-1)
	}
}

func TestVerifyWrongDestination(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	res, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := codeRe.FindString(sender.last())

	if _, err := svc.Verify(context.Background(), res.UUID, "+442071838750", code); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() with mismatched destination error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyMalformedUUID(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &captureSender{})

	if _, err := svc.Verify(context.Background(), "not-a-uuid", "+14155550123", "123456"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
	if repo.calls != 0 {
		t.Errorf("store touched %d times for malformed uuid, want 0", repo.calls)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	now := time.Now().UTC()
	svc.nowF = func() time.Time { return now }

	res, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	code := codeRe.FindString(sender.last())

	now = now.Add(6 * time.Minute)
	if _, err := svc.Verify(context.Background(), res.UUID, "+14155550123", code); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() on expired token error = %v, want ErrTokenInvalid", err)
	}
}

func TestIssueDeliveryFailureKeepsToken(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{failWith: errors.New("engine unavailable")}
	svc := newTestService(repo, sender)

	res, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("Issue() error = %v, want *DeliveryError", err)
	}
	if res == nil || res.UUID == "" {
		t.Fatal("Issue() returned no result despite token being created")
	}
	if tok, _ := repo.GetByUUID(context.Background(), res.UUID); tok == nil {
		t.Error("token missing after delivery failure, want it kept valid")
	}
}

func TestStatusLazyExpiry(t *testing.T) {
	repo := newMemoryRepo()
	sender := &captureSender{}
	svc := newTestService(repo, sender)

	now := time.Now().UTC()
	svc.nowF = func() time.Time { return now }

	res, err := svc.Issue(context.Background(), "+14155550123", "login", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	st, err := svc.Status(context.Background(), res.UUID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.IsExpired {
		t.Error("IsExpired = true for a fresh token")
	}
	if st.Destination != "+14155550123" {
		t.Errorf("Destination = %q, want %q", st.Destination, "+14155550123")
	}

	now = now.Add(6 * time.Minute)
	st, err = svc.Status(context.Background(), res.UUID)
	if err != nil {
		t.Fatalf("Status() after expiry error = %v", err)
	}
	if !st.IsExpired {
		t.Error("IsExpired = false for an expired token")
	}

	// Lazy cleanup removed it; a second lookup reports not found.
	if _, err := svc.Status(context.Background(), res.UUID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status() after cleanup error = %v, want ErrNotFound", err)
	}
}

func TestStatusUnknownUUID(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &captureSender{})

	if _, err := svc.Status(context.Background(), "7b0d1b8e-7f2f-4e3b-9a6c-0c6a1a2b3c4d"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status() error = %v, want ErrNotFound", err)
	}
}
