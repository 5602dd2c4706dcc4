// Package send implements the reliable delivery pipeline: validation,
// destination normalization, bounded per-attempt deadlines, failure
// classification, and recovery-assisted retries.
package send

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-otp-gateway/internal/telemetry"
)

// Session is the slice of the session machine the pipeline needs.
type Session interface {
	IsReady() bool
	Send(ctx context.Context, channelID, text string) (string, error)
	Recover(ctx context.Context) error
}

// Pipeline delivers one message per call with bounded retries. Calls may be
// issued concurrently; the session machine serializes actual adapter access.
type Pipeline struct {
	session Session
	emitter telemetry.EventEmitter

	suffix      string
	timeout     time.Duration
	maxAttempts int

	// Backoff bases: transient failures wait recoveryBackoff×attempt and run a
	// recovery action; everything else waits plainBackoff×attempt.
	recoveryBackoff time.Duration
	plainBackoff    time.Duration
}

// NewPipeline returns a Pipeline sending through sess. suffix is appended to
// bare numbers to form a channel id (e.g. "@c.us"). timeout is the per-attempt
// deadline; maxAttempts the total attempt budget. emitter may be nil.
func NewPipeline(sess Session, emitter telemetry.EventEmitter, suffix string, timeout time.Duration, maxAttempts int) *Pipeline {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Pipeline{
		session:         sess,
		emitter:         emitter,
		suffix:          suffix,
		timeout:         timeout,
		maxAttempts:     maxAttempts,
		recoveryBackoff: 5 * time.Second,
		plainBackoff:    2 * time.Second,
	}
}

// NormalizeDestination turns raw input into a fully-qualified channel id.
// Input already carrying a channel qualifier is passed through; otherwise all
// characters except digits are stripped (a leading + is dropped) and suffix is
// appended. Returns ErrInvalidDestination when nothing usable remains.
func NormalizeDestination(raw, suffix string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidDestination
	}
	if strings.Contains(s, "@") {
		return s, nil
	}
	s = strings.TrimPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", ErrInvalidDestination
	}
	return b.String() + suffix, nil
}

// Send delivers body to destination and returns the engine's message id.
// Fails with ErrNotReady, ErrInvalidDestination, ErrInvalidContent, or, after
// the retry budget is spent, an *ExhaustedError wrapping the last cause.
//
// Delivery outlives the caller: the per-attempt deadline and the backoff waits
// are the only timeouts, so a caller that disappears mid-send does not abort
// an in-flight attempt or drain the retry budget.
func (p *Pipeline) Send(ctx context.Context, destination, body string) (string, error) {
	ctx = context.WithoutCancel(ctx)

	if !p.session.IsReady() {
		p.emitOutcome(destination, 1, "not_ready", "")
		return "", ErrNotReady
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrInvalidContent
	}
	channelID, err := NormalizeDestination(destination, p.suffix)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if !p.session.IsReady() {
			p.emitOutcome(channelID, attempt, "not_ready", "")
			return "", ErrNotReady
		}

		telemetry.EmitAsync(p.emitter, ctx, &telemetry.Event{
			ID:          uuid.New().String(),
			EventType:   telemetry.EventSendAttempt,
			Source:      "send",
			Destination: channelID,
			Attempt:     attempt,
			CreatedAt:   time.Now().UTC(),
		})

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		id, sendErr := p.session.Send(attemptCtx, channelID, body)
		cancel()
		if sendErr == nil {
			p.emitOutcome(channelID, attempt, "delivered", id)
			return id, nil
		}
		lastErr = sendErr

		k, sentinel := classify(sendErr)
		if k == kindFatal {
			p.emitOutcome(channelID, attempt, "rejected", sendErr.Error())
			return "", fmt.Errorf("%w: %v", sentinel, sendErr)
		}
		if attempt == p.maxAttempts {
			break
		}

		switch k {
		case kindTransient:
			p.wait(ctx, time.Duration(attempt)*p.recoveryBackoff)
			recoverCtx, cancel := context.WithTimeout(ctx, p.timeout)
			if err := p.session.Recover(recoverCtx); err != nil {
				log.Printf("send: recovery before attempt %d: %v", attempt+1, err)
			}
			cancel()
		default:
			p.wait(ctx, time.Duration(attempt)*p.plainBackoff)
		}
	}

	p.emitOutcome(channelID, p.maxAttempts, "exhausted", fmt.Sprint(lastErr))
	return "", &ExhaustedError{Attempts: p.maxAttempts, Last: lastErr}
}

func (p *Pipeline) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *Pipeline) emitOutcome(channelID string, attempt int, outcome, detail string) {
	telemetry.EmitAsync(p.emitter, context.Background(), &telemetry.Event{
		ID:          uuid.New().String(),
		EventType:   telemetry.EventSendOutcome,
		Source:      "send",
		Destination: channelID,
		Attempt:     attempt,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	})
}
