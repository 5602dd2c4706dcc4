package repository

import (
	"context"
	"time"

	"chat-otp-gateway/internal/otp/domain"
)

// Repository defines persistence for OTP tokens. Implementations must make
// Replace and ConsumeAttempt atomic with respect to concurrent calls for the
// same destination or token.
type Repository interface {
	// Replace enforces the cooldown and supersedes prior tokens in one atomic
	// unit: it fails with *domain.CooldownError if the newest token for
	// t.Destination is younger than cooldown, otherwise deletes every token
	// for the destination and inserts t.
	Replace(ctx context.Context, t *domain.Token, cooldown time.Duration) error

	// ConsumeAttempt increments attempts on the token matching uuid and
	// destination, but only while attempts < maxAttempts and the token is
	// unexpired at now. The increment and the predicate are one atomic
	// read-modify-write. Returns the post-increment token, or nil when no
	// token satisfies the predicate.
	ConsumeAttempt(ctx context.Context, uuid, destination string, maxAttempts int, now time.Time) (*domain.Token, error)

	// GetByUUID returns the token for uuid, or nil if not found.
	GetByUUID(ctx context.Context, uuid string) (*domain.Token, error)

	// Delete removes the token by uuid. Deleting a missing token is not an error.
	Delete(ctx context.Context, uuid string) error
}
