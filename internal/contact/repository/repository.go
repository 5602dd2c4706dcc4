package repository

import (
	"context"

	"chat-otp-gateway/internal/contact/domain"
)

// Repository defines persistence for contact-form submissions.
type Repository interface {
	Create(ctx context.Context, s *domain.Submission) error
	List(ctx context.Context, limit int) ([]*domain.Submission, error)
}
