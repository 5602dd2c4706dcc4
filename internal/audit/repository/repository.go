package repository

import (
	"context"

	"chat-otp-gateway/internal/audit/domain"
)

// Repository defines persistence for delivery-log records.
type Repository interface {
	Create(ctx context.Context, r *domain.Record) error
	ListByDestination(ctx context.Context, destination string, limit int) ([]*domain.Record, error)
}
