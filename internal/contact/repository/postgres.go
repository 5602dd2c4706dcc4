package repository

import (
	"context"
	"database/sql"

	"chat-otp-gateway/internal/contact/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a submission repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the submission. The submission must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Submission) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contact_submissions (id, name, phone, email, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.Name, s.Phone, s.Email, s.Message, s.CreatedAt,
	)
	return err
}

// List returns the newest submissions, up to limit.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]*domain.Submission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, phone, email, message, created_at
		 FROM contact_submissions
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Submission
	for rows.Next() {
		var s domain.Submission
		if err := rows.Scan(&s.ID, &s.Name, &s.Phone, &s.Email, &s.Message, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
