package repository

import (
	"context"
	"database/sql"

	"chat-otp-gateway/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a delivery-log repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the delivery-log record. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delivery_log (id, destination, action, outcome, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Destination, rec.Action, rec.Outcome, rec.Detail, rec.CreatedAt,
	)
	return err
}

// ListByDestination returns the newest records for destination, up to limit.
func (r *PostgresRepository) ListByDestination(ctx context.Context, destination string, limit int) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, destination, action, outcome, detail, created_at
		 FROM delivery_log WHERE destination = $1
		 ORDER BY created_at DESC LIMIT $2`,
		destination, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(&rec.ID, &rec.Destination, &rec.Action, &rec.Outcome, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
