package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"chat-otp-gateway/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP token repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Replace enforces the cooldown and supersedes prior tokens for the destination
// inside one transaction. An advisory lock on the destination serializes
// concurrent issuances so two calls inside one cooldown window cannot both succeed.
func (r *PostgresRepository) Replace(ctx context.Context, t *domain.Token, cooldown time.Duration) error {
	return r.withConflictRetry(func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, t.Destination); err != nil {
			return err
		}

		var newest time.Time
		err = tx.QueryRowContext(ctx,
			`SELECT created_at FROM otp_tokens WHERE destination = $1 ORDER BY created_at DESC LIMIT 1`,
			t.Destination,
		).Scan(&newest)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			if age := t.CreatedAt.Sub(newest); age < cooldown {
				return &domain.CooldownError{RetryAfter: cooldown - age}
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM otp_tokens WHERE destination = $1`, t.Destination); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO otp_tokens (uuid, destination, code_hash, reason, attempts, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.UUID, t.Destination, t.CodeHash, t.Reason, t.Attempts, t.CreatedAt, t.ExpiresAt,
		)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ConsumeAttempt runs the attempt increment and its predicate as a single
// conditional UPDATE so concurrent verifies cannot both observe the last slot.
func (r *PostgresRepository) ConsumeAttempt(ctx context.Context, uuid, destination string, maxAttempts int, now time.Time) (*domain.Token, error) {
	var t domain.Token
	err := r.db.QueryRowContext(ctx,
		`UPDATE otp_tokens
		 SET attempts = attempts + 1
		 WHERE uuid = $1 AND destination = $2 AND attempts < $3 AND expires_at > $4
		 RETURNING uuid, destination, code_hash, reason, attempts, created_at, expires_at`,
		uuid, destination, maxAttempts, now,
	).Scan(&t.UUID, &t.Destination, &t.CodeHash, &t.Reason, &t.Attempts, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetByUUID returns the token for uuid, or nil if not found.
func (r *PostgresRepository) GetByUUID(ctx context.Context, uuid string) (*domain.Token, error) {
	var t domain.Token
	err := r.db.QueryRowContext(ctx,
		`SELECT uuid, destination, code_hash, reason, attempts, created_at, expires_at
		 FROM otp_tokens WHERE uuid = $1`,
		uuid,
	).Scan(&t.UUID, &t.Destination, &t.CodeHash, &t.Reason, &t.Attempts, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Delete removes the token by uuid.
func (r *PostgresRepository) Delete(ctx context.Context, uuid string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otp_tokens WHERE uuid = $1`, uuid)
	return err
}

// withConflictRetry retries fn once on a serialization or deadlock failure,
// then surfaces the error.
func (r *PostgresRepository) withConflictRetry(fn func() error) error {
	err := fn()
	if err == nil || !isSerializationFailure(err) {
		return err
	}
	if err := fn(); err != nil {
		return fmt.Errorf("otp: store conflict: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
