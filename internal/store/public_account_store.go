package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"credits/internal/models"
)

// PublicAccountStore holds the per-user balance shared by every project.
type PublicAccountStore struct {
	db DB
}

func NewPublicAccountStore(db DB) *PublicAccountStore {
	return &PublicAccountStore{db: db}
}

func (s *PublicAccountStore) Ensure(ctx context.Context, tx Execer, userID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_public_accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, now)
	return err
}

// Seed creates the row with an opening balance. It reports false and leaves
// the row untouched when the user already has one.
func (s *PublicAccountStore) Seed(ctx context.Context, tx Getter, userID string, balance int64, now time.Time) (bool, error) {
	var id string
	err := tx.GetContext(ctx, &id, `
		INSERT INTO credit_public_accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING user_id
	`, userID, balance, now)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PublicAccountStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.PublicAccount, error) {
	var row models.PublicAccount
	err := tx.GetContext(ctx, &row, `
		SELECT user_id, balance, created_at, updated_at
		FROM credit_public_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.PublicAccount{}, err
	}
	return row, nil
}

// Balance reads without locking; a missing row is a zero balance.
func (s *PublicAccountStore) Balance(ctx context.Context, tx Getter, userID string) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		SELECT COALESCE((SELECT balance FROM credit_public_accounts WHERE user_id = $1), 0)
	`, userID)
	return balance, err
}

func (s *PublicAccountStore) UpdateBalance(ctx context.Context, tx Execer, userID string, balance int64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE credit_public_accounts
		SET balance = $1, updated_at = $2
		WHERE user_id = $3
	`, balance, now, userID)
	return err
}
