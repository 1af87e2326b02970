package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"credits/internal/models"
)

type AccountStore struct {
	db DB
}

const accountColumns = `id, user_id, project_key, temp_balance, temp_expires_at, permanent_balance, created_at, updated_at`

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

// Ensure creates a zero-balance row for (userID, projectKey) unless one exists.
func (s *AccountStore) Ensure(ctx context.Context, tx Execer, userID, projectKey string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, project_key, temp_balance, permanent_balance, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (user_id, project_key) DO NOTHING
	`, userID, projectKey, now)
	return err
}

// Insert creates a seeded row. It reports false when the row already existed.
func (s *AccountStore) Insert(ctx context.Context, tx Getter, account models.Account) (int64, bool, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO credit_accounts (user_id, project_key, temp_balance, temp_expires_at, permanent_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, project_key) DO NOTHING
		RETURNING id
	`, account.UserID, account.ProjectKey, account.TempBalance, account.TempExpiresAt, account.PermanentBalance, account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, userID, projectKey string) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE user_id = $1 AND project_key = $2
		FOR UPDATE
	`, userID, projectKey)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) Get(ctx context.Context, tx Getter, userID, projectKey string) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE user_id = $1 AND project_key = $2
	`, userID, projectKey)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) Exists(ctx context.Context, tx Getter, userID, projectKey string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM credit_accounts WHERE user_id = $1 AND project_key = $2)
	`, userID, projectKey)
	return exists, err
}

func (s *AccountStore) Update(ctx context.Context, tx Execer, account models.Account) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts
		SET temp_balance = $1, temp_expires_at = $2, permanent_balance = $3, updated_at = $4
		WHERE id = $5
	`, account.TempBalance, account.TempExpiresAt, account.PermanentBalance, account.UpdatedAt, account.ID)
	return err
}

func (s *AccountStore) ListByUser(ctx context.Context, userID string) ([]models.Account, error) {
	var rows []models.Account
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE user_id = $1
		ORDER BY project_key
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
