package store

import (
	"context"

	"credits/internal/models"
)

// LegacyStore reads balances from the wallet table that predates the credit
// ledger. It never writes.
type LegacyStore struct {
	db DB
}

const legacyColumns = `user_id, project_key, temp_tokens, temp_expires_at, permanent_tokens, public_tokens`

func NewLegacyStore(db DB) *LegacyStore {
	return &LegacyStore{db: db}
}

func (s *LegacyStore) Get(ctx context.Context, tx Getter, userID, projectKey string) (models.LegacyWallet, error) {
	var row models.LegacyWallet
	err := tx.GetContext(ctx, &row, `
		SELECT `+legacyColumns+`
		FROM legacy_wallets
		WHERE user_id = $1 AND project_key = $2
	`, userID, projectKey)
	if err != nil {
		return models.LegacyWallet{}, err
	}
	return row, nil
}

// ListAfter pages through a project's wallets by user id (keyset pagination).
func (s *LegacyStore) ListAfter(ctx context.Context, projectKey, afterUserID string, limit int) ([]models.LegacyWallet, error) {
	var rows []models.LegacyWallet
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+legacyColumns+`
		FROM legacy_wallets
		WHERE project_key = $1 AND user_id > $2
		ORDER BY user_id
		LIMIT $3
	`, projectKey, afterUserID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
