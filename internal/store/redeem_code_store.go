package store

import (
	"context"
	"time"

	"credits/internal/models"
)

type RedeemCodeStore struct {
	db DB
}

const redeemCodeColumns = `id, code, tokens, credit_type, active, valid_from, valid_until,
		       max_redemptions, redeemed_count, created_by, created_at, updated_at`

func NewRedeemCodeStore(db DB) *RedeemCodeStore {
	return &RedeemCodeStore{db: db}
}

func (s *RedeemCodeStore) Create(ctx context.Context, tx Getter, code models.RedeemCode) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO credit_redeem_codes (code, tokens, credit_type, active, valid_from, valid_until, max_redemptions, redeemed_count, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
		RETURNING id
	`, code.Code, code.Tokens, code.CreditType, code.Active, code.ValidFrom, code.ValidUntil, code.MaxRedemptions, code.CreatedBy, code.CreatedAt)
	return id, err
}

func (s *RedeemCodeStore) Exists(ctx context.Context, tx Getter, code string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM credit_redeem_codes WHERE code = $1)`, code)
	return exists, err
}

// GetForUpdate locks the code row. Callers already holding an account lock
// must take it after that lock, never before.
func (s *RedeemCodeStore) GetForUpdate(ctx context.Context, tx Getter, code string) (models.RedeemCode, error) {
	var row models.RedeemCode
	err := tx.GetContext(ctx, &row, `
		SELECT `+redeemCodeColumns+`
		FROM credit_redeem_codes
		WHERE code = $1
		FOR UPDATE
	`, code)
	if err != nil {
		return models.RedeemCode{}, err
	}
	return row, nil
}

func (s *RedeemCodeStore) IncrementRedeemed(ctx context.Context, tx Execer, id int64, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE credit_redeem_codes
		SET redeemed_count = redeemed_count + 1, updated_at = $1
		WHERE id = $2 AND (max_redemptions IS NULL OR redeemed_count < max_redemptions)
	`, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *RedeemCodeStore) SetActive(ctx context.Context, tx Execer, id int64, active bool, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE credit_redeem_codes
		SET active = $1, updated_at = $2
		WHERE id = $3
	`, active, now, id)
	return err
}

func (s *RedeemCodeStore) List(ctx context.Context, limit, offset int) ([]models.RedeemCode, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credit_redeem_codes`); err != nil {
		return nil, 0, err
	}
	var rows []models.RedeemCode
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+redeemCodeColumns+`
		FROM credit_redeem_codes
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
