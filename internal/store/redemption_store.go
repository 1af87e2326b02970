package store

import (
	"context"
	"time"

	"credits/internal/models"
)

type RedemptionStore struct {
	db DB
}

const redemptionColumns = `id, request_id, user_id, project_key, code, success, tokens_granted,
		       credit_type, error_kind, error_message, created_at`

func NewRedemptionStore(db DB) *RedemptionStore {
	return &RedemptionStore{db: db}
}

func (s *RedemptionStore) Insert(ctx context.Context, tx Execer, record models.RedemptionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_redemption_records (request_id, user_id, project_key, code, success, tokens_granted, credit_type, error_kind, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, record.RequestID, record.UserID, record.ProjectKey, record.Code, record.Success, record.TokensGranted,
		record.CreditType, record.ErrorKind, record.ErrorMessage, record.CreatedAt)
	return err
}

func (s *RedemptionStore) GetByRequestID(ctx context.Context, tx Getter, requestID string) (models.RedemptionRecord, error) {
	var row models.RedemptionRecord
	err := tx.GetContext(ctx, &row, `
		SELECT `+redemptionColumns+`
		FROM credit_redemption_records
		WHERE request_id = $1
	`, requestID)
	if err != nil {
		return models.RedemptionRecord{}, err
	}
	return row, nil
}

// CountFailures counts failed attempts created in [from, to).
func (s *RedemptionStore) CountFailures(ctx context.Context, tx Getter, userID, projectKey string, from, to time.Time) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM credit_redemption_records
		WHERE user_id = $1 AND project_key = $2 AND success = FALSE
		  AND created_at >= $3 AND created_at < $4
	`, userID, projectKey, from, to)
	return count, err
}

func (s *RedemptionStore) HasSucceeded(ctx context.Context, tx Getter, userID, projectKey, code string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM credit_redemption_records
			WHERE user_id = $1 AND project_key = $2 AND code = $3 AND success = TRUE
		)
	`, userID, projectKey, code)
	return exists, err
}

func (s *RedemptionStore) ListByUser(ctx context.Context, userID, projectKey string, limit, offset int) ([]models.RedemptionRecord, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM credit_redemption_records WHERE user_id = $1 AND project_key = $2
	`, userID, projectKey); err != nil {
		return nil, 0, err
	}
	var rows []models.RedemptionRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+redemptionColumns+`
		FROM credit_redemption_records
		WHERE user_id = $1 AND project_key = $2
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, userID, projectKey, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
