package store

import (
	"context"
	"time"

	"credits/internal/models"
)

// ExchangeStore records permanent to public exchanges keyed by request id.
type ExchangeStore struct {
	db DB
}

const exchangeColumns = `id, request_id, user_id, project_key, exchanged_tokens, public_tokens, status,
		       public_before, public_after, project_permanent_before, project_permanent_after,
		       fail_kind, fail_reason, created_at, updated_at`

func NewExchangeStore(db DB) *ExchangeStore {
	return &ExchangeStore{db: db}
}

func (s *ExchangeStore) GetByRequestID(ctx context.Context, tx Getter, requestID string) (models.ExchangeTransaction, error) {
	var row models.ExchangeTransaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+exchangeColumns+`
		FROM credit_exchange_transactions
		WHERE request_id = $1
	`, requestID)
	if err != nil {
		return models.ExchangeTransaction{}, err
	}
	return row, nil
}

func (s *ExchangeStore) Insert(ctx context.Context, tx Execer, record models.ExchangeTransaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_exchange_transactions (
			request_id, user_id, project_key, exchanged_tokens, public_tokens, status,
			public_before, public_after, project_permanent_before, project_permanent_after,
			fail_kind, fail_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`,
		record.RequestID, record.UserID, record.ProjectKey, record.ExchangedTokens, record.PublicTokens, record.Status,
		record.PublicBefore, record.PublicAfter, record.PermanentBefore, record.PermanentAfter,
		record.FailKind, record.FailReason, record.CreatedAt,
	)
	return err
}

// SumSuccess totals exchanged tokens of a user's SUCCESS rows in [from, to),
// across all projects.
func (s *ExchangeStore) SumSuccess(ctx context.Context, tx Getter, userID string, from, to time.Time) (int64, error) {
	var sum int64
	err := tx.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(exchanged_tokens), 0)
		FROM credit_exchange_transactions
		WHERE user_id = $1 AND status = 'SUCCESS' AND created_at >= $2 AND created_at < $3
	`, userID, from, to)
	return sum, err
}

func (s *ExchangeStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.ExchangeTransaction, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credit_exchange_transactions WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}
	var rows []models.ExchangeTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+exchangeColumns+`
		FROM credit_exchange_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
