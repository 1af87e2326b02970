package store

import (
	"context"
	"fmt"
	"strings"

	"credits/internal/models"

	"github.com/lib/pq"
)

type LedgerStore struct {
	db DB
}

const ledgerColumns = `id, request_id, project_key, user_id, type,
		       token_delta_temp, token_delta_permanent, token_delta_public, expired_temp,
		       balance_temp, balance_permanent, balance_public, temp_expires_at,
		       source, metadata, related_entry_id, created_at`

type LedgerQuery struct {
	UserID     string
	ProjectKey string
	Types      []models.EntryType
	Limit      int
	Offset     int
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Insert appends one entry and returns its id. Entries are never updated.
func (s *LedgerStore) Insert(ctx context.Context, tx Getter, entry models.LedgerEntry) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO credit_ledger_entries (
			request_id, project_key, user_id, type,
			token_delta_temp, token_delta_permanent, token_delta_public, expired_temp,
			balance_temp, balance_permanent, balance_public, temp_expires_at,
			source, metadata, related_entry_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`,
		entry.RequestID, entry.ProjectKey, entry.UserID, entry.Type,
		entry.TokenDeltaTemp, entry.TokenDeltaPermanent, entry.TokenDeltaPublic, entry.ExpiredTemp,
		entry.BalanceTemp, entry.BalancePermanent, entry.BalancePublic, entry.TempExpiresAt,
		entry.Source, entry.Metadata, entry.RelatedEntryID, entry.CreatedAt,
	)
	return id, err
}

func (s *LedgerStore) FindByRequestID(ctx context.Context, tx Selecter, requestID string) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		FROM credit_ledger_entries
		WHERE request_id = $1
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *LedgerStore) HasReversal(ctx context.Context, tx Getter, entryID int64) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM credit_ledger_entries WHERE related_entry_id = $1)
	`, entryID)
	return exists, err
}

func (s *LedgerStore) List(ctx context.Context, q LedgerQuery) ([]models.LedgerEntry, int64, error) {
	where := []string{"user_id = $1"}
	args := []any{q.UserID}
	if q.ProjectKey != "" {
		args = append(args, q.ProjectKey)
		where = append(where, "project_key = $"+itoa(len(args)))
	}
	if len(q.Types) > 0 {
		types := make([]string, 0, len(q.Types))
		for _, t := range q.Types {
			types = append(types, string(t))
		}
		args = append(args, pq.Array(types))
		where = append(where, "type = ANY($"+itoa(len(args))+")")
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credit_ledger_entries WHERE `+clause, args...); err != nil {
		return nil, 0, err
	}
	var rows []models.LedgerEntry
	query := `
		SELECT ` + ledgerColumns + `
		FROM credit_ledger_entries
		WHERE ` + clause + `
		ORDER BY id DESC
		LIMIT $` + itoa(len(args)+1) + ` OFFSET $` + itoa(len(args)+2)
	args = append(args, q.Limit, q.Offset)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Reconcile returns every bucket whose stored balance differs from the sum of
// its ledger deltas. Temp sums subtract what lazy expiry dropped.
func (s *LedgerStore) Reconcile(ctx context.Context) ([]models.ReconcileRow, error) {
	var rows []models.ReconcileRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, project_key, bucket, stored, ledger, stored - ledger AS difference
		FROM (
			SELECT a.user_id, a.project_key, 'temp' AS bucket, a.temp_balance AS stored,
			       COALESCE(SUM(l.token_delta_temp - l.expired_temp), 0) AS ledger
			FROM credit_accounts a
			LEFT JOIN credit_ledger_entries l ON l.user_id = a.user_id AND l.project_key = a.project_key
			GROUP BY a.user_id, a.project_key, a.temp_balance
			UNION ALL
			SELECT a.user_id, a.project_key, 'permanent' AS bucket, a.permanent_balance AS stored,
			       COALESCE(SUM(l.token_delta_permanent), 0) AS ledger
			FROM credit_accounts a
			LEFT JOIN credit_ledger_entries l ON l.user_id = a.user_id AND l.project_key = a.project_key
			GROUP BY a.user_id, a.project_key, a.permanent_balance
			UNION ALL
			SELECT p.user_id, '' AS project_key, 'public' AS bucket, p.balance AS stored,
			       COALESCE(SUM(l.token_delta_public), 0) AS ledger
			FROM credit_public_accounts p
			LEFT JOIN credit_ledger_entries l ON l.user_id = p.user_id
			GROUP BY p.user_id, p.balance
		) buckets
		WHERE stored <> ledger
		ORDER BY user_id, project_key, bucket
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func itoa(value int) string {
	return fmt.Sprintf("%d", value)
}
