package services

import (
	"context"
	"fmt"

	"credits/internal/models"
	"credits/internal/store"

	"github.com/jmoiron/sqlx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Page[T any] struct {
	Page    int   `json:"page"`
	Size    int   `json:"size"`
	Total   int64 `json:"total"`
	Entries []T   `json:"entries"`
}

// normalizePage clamps paging input: page starts at 1, size is 1..100.
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	return page, min(size, maxPageSize)
}

func newPage[T any](page, size int, total int64, entries []T) Page[T] {
	if entries == nil {
		entries = []T{}
	}
	return Page[T]{Page: page, Size: size, Total: total, Entries: entries}
}

// Balance returns the current snapshot without creating an account.
func (s *CreditService) Balance(ctx context.Context, userID, projectKey string) (models.BalanceSnapshot, error) {
	if err := requireUser(userID); err != nil {
		return models.BalanceSnapshot{}, err
	}
	projectKey = s.projectKey(projectKey)
	var snapshot models.BalanceSnapshot
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.Get(ctx, tx, userID, projectKey)
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("load account: %w", err)
		}
		public, err := s.publicBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		snapshot = view(account, public, s.clock.Now())
		return nil
	})
	return snapshot, err
}

type ProjectBalance struct {
	ProjectKey string                 `json:"project_key"`
	Balance    models.BalanceSnapshot `json:"balance"`
}

// ProjectBalances lists the user's balance in every project that has an
// account, ordered by project key.
func (s *CreditService) ProjectBalances(ctx context.Context, userID string) ([]ProjectBalance, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var public int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		public, err = s.publicBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]ProjectBalance, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, ProjectBalance{ProjectKey: account.ProjectKey, Balance: view(account, public, now)})
	}
	return out, nil
}

type LedgerQuery struct {
	UserID     string
	ProjectKey string
	Types      []models.EntryType
	Page       int
	Size       int
}

// ListLedger pages a user's entries, newest first. An empty project key
// lists every project.
func (s *CreditService) ListLedger(ctx context.Context, q LedgerQuery) (Page[models.LedgerEntry], error) {
	if err := requireUser(q.UserID); err != nil {
		return Page[models.LedgerEntry]{}, err
	}
	page, size := normalizePage(q.Page, q.Size)
	rows, total, err := s.ledger.List(ctx, store.LedgerQuery{
		UserID:     q.UserID,
		ProjectKey: q.ProjectKey,
		Types:      q.Types,
		Limit:      size,
		Offset:     (page - 1) * size,
	})
	if err != nil {
		return Page[models.LedgerEntry]{}, fmt.Errorf("list ledger: %w", err)
	}
	return newPage(page, size, total, rows), nil
}

func (s *CreditService) UsageRecords(ctx context.Context, userID, projectKey string, page, size int) (Page[models.LedgerEntry], error) {
	return s.ListLedger(ctx, LedgerQuery{
		UserID:     userID,
		ProjectKey: s.projectKey(projectKey),
		Types:      []models.EntryType{models.EntryConsume},
		Page:       page,
		Size:       size,
	})
}

func (s *CreditService) RedemptionHistory(ctx context.Context, userID, projectKey string, page, size int) (Page[models.RedemptionRecord], error) {
	if err := requireUser(userID); err != nil {
		return Page[models.RedemptionRecord]{}, err
	}
	page, size = normalizePage(page, size)
	rows, total, err := s.redemptions.ListByUser(ctx, userID, s.projectKey(projectKey), size, (page-1)*size)
	if err != nil {
		return Page[models.RedemptionRecord]{}, fmt.Errorf("list redemptions: %w", err)
	}
	return newPage(page, size, total, rows), nil
}

func (s *CreditService) ExchangeHistory(ctx context.Context, userID string, page, size int) (Page[models.ExchangeTransaction], error) {
	if err := requireUser(userID); err != nil {
		return Page[models.ExchangeTransaction]{}, err
	}
	page, size = normalizePage(page, size)
	rows, total, err := s.exchanges.ListByUser(ctx, userID, size, (page-1)*size)
	if err != nil {
		return Page[models.ExchangeTransaction]{}, fmt.Errorf("list exchanges: %w", err)
	}
	return newPage(page, size, total, rows), nil
}

// AuditTrail lists administrative actions, newest first. Total is not
// counted for the audit table.
func (s *CreditService) AuditTrail(ctx context.Context, page, size int) (Page[models.AuditLog], error) {
	page, size = normalizePage(page, size)
	rows, err := s.audit.List(ctx, size, (page-1)*size)
	if err != nil {
		return Page[models.AuditLog]{}, fmt.Errorf("list audit logs: %w", err)
	}
	return newPage(page, size, int64(len(rows)), rows), nil
}
