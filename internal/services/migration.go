package services

import (
	"context"
	"fmt"
	"time"

	"credits/internal/metrics"
	"credits/internal/models"

	"github.com/jmoiron/sqlx"
)

const (
	defaultMigrationBatch = 100
	maxMigrationBatch     = 500
	maxReportedUsers      = 100
)

type MigrateRequest struct {
	UserID     string
	ProjectKey string
	Operator   string
}

// MigrationResult reports one user. Merged is set when the user already had
// an account, opened by a check-in or a redeem before the migration reached
// them, and the legacy balances were added on top of it.
type MigrationResult struct {
	UserID     string                 `json:"user_id"`
	ProjectKey string                 `json:"project_key"`
	Skipped    bool                   `json:"skipped"`
	Merged     bool                   `json:"merged"`
	Balance    models.BalanceSnapshot `json:"balance"`
}

type MigrateAllRequest struct {
	ProjectKey string
	BatchSize  int
	Operator   string
}

type MigrationFailure struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// MigrationReport sums a project walk. Merged users count as successes and
// are also listed in MergedUsers.
type MigrationReport struct {
	ProjectKey  string             `json:"project_key"`
	Scanned     int                `json:"scanned"`
	Success     int                `json:"success"`
	Skipped     int                `json:"skipped"`
	Merged      int                `json:"merged"`
	Failed      int                `json:"failed"`
	Failures    []MigrationFailure `json:"failures"`
	MergedUsers []string           `json:"merged_users"`
}

func migrationRequestID(projectKey, userID string) string {
	return fmt.Sprintf("%s:migrate:%s", projectKey, userID)
}

// MigrateBalance seeds a credit account from the legacy wallet. The
// MIGRATION_INIT entry marks a user as migrated, so reruns are skipped. A user
// whose account was opened lazily before the migration keeps it and gets the
// legacy balances added.
func (s *CreditService) MigrateBalance(ctx context.Context, req MigrateRequest) (result MigrationResult, err error) {
	projectKey := s.projectKey(req.ProjectKey)
	defer s.observe("migrate_balance", time.Now(), &err, "user_id", req.UserID, "project_key", projectKey, "operator", req.Operator)
	defer func() {
		switch {
		case err != nil:
			metrics.MigrationUsers.WithLabelValues("failed").Inc()
		case result.Skipped:
			metrics.MigrationUsers.WithLabelValues("skipped").Inc()
		case result.Merged:
			metrics.MigrationUsers.WithLabelValues("merged").Inc()
		default:
			metrics.MigrationUsers.WithLabelValues("migrated").Inc()
		}
	}()
	if err := requireUser(req.UserID); err != nil {
		return MigrationResult{}, err
	}
	now := s.clock.Now()

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		result = MigrationResult{UserID: req.UserID, ProjectKey: projectKey}
		exists, err := s.accounts.Exists(ctx, tx, req.UserID, projectKey)
		if err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if exists {
			return s.migrateIntoExisting(ctx, tx, req, projectKey, now, &result)
		}
		wallet, err := s.legacyWallet(ctx, tx, req.UserID, projectKey)
		if err != nil {
			return err
		}

		account := models.Account{
			UserID:           req.UserID,
			ProjectKey:       projectKey,
			TempBalance:      wallet.TempTokens,
			TempExpiresAt:    wallet.TempExpiresAt,
			PermanentBalance: wallet.PermanentTokens,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		// Temp that already lapsed in the legacy wallet is imported and
		// dropped in the same entry.
		dropped := expire(&account, now)
		s.settleExpiry(&account, now)
		id, created, err := s.accounts.Insert(ctx, tx, account)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		if !created {
			return s.migrateIntoExisting(ctx, tx, req, projectKey, now, &result)
		}
		account.ID = id
		return s.recordMigration(ctx, tx, req, projectKey, wallet, account, dropped, now, &result)
	})
	if err != nil {
		return MigrationResult{}, err
	}
	if !result.Skipped {
		s.broadcast(req.UserID, projectKey, models.EntryMigrationInit, migrationRequestID(projectKey, req.UserID), result.Balance)
	}
	return result, nil
}

func (s *CreditService) legacyWallet(ctx context.Context, tx *sqlx.Tx, userID, projectKey string) (models.LegacyWallet, error) {
	wallet, err := s.legacy.Get(ctx, tx, userID, projectKey)
	if isNoRows(err) {
		return models.LegacyWallet{}, newError(KindNotFound, "no legacy wallet for user %s", userID)
	}
	if err != nil {
		return models.LegacyWallet{}, fmt.Errorf("load legacy wallet: %w", err)
	}
	if wallet.TempTokens < 0 || wallet.PermanentTokens < 0 || wallet.PublicTokens < 0 {
		return models.LegacyWallet{}, newError(KindInvalidArgument, "legacy wallet of user %s has negative balances", userID)
	}
	return wallet, nil
}

// migrateIntoExisting runs under the account lock. It skips users that
// already carry a MIGRATION_INIT entry and merges the legacy wallet into the
// account otherwise.
func (s *CreditService) migrateIntoExisting(ctx context.Context, tx *sqlx.Tx, req MigrateRequest, projectKey string, now time.Time, result *MigrationResult) error {
	account, err := s.lockAccount(ctx, tx, req.UserID, projectKey, now)
	if err != nil {
		return err
	}
	entries, err := s.ledger.FindByRequestID(ctx, tx, migrationRequestID(projectKey, req.UserID))
	if err != nil {
		return fmt.Errorf("find migration entry: %w", err)
	}
	if len(entries) > 0 {
		public, err := s.publicBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		result.Skipped = true
		result.Balance = view(account, public, now)
		return nil
	}
	wallet, err := s.legacyWallet(ctx, tx, req.UserID, projectKey)
	if err != nil {
		return err
	}

	dropped := expire(&account, now)
	legacy := models.Account{TempBalance: wallet.TempTokens, TempExpiresAt: wallet.TempExpiresAt}
	dropped += expire(&legacy, now)
	account.TempBalance += legacy.TempBalance
	account.PermanentBalance += wallet.PermanentTokens
	if legacy.TempBalance > 0 {
		s.refreshExpiry(&account, now)
	}
	if err := s.saveAccount(ctx, tx, &account, now); err != nil {
		return err
	}
	result.Merged = true
	return s.recordMigration(ctx, tx, req, projectKey, wallet, account, dropped, now, result)
}

// recordMigration seeds the public balance and writes the MIGRATION_INIT
// entry for an account that already holds the legacy balances.
func (s *CreditService) recordMigration(ctx context.Context, tx *sqlx.Tx, req MigrateRequest, projectKey string, wallet models.LegacyWallet, account models.Account, dropped int64, now time.Time, result *MigrationResult) error {
	var publicDelta int64
	seeded, err := s.public.Seed(ctx, tx, req.UserID, wallet.PublicTokens, now)
	if err != nil {
		return fmt.Errorf("seed public account: %w", err)
	}
	if seeded {
		publicDelta = wallet.PublicTokens
	}
	public, err := s.publicBalance(ctx, tx, req.UserID)
	if err != nil {
		return err
	}
	entry, err := s.appendEntry(ctx, tx, account, public, models.LedgerEntry{
		RequestID:           migrationRequestID(projectKey, req.UserID),
		Type:                models.EntryMigrationInit,
		TokenDeltaTemp:      wallet.TempTokens,
		TokenDeltaPermanent: wallet.PermanentTokens,
		TokenDeltaPublic:    publicDelta,
		ExpiredTemp:         dropped,
		Source:              "migration",
		Metadata: models.Metadata{
			"operator":     req.Operator,
			"publicSeeded": fmt.Sprint(seeded),
			"merged":       fmt.Sprint(result.Merged),
		},
		CreatedAt: now,
	})
	if err != nil {
		return err
	}
	if err := s.auditLog(ctx, tx, req.Operator, "credit_migrate", "credit_account", req.UserID+":"+projectKey, map[string]any{
		"temp_tokens":      wallet.TempTokens,
		"permanent_tokens": wallet.PermanentTokens,
		"public_tokens":    publicDelta,
		"merged":           result.Merged,
	}, now); err != nil {
		return err
	}
	recordMovement(entry)
	result.Balance = entry.Snapshot()
	return nil
}

// MigrateAllBalances walks the legacy wallets of a project in user id order.
// A failing user is reported and the walk continues.
func (s *CreditService) MigrateAllBalances(ctx context.Context, req MigrateAllRequest) (MigrationReport, error) {
	projectKey := s.projectKey(req.ProjectKey)
	size := req.BatchSize
	if size <= 0 {
		size = s.rules.MigrationBatchSize
	}
	if size <= 0 {
		size = defaultMigrationBatch
	}
	size = min(size, maxMigrationBatch)
	report := MigrationReport{ProjectKey: projectKey, Failures: []MigrationFailure{}, MergedUsers: []string{}}
	started := time.Now()

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		wallets, err := s.legacy.ListAfter(ctx, projectKey, after, size)
		if err != nil {
			return report, fmt.Errorf("list legacy wallets after %q: %w", after, err)
		}
		for _, wallet := range wallets {
			report.Scanned++
			result, err := s.MigrateBalance(ctx, MigrateRequest{UserID: wallet.UserID, ProjectKey: projectKey, Operator: req.Operator})
			switch {
			case err != nil:
				report.Failed++
				if len(report.Failures) < maxReportedUsers {
					report.Failures = append(report.Failures, MigrationFailure{UserID: wallet.UserID, Message: err.Error()})
				}
			case result.Skipped:
				report.Skipped++
			case result.Merged:
				report.Success++
				report.Merged++
				if len(report.MergedUsers) < maxReportedUsers {
					report.MergedUsers = append(report.MergedUsers, wallet.UserID)
				}
			default:
				report.Success++
			}
		}
		if len(wallets) < size {
			break
		}
		after = wallets[len(wallets)-1].UserID
	}
	s.logger.Info("balance migration finished",
		"project_key", projectKey,
		"scanned", report.Scanned,
		"success", report.Success,
		"skipped", report.Skipped,
		"merged", report.Merged,
		"failed", report.Failed,
		"duration", time.Since(started),
	)
	return report, nil
}
