package services

import (
	"context"
	"testing"
	"time"

	"credits/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	expires := testStart.Add(48 * time.Hour)
	env.db.seedLegacy(models.LegacyWallet{UserID: "u1", ProjectKey: testProject, TempTokens: 10, TempExpiresAt: &expires, PermanentTokens: 20, PublicTokens: 5})

	result, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "u1", Operator: "ops"})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, int64(10), result.Balance.TempTokens)
	assert.Equal(t, int64(20), result.Balance.PermanentTokens)
	assert.Equal(t, int64(5), result.Balance.PublicPermanentTokens)
	require.NotNil(t, result.Balance.TempExpiresAt)
	assert.Equal(t, expires, *result.Balance.TempExpiresAt)

	entries := env.db.entriesOfType("u1", models.EntryMigrationInit)
	require.Len(t, entries, 1)
	assert.Equal(t, "werewolf:migrate:u1", entries[0].RequestID)

	again, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, result.Balance, again.Balance)
	assert.Len(t, env.db.entriesOfType("u1", models.EntryMigrationInit), 1)
	requireReconciled(t, env)
}

func TestMigrateBalanceDropsLapsedTemp(t *testing.T) {
	env := newTestEnv(t)
	lapsed := testStart.Add(-time.Hour)
	env.db.seedLegacy(models.LegacyWallet{UserID: "u1", ProjectKey: testProject, TempTokens: 10, TempExpiresAt: &lapsed, PermanentTokens: 3})

	result, err := env.svc.MigrateBalance(context.Background(), MigrateRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, result.Balance.TempTokens)
	assert.Nil(t, result.Balance.TempExpiresAt)

	entry := env.db.entriesOfType("u1", models.EntryMigrationInit)[0]
	assert.Equal(t, int64(10), entry.TokenDeltaTemp)
	assert.Equal(t, int64(10), entry.ExpiredTemp)
	requireReconciled(t, env)
}

func TestMigrateBalanceSetsExpiryForUndatedTemp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.db.seedLegacy(models.LegacyWallet{UserID: "u1", ProjectKey: testProject, TempTokens: 10, PermanentTokens: 2})

	result, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, result.Balance.TempExpiresAt)
	assert.Equal(t, testStart.Add(7*24*time.Hour), *result.Balance.TempExpiresAt)
	account, _ := env.db.account("u1", testProject)
	require.NotNil(t, account.TempExpiresAt)

	env.clock.Advance(365 * 24 * time.Hour)
	balance, err := env.svc.Balance(ctx, "u1", "")
	require.NoError(t, err)
	assert.Zero(t, balance.TempTokens)
	assert.Equal(t, int64(2), balance.PermanentTokens)
}

func TestMigrateBalanceMergesIntoLazilyCreatedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Checkin(ctx, CheckinRequest{UserID: "u1"})
	require.NoError(t, err)
	env.db.seedLegacy(models.LegacyWallet{UserID: "u1", ProjectKey: testProject, TempTokens: 5, PermanentTokens: 40, PublicTokens: 7})
	env.clock.Advance(time.Hour)

	result, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "u1", Operator: "ops"})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, result.Merged)
	assert.Equal(t, int64(35), result.Balance.TempTokens)
	assert.Equal(t, int64(40), result.Balance.PermanentTokens)
	assert.Equal(t, int64(7), result.Balance.PublicPermanentTokens)
	require.NotNil(t, result.Balance.TempExpiresAt)
	assert.Equal(t, testStart.Add(time.Hour+7*24*time.Hour), *result.Balance.TempExpiresAt)

	entries := env.db.entriesOfType("u1", models.EntryMigrationInit)
	require.Len(t, entries, 1)
	assert.Equal(t, "true", entries[0].Metadata["merged"])
	assert.Equal(t, int64(35), entries[0].BalanceTemp)

	again, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.False(t, again.Merged)
	assert.Equal(t, int64(40), again.Balance.PermanentTokens)
	assert.Len(t, env.db.entriesOfType("u1", models.EntryMigrationInit), 1)
	requireReconciled(t, env)
}

func TestMigrateBalanceMergeDropsLapsedTemp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adjust(t, env, "u1", 20, 0, "seed-1")
	lapsed := testStart.Add(-time.Hour)
	env.db.seedLegacy(models.LegacyWallet{UserID: "u1", ProjectKey: testProject, TempTokens: 10, TempExpiresAt: &lapsed, PermanentTokens: 1})
	env.clock.Advance(8 * 24 * time.Hour)

	result, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.Zero(t, result.Balance.TempTokens)
	assert.Nil(t, result.Balance.TempExpiresAt)
	assert.Equal(t, int64(1), result.Balance.PermanentTokens)

	entry := env.db.entriesOfType("u1", models.EntryMigrationInit)[0]
	assert.Equal(t, int64(10), entry.TokenDeltaTemp)
	assert.Equal(t, int64(30), entry.ExpiredTemp)
	requireReconciled(t, env)
}

func TestMigrateBalanceErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.db.seedLegacy(models.LegacyWallet{UserID: "broken", ProjectKey: testProject, PermanentTokens: -1})

	_, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "nobody"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "broken"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, ok := env.db.account("broken", testProject)
	assert.False(t, ok)
}

func TestMigrateBalanceKeepsExistingPublicBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.AdminAdjust(ctx, AdjustRequest{UserID: "u1", ProjectKey: "chess", DeltaPermanent: 10, Reason: "promo"})
	require.NoError(t, err)
	_, err = env.svc.Exchange(ctx, ExchangeRequest{UserID: "u1", ProjectKey: "chess", RequestID: "x-1", Tokens: 10})
	require.NoError(t, err)
	env.db.seedLegacy(models.LegacyWallet{UserID: "u1", ProjectKey: testProject, PermanentTokens: 4, PublicTokens: 99})

	result, err := env.svc.MigrateBalance(ctx, MigrateRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Balance.PublicPermanentTokens)
	entry := env.db.entriesOfType("u1", models.EntryMigrationInit)[0]
	assert.Zero(t, entry.TokenDeltaPublic)
	requireReconciled(t, env)
}

func TestMigrateAllBalances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.db.seedLegacy(
		models.LegacyWallet{UserID: "a", ProjectKey: testProject, PermanentTokens: 1},
		models.LegacyWallet{UserID: "b", ProjectKey: testProject, PermanentTokens: -5},
		models.LegacyWallet{UserID: "c", ProjectKey: testProject, PermanentTokens: 3},
		models.LegacyWallet{UserID: "d", ProjectKey: testProject, PermanentTokens: 4},
		models.LegacyWallet{UserID: "e", ProjectKey: testProject, PermanentTokens: 5},
		models.LegacyWallet{UserID: "z", ProjectKey: "chess", PermanentTokens: 9},
	)
	adjust(t, env, "d", 0, 1, "seed-d")

	report, err := env.svc.MigrateAllBalances(ctx, MigrateAllRequest{Operator: "ops"})
	require.NoError(t, err)
	assert.Equal(t, testProject, report.ProjectKey)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 4, report.Success)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, []string{"d"}, report.MergedUsers)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b", report.Failures[0].UserID)

	merged, ok := env.db.account("d", testProject)
	require.True(t, ok)
	assert.Equal(t, int64(5), merged.PermanentBalance)

	rerun, err := env.svc.MigrateAllBalances(ctx, MigrateAllRequest{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, rerun.Scanned)
	assert.Zero(t, rerun.Success)
	assert.Zero(t, rerun.Merged)
	assert.Equal(t, 4, rerun.Skipped)
	assert.Equal(t, 1, rerun.Failed)

	_, ok = env.db.account("z", "chess")
	assert.False(t, ok)
	requireReconciled(t, env)
}

func TestMigrateAllBalancesStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.db.seedLegacy(models.LegacyWallet{UserID: "a", ProjectKey: testProject, PermanentTokens: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := env.svc.MigrateAllBalances(ctx, MigrateAllRequest{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Scanned)
}
