package handlers

import (
	"context"
	"time"

	"credits/internal/models"
	"credits/internal/services"
)

type CreditService interface {
	Balance(ctx context.Context, userID, projectKey string) (models.BalanceSnapshot, error)
	ProjectBalances(ctx context.Context, userID string) ([]services.ProjectBalance, error)
	Checkin(ctx context.Context, req services.CheckinRequest) (services.CheckinResult, error)
	CheckinStatus(ctx context.Context, userID, projectKey string, date time.Time) (services.CheckinStatus, error)
	Redeem(ctx context.Context, req services.RedeemRequest) (services.RedeemResult, error)
	Exchange(ctx context.Context, req services.ExchangeRequest) (services.ExchangeResult, error)
	Consume(ctx context.Context, req services.ConsumeRequest) (services.ConsumeResult, error)

	ListLedger(ctx context.Context, q services.LedgerQuery) (services.Page[models.LedgerEntry], error)
	UsageRecords(ctx context.Context, userID, projectKey string, page, size int) (services.Page[models.LedgerEntry], error)
	RedemptionHistory(ctx context.Context, userID, projectKey string, page, size int) (services.Page[models.RedemptionRecord], error)
	ExchangeHistory(ctx context.Context, userID string, page, size int) (services.Page[models.ExchangeTransaction], error)

	AdminAdjust(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error)
	AdminReverse(ctx context.Context, req services.ReverseRequest) (services.ReverseResult, error)
	MigrateBalance(ctx context.Context, req services.MigrateRequest) (services.MigrationResult, error)
	MigrateAllBalances(ctx context.Context, req services.MigrateAllRequest) (services.MigrationReport, error)
	CreateRedeemCode(ctx context.Context, req services.CreateRedeemCodeRequest) (models.RedeemCode, error)
	ListRedeemCodes(ctx context.Context, page, size int) (services.Page[models.RedeemCode], error)
	SetRedeemCodeActive(ctx context.Context, code string, active bool, operator string) (models.RedeemCode, error)
	AuditTrail(ctx context.Context, page, size int) (services.Page[models.AuditLog], error)
	Reconcile(ctx context.Context) ([]models.ReconcileRow, error)
}
