package handlers

import (
	"context"
	"net/http"
	"time"

	"credits/internal/auth"
	"credits/internal/config"
	"credits/internal/models"
	"credits/internal/services"
	"credits/internal/websocket"
)

const testSecret = "secret"

type stubCreditService struct {
	balanceFn         func(ctx context.Context, userID, projectKey string) (models.BalanceSnapshot, error)
	projectBalancesFn func(ctx context.Context, userID string) ([]services.ProjectBalance, error)
	checkinFn         func(ctx context.Context, req services.CheckinRequest) (services.CheckinResult, error)
	checkinStatusFn   func(ctx context.Context, userID, projectKey string, date time.Time) (services.CheckinStatus, error)
	redeemFn          func(ctx context.Context, req services.RedeemRequest) (services.RedeemResult, error)
	exchangeFn        func(ctx context.Context, req services.ExchangeRequest) (services.ExchangeResult, error)
	consumeFn         func(ctx context.Context, req services.ConsumeRequest) (services.ConsumeResult, error)
	listLedgerFn      func(ctx context.Context, q services.LedgerQuery) (services.Page[models.LedgerEntry], error)
	usageFn           func(ctx context.Context, userID, projectKey string, page, size int) (services.Page[models.LedgerEntry], error)
	redemptionsFn     func(ctx context.Context, userID, projectKey string, page, size int) (services.Page[models.RedemptionRecord], error)
	exchangesFn       func(ctx context.Context, userID string, page, size int) (services.Page[models.ExchangeTransaction], error)
	adjustFn          func(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error)
	reverseFn         func(ctx context.Context, req services.ReverseRequest) (services.ReverseResult, error)
	migrateFn         func(ctx context.Context, req services.MigrateRequest) (services.MigrationResult, error)
	migrateAllFn      func(ctx context.Context, req services.MigrateAllRequest) (services.MigrationReport, error)
	createCodeFn      func(ctx context.Context, req services.CreateRedeemCodeRequest) (models.RedeemCode, error)
	listCodesFn       func(ctx context.Context, page, size int) (services.Page[models.RedeemCode], error)
	setActiveFn       func(ctx context.Context, code string, active bool, operator string) (models.RedeemCode, error)
	auditFn           func(ctx context.Context, page, size int) (services.Page[models.AuditLog], error)
	reconcileFn       func(ctx context.Context) ([]models.ReconcileRow, error)
}

func (s stubCreditService) Balance(ctx context.Context, userID, projectKey string) (models.BalanceSnapshot, error) {
	if s.balanceFn == nil {
		return models.BalanceSnapshot{}, nil
	}
	return s.balanceFn(ctx, userID, projectKey)
}

func (s stubCreditService) ProjectBalances(ctx context.Context, userID string) ([]services.ProjectBalance, error) {
	if s.projectBalancesFn == nil {
		return nil, nil
	}
	return s.projectBalancesFn(ctx, userID)
}

func (s stubCreditService) Checkin(ctx context.Context, req services.CheckinRequest) (services.CheckinResult, error) {
	if s.checkinFn == nil {
		return services.CheckinResult{}, nil
	}
	return s.checkinFn(ctx, req)
}

func (s stubCreditService) CheckinStatus(ctx context.Context, userID, projectKey string, date time.Time) (services.CheckinStatus, error) {
	if s.checkinStatusFn == nil {
		return services.CheckinStatus{}, nil
	}
	return s.checkinStatusFn(ctx, userID, projectKey, date)
}

func (s stubCreditService) Redeem(ctx context.Context, req services.RedeemRequest) (services.RedeemResult, error) {
	if s.redeemFn == nil {
		return services.RedeemResult{}, nil
	}
	return s.redeemFn(ctx, req)
}

func (s stubCreditService) Exchange(ctx context.Context, req services.ExchangeRequest) (services.ExchangeResult, error) {
	if s.exchangeFn == nil {
		return services.ExchangeResult{}, nil
	}
	return s.exchangeFn(ctx, req)
}

func (s stubCreditService) Consume(ctx context.Context, req services.ConsumeRequest) (services.ConsumeResult, error) {
	if s.consumeFn == nil {
		return services.ConsumeResult{}, nil
	}
	return s.consumeFn(ctx, req)
}

func (s stubCreditService) ListLedger(ctx context.Context, q services.LedgerQuery) (services.Page[models.LedgerEntry], error) {
	if s.listLedgerFn == nil {
		return services.Page[models.LedgerEntry]{}, nil
	}
	return s.listLedgerFn(ctx, q)
}

func (s stubCreditService) UsageRecords(ctx context.Context, userID, projectKey string, page, size int) (services.Page[models.LedgerEntry], error) {
	if s.usageFn == nil {
		return services.Page[models.LedgerEntry]{}, nil
	}
	return s.usageFn(ctx, userID, projectKey, page, size)
}

func (s stubCreditService) RedemptionHistory(ctx context.Context, userID, projectKey string, page, size int) (services.Page[models.RedemptionRecord], error) {
	if s.redemptionsFn == nil {
		return services.Page[models.RedemptionRecord]{}, nil
	}
	return s.redemptionsFn(ctx, userID, projectKey, page, size)
}

func (s stubCreditService) ExchangeHistory(ctx context.Context, userID string, page, size int) (services.Page[models.ExchangeTransaction], error) {
	if s.exchangesFn == nil {
		return services.Page[models.ExchangeTransaction]{}, nil
	}
	return s.exchangesFn(ctx, userID, page, size)
}

func (s stubCreditService) AdminAdjust(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error) {
	if s.adjustFn == nil {
		return services.AdjustResult{}, nil
	}
	return s.adjustFn(ctx, req)
}

func (s stubCreditService) AdminReverse(ctx context.Context, req services.ReverseRequest) (services.ReverseResult, error) {
	if s.reverseFn == nil {
		return services.ReverseResult{}, nil
	}
	return s.reverseFn(ctx, req)
}

func (s stubCreditService) MigrateBalance(ctx context.Context, req services.MigrateRequest) (services.MigrationResult, error) {
	if s.migrateFn == nil {
		return services.MigrationResult{}, nil
	}
	return s.migrateFn(ctx, req)
}

func (s stubCreditService) MigrateAllBalances(ctx context.Context, req services.MigrateAllRequest) (services.MigrationReport, error) {
	if s.migrateAllFn == nil {
		return services.MigrationReport{}, nil
	}
	return s.migrateAllFn(ctx, req)
}

func (s stubCreditService) CreateRedeemCode(ctx context.Context, req services.CreateRedeemCodeRequest) (models.RedeemCode, error) {
	if s.createCodeFn == nil {
		return models.RedeemCode{}, nil
	}
	return s.createCodeFn(ctx, req)
}

func (s stubCreditService) ListRedeemCodes(ctx context.Context, page, size int) (services.Page[models.RedeemCode], error) {
	if s.listCodesFn == nil {
		return services.Page[models.RedeemCode]{}, nil
	}
	return s.listCodesFn(ctx, page, size)
}

func (s stubCreditService) SetRedeemCodeActive(ctx context.Context, code string, active bool, operator string) (models.RedeemCode, error) {
	if s.setActiveFn == nil {
		return models.RedeemCode{}, nil
	}
	return s.setActiveFn(ctx, code, active, operator)
}

func (s stubCreditService) AuditTrail(ctx context.Context, page, size int) (services.Page[models.AuditLog], error) {
	if s.auditFn == nil {
		return services.Page[models.AuditLog]{}, nil
	}
	return s.auditFn(ctx, page, size)
}

func (s stubCreditService) Reconcile(ctx context.Context) ([]models.ReconcileRow, error) {
	if s.reconcileFn == nil {
		return nil, nil
	}
	return s.reconcileFn(ctx)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      testSecret,
		TokenTTL:       time.Minute,
		AllowedOrigins: []string{"http://game.local"},
		AdminUsername:  "ops",
		ProjectKey:     "werewolf",
	}
}

func newTestHandler(credits CreditService) *Handler {
	return New(testConfig(), credits, websocket.NewHub())
}

// authorize signs a token for the given role and attaches it to req.
func authorize(req *http.Request, userID string, role auth.Role, projectKey string) *http.Request {
	token, _ := auth.GenerateToken(testSecret, userID, role, projectKey, time.Minute)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
