package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credits/internal/config"
	"credits/internal/db"
	"credits/internal/metrics"
	"credits/internal/models"
	"credits/internal/store"
	"credits/internal/tokens"
	"credits/internal/validator"
	"credits/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type AccountStore interface {
	Ensure(ctx context.Context, tx store.Execer, userID, projectKey string, now time.Time) error
	Insert(ctx context.Context, tx store.Getter, account models.Account) (int64, bool, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID, projectKey string) (models.Account, error)
	Get(ctx context.Context, tx store.Getter, userID, projectKey string) (models.Account, error)
	Exists(ctx context.Context, tx store.Getter, userID, projectKey string) (bool, error)
	Update(ctx context.Context, tx store.Execer, account models.Account) error
	ListByUser(ctx context.Context, userID string) ([]models.Account, error)
}

type PublicAccountStore interface {
	Ensure(ctx context.Context, tx store.Execer, userID string, now time.Time) error
	Seed(ctx context.Context, tx store.Getter, userID string, balance int64, now time.Time) (bool, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.PublicAccount, error)
	Balance(ctx context.Context, tx store.Getter, userID string) (int64, error)
	UpdateBalance(ctx context.Context, tx store.Execer, userID string, balance int64, now time.Time) error
}

type LedgerStore interface {
	Insert(ctx context.Context, tx store.Getter, entry models.LedgerEntry) (int64, error)
	FindByRequestID(ctx context.Context, tx store.Selecter, requestID string) ([]models.LedgerEntry, error)
	HasReversal(ctx context.Context, tx store.Getter, entryID int64) (bool, error)
	List(ctx context.Context, q store.LedgerQuery) ([]models.LedgerEntry, int64, error)
	Reconcile(ctx context.Context) ([]models.ReconcileRow, error)
}

type RedeemCodeStore interface {
	Create(ctx context.Context, tx store.Getter, code models.RedeemCode) (int64, error)
	Exists(ctx context.Context, tx store.Getter, code string) (bool, error)
	GetForUpdate(ctx context.Context, tx store.Getter, code string) (models.RedeemCode, error)
	IncrementRedeemed(ctx context.Context, tx store.Execer, id int64, now time.Time) (int64, error)
	SetActive(ctx context.Context, tx store.Execer, id int64, active bool, now time.Time) error
	List(ctx context.Context, limit, offset int) ([]models.RedeemCode, int64, error)
}

type RedemptionStore interface {
	Insert(ctx context.Context, tx store.Execer, record models.RedemptionRecord) error
	GetByRequestID(ctx context.Context, tx store.Getter, requestID string) (models.RedemptionRecord, error)
	CountFailures(ctx context.Context, tx store.Getter, userID, projectKey string, from, to time.Time) (int, error)
	HasSucceeded(ctx context.Context, tx store.Getter, userID, projectKey, code string) (bool, error)
	ListByUser(ctx context.Context, userID, projectKey string, limit, offset int) ([]models.RedemptionRecord, int64, error)
}

type CheckinStore interface {
	Get(ctx context.Context, tx store.Getter, userID, projectKey string, date time.Time) (models.CheckinRecord, error)
	Insert(ctx context.Context, tx store.Execer, record models.CheckinRecord) error
	Latest(ctx context.Context, userID, projectKey string) (models.CheckinRecord, error)
}

type ExchangeStore interface {
	GetByRequestID(ctx context.Context, tx store.Getter, requestID string) (models.ExchangeTransaction, error)
	Insert(ctx context.Context, tx store.Execer, record models.ExchangeTransaction) error
	SumSuccess(ctx context.Context, tx store.Getter, userID string, from, to time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.ExchangeTransaction, int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actor, action, entityType, entityID, data string, now time.Time) error
	List(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

type LegacyStore interface {
	Get(ctx context.Context, tx store.Getter, userID, projectKey string) (models.LegacyWallet, error)
	ListAfter(ctx context.Context, projectKey, afterUserID string, limit int) ([]models.LegacyWallet, error)
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

// Stores groups the persistence the engine writes through.
type Stores struct {
	Accounts    AccountStore
	Public      PublicAccountStore
	Ledger      LedgerStore
	Codes       RedeemCodeStore
	Redemptions RedemptionStore
	Checkins    CheckinStore
	Exchanges   ExchangeStore
	Audit       AuditStore
	Legacy      LegacyStore
}

// PostgresStores wires every store to one database handle.
func PostgresStores(database store.DB) Stores {
	return Stores{
		Accounts:    store.NewAccountStore(database),
		Public:      store.NewPublicAccountStore(database),
		Ledger:      store.NewLedgerStore(database),
		Codes:       store.NewRedeemCodeStore(database),
		Redemptions: store.NewRedemptionStore(database),
		Checkins:    store.NewCheckinStore(database),
		Exchanges:   store.NewExchangeStore(database),
		Audit:       store.NewAuditStore(database),
		Legacy:      store.NewLegacyStore(database),
	}
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func SystemClock() Clock { return systemClock{} }

// Rules are the tunable business constants of the engine.
type Rules struct {
	ProjectKey               string
	CheckinGrantTokens       int64
	TempExpiry               time.Duration
	RedeemFailureLimitPerDay int
	ExchangeDailyLimit       int64
	ExchangeRatio            decimal.Decimal
	Location                 *time.Location
	MigrationBatchSize       int
}

func NewRules(cfg config.Config) (Rules, error) {
	ratio, err := tokens.ParseRatio(cfg.ExchangeRatio)
	if err != nil {
		return Rules{}, fmt.Errorf("exchange ratio %q: %w", cfg.ExchangeRatio, err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return Rules{}, err
	}
	return Rules{
		ProjectKey:               cfg.ProjectKey,
		CheckinGrantTokens:       cfg.CheckinGrantTokens,
		TempExpiry:               cfg.TempExpiry(),
		RedeemFailureLimitPerDay: cfg.RedeemFailureLimitPerDay,
		ExchangeDailyLimit:       cfg.ExchangeDailyLimit,
		ExchangeRatio:            ratio,
		Location:                 loc,
		MigrationBatchSize:       cfg.MigrationBatchSize,
	}, nil
}

// CreditService is the balance engine. It is the only writer of credit
// accounts and ledger entries.
type CreditService struct {
	txRunner    db.TxRunner
	accounts    AccountStore
	public      PublicAccountStore
	ledger      LedgerStore
	codes       RedeemCodeStore
	redemptions RedemptionStore
	checkins    CheckinStore
	exchanges   ExchangeStore
	audit       AuditStore
	legacy      LegacyStore
	hub         BalanceHub
	rules       Rules
	clock       Clock
	logger      *slog.Logger
}

func NewCreditService(txRunner db.TxRunner, stores Stores, hub BalanceHub, rules Rules, clock Clock, logger *slog.Logger) *CreditService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rules.Location == nil {
		rules.Location = time.UTC
	}
	if rules.ExchangeRatio.IsZero() {
		rules.ExchangeRatio = decimal.NewFromInt(1)
	}
	return &CreditService{
		txRunner:    txRunner,
		accounts:    stores.Accounts,
		public:      stores.Public,
		ledger:      stores.Ledger,
		codes:       stores.Codes,
		redemptions: stores.Redemptions,
		checkins:    stores.Checkins,
		exchanges:   stores.Exchanges,
		audit:       stores.Audit,
		legacy:      stores.Legacy,
		hub:         hub,
		rules:       rules,
		clock:       clock,
		logger:      logger,
	}
}

func (s *CreditService) Rules() Rules {
	return s.rules
}

func (s *CreditService) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return classify(s.txRunner.WithTx(ctx, fn))
}

func (s *CreditService) projectKey(key string) string {
	if key == "" {
		return s.rules.ProjectKey
	}
	return key
}

func requireUser(userID string) error {
	if err := validator.ValidateUserID(userID); err != nil {
		return newError(KindInvalidArgument, "user id is missing or malformed")
	}
	return nil
}

func checkRequestID(requestID string) error {
	if err := validator.ValidateRequestID(requestID); err != nil {
		return newError(KindInvalidArgument, "request id is missing or malformed")
	}
	return nil
}

// lockAccount creates the account row when absent and takes its row lock.
// Every mutation starts here; no other lock is taken before it.
func (s *CreditService) lockAccount(ctx context.Context, tx *sqlx.Tx, userID, projectKey string, now time.Time) (models.Account, error) {
	if err := s.accounts.Ensure(ctx, tx, userID, projectKey, now); err != nil {
		return models.Account{}, fmt.Errorf("ensure account: %w", err)
	}
	account, err := s.accounts.GetForUpdate(ctx, tx, userID, projectKey)
	if err != nil {
		return models.Account{}, fmt.Errorf("lock account: %w", err)
	}
	return account, nil
}

// lockPublic must only be called while holding the account lock.
func (s *CreditService) lockPublic(ctx context.Context, tx *sqlx.Tx, userID string, now time.Time) (models.PublicAccount, error) {
	if err := s.public.Ensure(ctx, tx, userID, now); err != nil {
		return models.PublicAccount{}, fmt.Errorf("ensure public account: %w", err)
	}
	account, err := s.public.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return models.PublicAccount{}, fmt.Errorf("lock public account: %w", err)
	}
	return account, nil
}

func (s *CreditService) publicBalance(ctx context.Context, tx *sqlx.Tx, userID string) (int64, error) {
	balance, err := s.public.Balance(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("read public balance: %w", err)
	}
	return balance, nil
}

// saveAccount settles the temp expiry and writes the row. account is updated
// in place so the ledger entry stamped from it matches what was stored.
func (s *CreditService) saveAccount(ctx context.Context, tx *sqlx.Tx, account *models.Account, now time.Time) error {
	s.settleExpiry(account, now)
	account.UpdatedAt = now
	if err := s.accounts.Update(ctx, tx, *account); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

// expire applies lazy expiry in place and returns the temp amount dropped.
func expire(account *models.Account, now time.Time) int64 {
	if !account.TempExpired(now) {
		return 0
	}
	dropped := account.TempBalance
	account.TempBalance = 0
	account.TempExpiresAt = nil
	return dropped
}

// refreshExpiry moves the temp expiry to now plus the configured window, or
// clears it when temp is empty.
func (s *CreditService) refreshExpiry(account *models.Account, now time.Time) {
	if account.TempBalance == 0 || s.rules.TempExpiry <= 0 {
		account.TempExpiresAt = nil
		return
	}
	expiresAt := now.Add(s.rules.TempExpiry)
	account.TempExpiresAt = &expiresAt
}

// settleExpiry keeps the temp bucket and its expiry consistent: an empty
// bucket has no expiry and a non-empty one always has one.
func (s *CreditService) settleExpiry(account *models.Account, now time.Time) {
	switch {
	case account.TempBalance == 0:
		account.TempExpiresAt = nil
	case account.TempExpiresAt == nil:
		s.refreshExpiry(account, now)
	}
}

// view is what a caller may see of an account at now; it never writes.
func view(account models.Account, public int64, now time.Time) models.BalanceSnapshot {
	expire(&account, now)
	return models.BalanceSnapshot{
		PublicPermanentTokens: public,
		TempTokens:            account.TempBalance,
		PermanentTokens:       account.PermanentBalance,
		TempExpiresAt:         account.TempExpiresAt,
	}
}

// appendEntry stamps the resulting balances on entry and appends it.
func (s *CreditService) appendEntry(ctx context.Context, tx *sqlx.Tx, account models.Account, public int64, entry models.LedgerEntry) (models.LedgerEntry, error) {
	entry.ProjectKey = account.ProjectKey
	entry.UserID = account.UserID
	entry.BalanceTemp = account.TempBalance
	entry.BalancePermanent = account.PermanentBalance
	entry.BalancePublic = public
	entry.TempExpiresAt = account.TempExpiresAt
	if entry.Metadata == nil {
		entry.Metadata = models.Metadata{}
	}
	id, err := s.ledger.Insert(ctx, tx, entry)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("append %s entry: %w", entry.Type, err)
	}
	entry.ID = id
	return entry, nil
}

func recordMovement(entries ...models.LedgerEntry) {
	for _, entry := range entries {
		if entry.TokenDeltaTemp != 0 {
			metrics.TokensMoved.WithLabelValues("temp").Add(float64(tokens.Abs(entry.TokenDeltaTemp)))
		}
		if entry.TokenDeltaPermanent != 0 {
			metrics.TokensMoved.WithLabelValues("permanent").Add(float64(tokens.Abs(entry.TokenDeltaPermanent)))
		}
		if entry.TokenDeltaPublic != 0 {
			metrics.TokensMoved.WithLabelValues("public").Add(float64(tokens.Abs(entry.TokenDeltaPublic)))
		}
	}
}

// broadcast runs after commit; a missing hub is fine.
func (s *CreditService) broadcast(userID, projectKey string, event models.EntryType, requestID string, snapshot models.BalanceSnapshot) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastBalance(userID, websocket.BalanceUpdate{
		ProjectKey: projectKey,
		Event:      event,
		RequestID:  requestID,
		Balance:    snapshot,
		At:         s.clock.Now(),
	})
}

// observe records the outcome of one operation. Call it deferred with a
// pointer to the named error result.
func (s *CreditService) observe(operation string, started time.Time, errp *error, attrs ...any) {
	outcome := "ok"
	level := slog.LevelInfo
	var err error
	if errp != nil {
		err = *errp
	}
	if err != nil {
		kind := KindOf(err)
		switch kind {
		case "":
			outcome = "error"
			level = slog.LevelError
		case KindLockTimeout:
			outcome = string(kind)
			level = slog.LevelWarn
		default:
			outcome = string(kind)
		}
		attrs = append(attrs, "error", err.Error())
	}
	metrics.Operations.WithLabelValues(operation, outcome).Inc()
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	attrs = append([]any{"operation", operation, "outcome", outcome}, attrs...)
	s.logger.Log(context.Background(), level, "credit operation", attrs...)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

const dateLayout = "2006-01-02"

// DayIn returns the calendar date of now in loc, as midnight UTC.
func DayIn(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dayBounds returns the [start, end) instants of now's calendar day in loc.
func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
