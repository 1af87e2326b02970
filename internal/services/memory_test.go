package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"credits/internal/models"
	"credits/internal/store"
	"credits/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// memDB is a transactional in-memory database. WithTx holds one global lock
// for the whole transaction, which is stricter than row locks but gives the
// same serial outcome, and rolls state back when fn fails.
type memDB struct {
	mu    sync.Mutex
	state memState
	// txErr, when set, fails every transaction before fn runs.
	txErr error
	txs   int
}

type memState struct {
	seq         int64
	accounts    map[string]models.Account
	public      map[string]models.PublicAccount
	ledger      []models.LedgerEntry
	codes       map[string]models.RedeemCode
	redemptions []models.RedemptionRecord
	checkins    []models.CheckinRecord
	exchanges   []models.ExchangeTransaction
	audit       []models.AuditLog
	legacy      []models.LegacyWallet
}

func newMemDB() *memDB {
	return &memDB{state: memState{
		accounts: map[string]models.Account{},
		public:   map[string]models.PublicAccount{},
		codes:    map[string]models.RedeemCode{},
	}}
}

func (s memState) clone() memState {
	out := s
	out.accounts = make(map[string]models.Account, len(s.accounts))
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	out.public = make(map[string]models.PublicAccount, len(s.public))
	for k, v := range s.public {
		out.public[k] = v
	}
	out.codes = make(map[string]models.RedeemCode, len(s.codes))
	for k, v := range s.codes {
		out.codes[k] = v
	}
	out.ledger = append([]models.LedgerEntry(nil), s.ledger...)
	out.redemptions = append([]models.RedemptionRecord(nil), s.redemptions...)
	out.checkins = append([]models.CheckinRecord(nil), s.checkins...)
	out.exchanges = append([]models.ExchangeTransaction(nil), s.exchanges...)
	out.audit = append([]models.AuditLog(nil), s.audit...)
	out.legacy = append([]models.LegacyWallet(nil), s.legacy...)
	return out
}

func (m *memDB) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		return m.txErr
	}
	m.txs++
	saved := m.state.clone()
	if err := fn(nil); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (m *memDB) nextID() int64 {
	m.state.seq++
	return m.state.seq
}

func uniqueViolation() error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func accountKey(userID, projectKey string) string {
	return userID + "|" + projectKey
}

func (m *memDB) stores() Stores {
	return Stores{
		Accounts:    memAccounts{m},
		Public:      memPublic{m},
		Ledger:      memLedger{m},
		Codes:       memCodes{m},
		Redemptions: memRedemptions{m},
		Checkins:    memCheckins{m},
		Exchanges:   memExchanges{m},
		Audit:       memAudit{m},
		Legacy:      memLegacy{m},
	}
}

// Helpers for assertions; they take the lock like any reader.

func (m *memDB) account(userID, projectKey string) (models.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.state.accounts[accountKey(userID, projectKey)]
	return account, ok
}

func (m *memDB) publicBalance(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.public[userID].Balance
}

func (m *memDB) entries(userID string) []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, entry := range m.state.ledger {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out
}

func (m *memDB) entriesOfType(userID string, entryType models.EntryType) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, entry := range m.entries(userID) {
		if entry.Type == entryType {
			out = append(out, entry)
		}
	}
	return out
}

func (m *memDB) redemptionRecords() []models.RedemptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RedemptionRecord(nil), m.state.redemptions...)
}

func (m *memDB) exchangeRows() []models.ExchangeTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ExchangeTransaction(nil), m.state.exchanges...)
}

func (m *memDB) auditRows() []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.state.audit...)
}

func (m *memDB) code(code string) models.RedeemCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.codes[code]
}

func (m *memDB) seedAccount(account models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.ID = m.nextID()
	m.state.accounts[accountKey(account.UserID, account.ProjectKey)] = account
}

func (m *memDB) seedCode(code models.RedeemCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code.ID = m.nextID()
	m.state.codes[code.Code] = code
}

func (m *memDB) seedLegacy(wallets ...models.LegacyWallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.legacy = append(m.state.legacy, wallets...)
	sort.Slice(m.state.legacy, func(i, j int) bool { return m.state.legacy[i].UserID < m.state.legacy[j].UserID })
}

type memAccounts struct{ db *memDB }

func (s memAccounts) Ensure(_ context.Context, _ store.Execer, userID, projectKey string, now time.Time) error {
	key := accountKey(userID, projectKey)
	if _, ok := s.db.state.accounts[key]; ok {
		return nil
	}
	s.db.state.accounts[key] = models.Account{ID: s.db.nextID(), UserID: userID, ProjectKey: projectKey, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (s memAccounts) Insert(_ context.Context, _ store.Getter, account models.Account) (int64, bool, error) {
	key := accountKey(account.UserID, account.ProjectKey)
	if _, ok := s.db.state.accounts[key]; ok {
		return 0, false, nil
	}
	account.ID = s.db.nextID()
	account.UpdatedAt = account.CreatedAt
	s.db.state.accounts[key] = account
	return account.ID, true, nil
}

func (s memAccounts) GetForUpdate(ctx context.Context, tx store.Getter, userID, projectKey string) (models.Account, error) {
	return s.Get(ctx, tx, userID, projectKey)
}

func (s memAccounts) Get(_ context.Context, _ store.Getter, userID, projectKey string) (models.Account, error) {
	account, ok := s.db.state.accounts[accountKey(userID, projectKey)]
	if !ok {
		return models.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (s memAccounts) Exists(_ context.Context, _ store.Getter, userID, projectKey string) (bool, error) {
	_, ok := s.db.state.accounts[accountKey(userID, projectKey)]
	return ok, nil
}

func (s memAccounts) Update(_ context.Context, _ store.Execer, account models.Account) error {
	for key, existing := range s.db.state.accounts {
		if existing.ID == account.ID {
			account.CreatedAt = existing.CreatedAt
			s.db.state.accounts[key] = account
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s memAccounts) ListByUser(_ context.Context, userID string) ([]models.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var rows []models.Account
	for _, account := range s.db.state.accounts {
		if account.UserID == userID {
			rows = append(rows, account)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProjectKey < rows[j].ProjectKey })
	return rows, nil
}

type memPublic struct{ db *memDB }

func (s memPublic) Ensure(_ context.Context, _ store.Execer, userID string, now time.Time) error {
	if _, ok := s.db.state.public[userID]; !ok {
		s.db.state.public[userID] = models.PublicAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (s memPublic) Seed(_ context.Context, _ store.Getter, userID string, balance int64, now time.Time) (bool, error) {
	if _, ok := s.db.state.public[userID]; ok {
		return false, nil
	}
	s.db.state.public[userID] = models.PublicAccount{UserID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (s memPublic) GetForUpdate(_ context.Context, _ store.Getter, userID string) (models.PublicAccount, error) {
	row, ok := s.db.state.public[userID]
	if !ok {
		return models.PublicAccount{}, sql.ErrNoRows
	}
	return row, nil
}

func (s memPublic) Balance(_ context.Context, _ store.Getter, userID string) (int64, error) {
	return s.db.state.public[userID].Balance, nil
}

func (s memPublic) UpdateBalance(_ context.Context, _ store.Execer, userID string, balance int64, now time.Time) error {
	row, ok := s.db.state.public[userID]
	if !ok {
		return sql.ErrNoRows
	}
	row.Balance = balance
	row.UpdatedAt = now
	s.db.state.public[userID] = row
	return nil
}

type memLedger struct{ db *memDB }

func (s memLedger) Insert(_ context.Context, _ store.Getter, entry models.LedgerEntry) (int64, error) {
	for _, existing := range s.db.state.ledger {
		if existing.RequestID == entry.RequestID && existing.Type == entry.Type {
			return 0, uniqueViolation()
		}
		if entry.RelatedEntryID != nil && existing.RelatedEntryID != nil && *existing.RelatedEntryID == *entry.RelatedEntryID {
			return 0, uniqueViolation()
		}
	}
	entry.ID = s.db.nextID()
	s.db.state.ledger = append(s.db.state.ledger, entry)
	return entry.ID, nil
}

func (s memLedger) FindByRequestID(_ context.Context, _ store.Selecter, requestID string) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, entry := range s.db.state.ledger {
		if entry.RequestID == requestID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s memLedger) HasReversal(_ context.Context, _ store.Getter, entryID int64) (bool, error) {
	for _, entry := range s.db.state.ledger {
		if entry.RelatedEntryID != nil && *entry.RelatedEntryID == entryID {
			return true, nil
		}
	}
	return false, nil
}

func (s memLedger) List(_ context.Context, q store.LedgerQuery) ([]models.LedgerEntry, int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var matched []models.LedgerEntry
	for i := len(s.db.state.ledger) - 1; i >= 0; i-- {
		entry := s.db.state.ledger[i]
		if entry.UserID != q.UserID || (q.ProjectKey != "" && entry.ProjectKey != q.ProjectKey) {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, entry.Type) {
			continue
		}
		matched = append(matched, entry)
	}
	return pageOf(matched, q.Limit, q.Offset), int64(len(matched)), nil
}

func containsType(types []models.EntryType, entryType models.EntryType) bool {
	for _, t := range types {
		if t == entryType {
			return true
		}
	}
	return false
}

func pageOf[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end]
}

func (s memLedger) Reconcile(_ context.Context) ([]models.ReconcileRow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	temp := map[string]int64{}
	permanent := map[string]int64{}
	public := map[string]int64{}
	for _, entry := range s.db.state.ledger {
		key := accountKey(entry.UserID, entry.ProjectKey)
		temp[key] += entry.TokenDeltaTemp - entry.ExpiredTemp
		permanent[key] += entry.TokenDeltaPermanent
		public[entry.UserID] += entry.TokenDeltaPublic
	}
	var rows []models.ReconcileRow
	for key, account := range s.db.state.accounts {
		if account.TempBalance != temp[key] {
			rows = append(rows, models.ReconcileRow{UserID: account.UserID, ProjectKey: account.ProjectKey, Bucket: "temp", Stored: account.TempBalance, Ledger: temp[key], Difference: account.TempBalance - temp[key]})
		}
		if account.PermanentBalance != permanent[key] {
			rows = append(rows, models.ReconcileRow{UserID: account.UserID, ProjectKey: account.ProjectKey, Bucket: "permanent", Stored: account.PermanentBalance, Ledger: permanent[key], Difference: account.PermanentBalance - permanent[key]})
		}
	}
	for userID, row := range s.db.state.public {
		if row.Balance != public[userID] {
			rows = append(rows, models.ReconcileRow{UserID: userID, Bucket: "public", Stored: row.Balance, Ledger: public[userID], Difference: row.Balance - public[userID]})
		}
	}
	return rows, nil
}

type memCodes struct{ db *memDB }

func (s memCodes) Create(_ context.Context, _ store.Getter, code models.RedeemCode) (int64, error) {
	if _, ok := s.db.state.codes[code.Code]; ok {
		return 0, uniqueViolation()
	}
	code.ID = s.db.nextID()
	s.db.state.codes[code.Code] = code
	return code.ID, nil
}

func (s memCodes) Exists(_ context.Context, _ store.Getter, code string) (bool, error) {
	_, ok := s.db.state.codes[code]
	return ok, nil
}

func (s memCodes) GetForUpdate(_ context.Context, _ store.Getter, code string) (models.RedeemCode, error) {
	row, ok := s.db.state.codes[code]
	if !ok {
		return models.RedeemCode{}, sql.ErrNoRows
	}
	return row, nil
}

func (s memCodes) IncrementRedeemed(_ context.Context, _ store.Execer, id int64, now time.Time) (int64, error) {
	for key, row := range s.db.state.codes {
		if row.ID != id {
			continue
		}
		if row.MaxRedemptions != nil && row.RedeemedCount >= *row.MaxRedemptions {
			return 0, nil
		}
		row.RedeemedCount++
		row.UpdatedAt = now
		s.db.state.codes[key] = row
		return 1, nil
	}
	return 0, nil
}

func (s memCodes) SetActive(_ context.Context, _ store.Execer, id int64, active bool, now time.Time) error {
	for key, row := range s.db.state.codes {
		if row.ID == id {
			row.Active = active
			row.UpdatedAt = now
			s.db.state.codes[key] = row
		}
	}
	return nil
}

func (s memCodes) List(_ context.Context, limit, offset int) ([]models.RedeemCode, int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rows := make([]models.RedeemCode, 0, len(s.db.state.codes))
	for _, row := range s.db.state.codes {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	return pageOf(rows, limit, offset), int64(len(rows)), nil
}

type memRedemptions struct{ db *memDB }

func (s memRedemptions) Insert(_ context.Context, _ store.Execer, record models.RedemptionRecord) error {
	for _, existing := range s.db.state.redemptions {
		if existing.RequestID == record.RequestID {
			return uniqueViolation()
		}
		if record.Success && existing.Success && existing.UserID == record.UserID &&
			existing.ProjectKey == record.ProjectKey && existing.Code == record.Code {
			return uniqueViolation()
		}
	}
	record.ID = s.db.nextID()
	s.db.state.redemptions = append(s.db.state.redemptions, record)
	return nil
}

func (s memRedemptions) GetByRequestID(_ context.Context, _ store.Getter, requestID string) (models.RedemptionRecord, error) {
	for _, record := range s.db.state.redemptions {
		if record.RequestID == requestID {
			return record, nil
		}
	}
	return models.RedemptionRecord{}, sql.ErrNoRows
}

func (s memRedemptions) CountFailures(_ context.Context, _ store.Getter, userID, projectKey string, from, to time.Time) (int, error) {
	count := 0
	for _, record := range s.db.state.redemptions {
		if record.UserID == userID && record.ProjectKey == projectKey && !record.Success &&
			!record.CreatedAt.Before(from) && record.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (s memRedemptions) HasSucceeded(_ context.Context, _ store.Getter, userID, projectKey, code string) (bool, error) {
	for _, record := range s.db.state.redemptions {
		if record.Success && record.UserID == userID && record.ProjectKey == projectKey && record.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s memRedemptions) ListByUser(_ context.Context, userID, projectKey string, limit, offset int) ([]models.RedemptionRecord, int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var rows []models.RedemptionRecord
	for i := len(s.db.state.redemptions) - 1; i >= 0; i-- {
		record := s.db.state.redemptions[i]
		if record.UserID == userID && record.ProjectKey == projectKey {
			rows = append(rows, record)
		}
	}
	return pageOf(rows, limit, offset), int64(len(rows)), nil
}

type memCheckins struct{ db *memDB }

func sameDay(a, b time.Time) bool {
	return a.Format(dateLayout) == b.Format(dateLayout)
}

func (s memCheckins) Get(_ context.Context, _ store.Getter, userID, projectKey string, date time.Time) (models.CheckinRecord, error) {
	for _, record := range s.db.state.checkins {
		if record.UserID == userID && record.ProjectKey == projectKey && sameDay(record.CheckinDate, date) {
			return record, nil
		}
	}
	return models.CheckinRecord{}, sql.ErrNoRows
}

func (s memCheckins) Insert(_ context.Context, _ store.Execer, record models.CheckinRecord) error {
	for _, existing := range s.db.state.checkins {
		if existing.RequestID == record.RequestID ||
			(existing.UserID == record.UserID && existing.ProjectKey == record.ProjectKey && sameDay(existing.CheckinDate, record.CheckinDate)) {
			return uniqueViolation()
		}
	}
	record.ID = s.db.nextID()
	s.db.state.checkins = append(s.db.state.checkins, record)
	return nil
}

func (s memCheckins) Latest(_ context.Context, userID, projectKey string) (models.CheckinRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var latest *models.CheckinRecord
	for i := range s.db.state.checkins {
		record := s.db.state.checkins[i]
		if record.UserID != userID || record.ProjectKey != projectKey {
			continue
		}
		if latest == nil || record.CheckinDate.After(latest.CheckinDate) {
			latest = &record
		}
	}
	if latest == nil {
		return models.CheckinRecord{}, sql.ErrNoRows
	}
	return *latest, nil
}

type memExchanges struct{ db *memDB }

func (s memExchanges) GetByRequestID(_ context.Context, _ store.Getter, requestID string) (models.ExchangeTransaction, error) {
	for _, row := range s.db.state.exchanges {
		if row.RequestID == requestID {
			return row, nil
		}
	}
	return models.ExchangeTransaction{}, sql.ErrNoRows
}

func (s memExchanges) Insert(_ context.Context, _ store.Execer, record models.ExchangeTransaction) error {
	for _, row := range s.db.state.exchanges {
		if row.RequestID == record.RequestID {
			return uniqueViolation()
		}
	}
	record.ID = s.db.nextID()
	s.db.state.exchanges = append(s.db.state.exchanges, record)
	return nil
}

func (s memExchanges) SumSuccess(_ context.Context, _ store.Getter, userID string, from, to time.Time) (int64, error) {
	var sum int64
	for _, row := range s.db.state.exchanges {
		if row.UserID == userID && row.Status == models.ExchangeSuccess &&
			!row.CreatedAt.Before(from) && row.CreatedAt.Before(to) {
			sum += row.ExchangedTokens
		}
	}
	return sum, nil
}

func (s memExchanges) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.ExchangeTransaction, int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var rows []models.ExchangeTransaction
	for i := len(s.db.state.exchanges) - 1; i >= 0; i-- {
		if s.db.state.exchanges[i].UserID == userID {
			rows = append(rows, s.db.state.exchanges[i])
		}
	}
	return pageOf(rows, limit, offset), int64(len(rows)), nil
}

type memAudit struct{ db *memDB }

func (s memAudit) Log(_ context.Context, _ store.Execer, actor, action, entityType, entityID, data string, now time.Time) error {
	s.db.state.audit = append(s.db.state.audit, models.AuditLog{
		ID:         strconv.FormatInt(s.db.nextID(), 10),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		CreatedAt:  now,
	})
	return nil
}

func (s memAudit) List(_ context.Context, limit, offset int) ([]models.AuditLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rows := make([]models.AuditLog, 0, len(s.db.state.audit))
	for i := len(s.db.state.audit) - 1; i >= 0; i-- {
		rows = append(rows, s.db.state.audit[i])
	}
	return pageOf(rows, limit, offset), nil
}

type memLegacy struct{ db *memDB }

func (s memLegacy) Get(_ context.Context, _ store.Getter, userID, projectKey string) (models.LegacyWallet, error) {
	for _, wallet := range s.db.state.legacy {
		if wallet.UserID == userID && wallet.ProjectKey == projectKey {
			return wallet, nil
		}
	}
	return models.LegacyWallet{}, sql.ErrNoRows
}

func (s memLegacy) ListAfter(_ context.Context, projectKey, afterUserID string, limit int) ([]models.LegacyWallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var rows []models.LegacyWallet
	for _, wallet := range s.db.state.legacy {
		if wallet.ProjectKey == projectKey && wallet.UserID > afterUserID {
			rows = append(rows, wallet)
			if len(rows) == limit {
				break
			}
		}
	}
	return rows, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(userID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

const testProject = "werewolf"

var testStart = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	svc   *CreditService
	db    *memDB
	clock *fakeClock
	hub   *recordingHub
}

func testRules() Rules {
	return Rules{
		ProjectKey:               testProject,
		CheckinGrantTokens:       30,
		TempExpiry:               7 * 24 * time.Hour,
		RedeemFailureLimitPerDay: 3,
		ExchangeDailyLimit:       2000,
		ExchangeRatio:            decimal.NewFromInt(1),
		Location:                 time.UTC,
		MigrationBatchSize:       2,
	}
}

func newTestEnv(t *testing.T, mutate ...func(*Rules)) *testEnv {
	t.Helper()
	rules := testRules()
	for _, fn := range mutate {
		fn(&rules)
	}
	db := newMemDB()
	clock := &fakeClock{now: testStart}
	hub := &recordingHub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{
		svc:   NewCreditService(db, db.stores(), hub, rules, clock, logger),
		db:    db,
		clock: clock,
		hub:   hub,
	}
}

// rewire rebuilds the service over the same state with some stores replaced.
func (e *testEnv) rewire(mutate func(*Stores)) {
	stores := e.db.stores()
	mutate(&stores)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = NewCreditService(e.db, stores, e.hub, e.svc.Rules(), e.clock, logger)
}
