package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type CreditType string

const (
	CreditTemp      CreditType = "TEMP"
	CreditPermanent CreditType = "PERMANENT"
)

func (t CreditType) Valid() bool {
	return t == CreditTemp || t == CreditPermanent
}

type EntryType string

const (
	EntryCheckin       EntryType = "CHECKIN"
	EntryRedeem        EntryType = "REDEEM"
	EntryConsume       EntryType = "CONSUME"
	EntryAdminAdjust   EntryType = "ADMIN_ADJUST"
	EntryReversal      EntryType = "REVERSAL"
	EntryExchangeOut   EntryType = "EXCHANGE_OUT"
	EntryExchangeIn    EntryType = "EXCHANGE_IN"
	EntryMigrationInit EntryType = "MIGRATION_INIT"
)

type ExchangeStatus string

const (
	ExchangePending ExchangeStatus = "PENDING"
	ExchangeSuccess ExchangeStatus = "SUCCESS"
	ExchangeFailed  ExchangeStatus = "FAILED"
)

type Account struct {
	ID               int64      `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	ProjectKey       string     `db:"project_key" json:"project_key"`
	TempBalance      int64      `db:"temp_balance" json:"temp_balance"`
	TempExpiresAt    *time.Time `db:"temp_expires_at" json:"temp_expires_at,omitempty"`
	PermanentBalance int64      `db:"permanent_balance" json:"permanent_balance"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// TempExpired reports whether the temp bucket must be treated as empty at now.
func (a Account) TempExpired(now time.Time) bool {
	return a.TempExpiresAt != nil && !now.Before(*a.TempExpiresAt)
}

type PublicAccount struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type LedgerEntry struct {
	ID                  int64      `db:"id" json:"id"`
	RequestID           string     `db:"request_id" json:"request_id"`
	ProjectKey          string     `db:"project_key" json:"project_key"`
	UserID              string     `db:"user_id" json:"user_id"`
	Type                EntryType  `db:"type" json:"type"`
	TokenDeltaTemp      int64      `db:"token_delta_temp" json:"token_delta_temp"`
	TokenDeltaPermanent int64      `db:"token_delta_permanent" json:"token_delta_permanent"`
	TokenDeltaPublic    int64      `db:"token_delta_public" json:"token_delta_public"`
	ExpiredTemp         int64      `db:"expired_temp" json:"expired_temp"`
	BalanceTemp         int64      `db:"balance_temp" json:"balance_temp"`
	BalancePermanent    int64      `db:"balance_permanent" json:"balance_permanent"`
	BalancePublic       int64      `db:"balance_public" json:"balance_public"`
	TempExpiresAt       *time.Time `db:"temp_expires_at" json:"temp_expires_at,omitempty"`
	Source              string     `db:"source" json:"source"`
	Metadata            Metadata   `db:"metadata" json:"metadata"`
	RelatedEntryID      *int64     `db:"related_entry_id" json:"related_entry_id,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

func (e LedgerEntry) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		PublicPermanentTokens: e.BalancePublic,
		TempTokens:            e.BalanceTemp,
		PermanentTokens:       e.BalancePermanent,
		TempExpiresAt:         e.TempExpiresAt,
	}
}

type BalanceSnapshot struct {
	PublicPermanentTokens int64      `json:"public_permanent_tokens"`
	TempTokens            int64      `json:"temp_tokens"`
	PermanentTokens       int64      `json:"permanent_tokens"`
	TempExpiresAt         *time.Time `json:"temp_expires_at"`
}

// Metadata is a string map persisted as a JSON object in a text column.
// A NULL or blank column reads back as an empty map.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return errors.New("metadata: unsupported column type")
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	decoded := map[string]string{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*m = decoded
	return nil
}

type RedeemCode struct {
	ID             int64      `db:"id" json:"id"`
	Code           string     `db:"code" json:"code"`
	Tokens         int64      `db:"tokens" json:"tokens"`
	CreditType     CreditType `db:"credit_type" json:"credit_type"`
	Active         bool       `db:"active" json:"active"`
	ValidFrom      *time.Time `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil     *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	MaxRedemptions *int       `db:"max_redemptions" json:"max_redemptions,omitempty"`
	RedeemedCount  int        `db:"redeemed_count" json:"redeemed_count"`
	CreatedBy      string     `db:"created_by" json:"created_by"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

type CodeState string

const (
	CodeInactive  CodeState = "INACTIVE"
	CodeScheduled CodeState = "SCHEDULED"
	CodeActive    CodeState = "ACTIVE"
	CodeExpired   CodeState = "EXPIRED"
	CodeExhausted CodeState = "EXHAUSTED"
)

// State evaluates the code at now. The active flag gates everything; an
// elapsed window wins over exhausted capacity.
func (c RedeemCode) State(now time.Time) CodeState {
	switch {
	case !c.Active:
		return CodeInactive
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return CodeScheduled
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return CodeExpired
	case c.MaxRedemptions != nil && c.RedeemedCount >= *c.MaxRedemptions:
		return CodeExhausted
	default:
		return CodeActive
	}
}

type RedemptionRecord struct {
	ID            int64      `db:"id" json:"id"`
	RequestID     string     `db:"request_id" json:"request_id"`
	UserID        string     `db:"user_id" json:"user_id"`
	ProjectKey    string     `db:"project_key" json:"project_key"`
	Code          string     `db:"code" json:"code"`
	Success       bool       `db:"success" json:"success"`
	TokensGranted int64      `db:"tokens_granted" json:"tokens_granted"`
	CreditType    CreditType `db:"credit_type" json:"credit_type,omitempty"`
	ErrorKind     string     `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage  string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

type CheckinRecord struct {
	ID            int64     `db:"id" json:"id"`
	RequestID     string    `db:"request_id" json:"request_id"`
	UserID        string    `db:"user_id" json:"user_id"`
	ProjectKey    string    `db:"project_key" json:"project_key"`
	CheckinDate   time.Time `db:"checkin_date" json:"checkin_date"`
	TokensGranted int64     `db:"tokens_granted" json:"tokens_granted"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type ExchangeTransaction struct {
	ID              int64          `db:"id" json:"id"`
	RequestID       string         `db:"request_id" json:"request_id"`
	UserID          string         `db:"user_id" json:"user_id"`
	ProjectKey      string         `db:"project_key" json:"project_key"`
	ExchangedTokens int64          `db:"exchanged_tokens" json:"exchanged_tokens"`
	PublicTokens    int64          `db:"public_tokens" json:"public_tokens"`
	Status          ExchangeStatus `db:"status" json:"status"`
	PublicBefore    int64          `db:"public_before" json:"public_before"`
	PublicAfter     int64          `db:"public_after" json:"public_after"`
	PermanentBefore int64          `db:"project_permanent_before" json:"project_permanent_before"`
	PermanentAfter  int64          `db:"project_permanent_after" json:"project_permanent_after"`
	FailKind        string         `db:"fail_kind" json:"fail_kind,omitempty"`
	FailReason      string         `db:"fail_reason" json:"fail_reason,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

type LegacyWallet struct {
	UserID          string     `db:"user_id" json:"user_id"`
	ProjectKey      string     `db:"project_key" json:"project_key"`
	TempTokens      int64      `db:"temp_tokens" json:"temp_tokens"`
	TempExpiresAt   *time.Time `db:"temp_expires_at" json:"temp_expires_at,omitempty"`
	PermanentTokens int64      `db:"permanent_tokens" json:"permanent_tokens"`
	PublicTokens    int64      `db:"public_tokens" json:"public_tokens"`
}

// ReconcileRow is one bucket whose stored balance disagrees with its ledger.
type ReconcileRow struct {
	UserID     string `db:"user_id" json:"user_id"`
	ProjectKey string `db:"project_key" json:"project_key"`
	Bucket     string `db:"bucket" json:"bucket"`
	Stored     int64  `db:"stored" json:"stored"`
	Ledger     int64  `db:"ledger" json:"ledger"`
	Difference int64  `db:"difference" json:"difference"`
}

type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Actor      string    `db:"actor" json:"actor"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Data       string    `db:"data" json:"data"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
