package services

import (
	"context"
	"fmt"
	"time"

	"credits/internal/models"
	"credits/internal/tokens"

	"github.com/jmoiron/sqlx"
)

type ExchangeRequest struct {
	UserID     string
	ProjectKey string
	RequestID  string
	Tokens     int64
}

type ExchangeResult struct {
	RequestID       string                 `json:"request_id"`
	ExchangedTokens int64                  `json:"exchanged_tokens"`
	PublicTokens    int64                  `json:"public_tokens"`
	Status          models.ExchangeStatus  `json:"status"`
	Balance         models.BalanceSnapshot `json:"balance"`
}

// Exchange moves permanent tokens of one project into the user's public
// balance. Rejections are stored as FAILED transactions so a retry with the
// same request id gets the same answer.
func (s *CreditService) Exchange(ctx context.Context, req ExchangeRequest) (result ExchangeResult, err error) {
	projectKey := s.projectKey(req.ProjectKey)
	defer s.observe("exchange", time.Now(), &err, "user_id", req.UserID, "project_key", projectKey, "request_id", req.RequestID, "tokens", req.Tokens)
	if err := requireUser(req.UserID); err != nil {
		return ExchangeResult{}, err
	}
	if err := checkRequestID(req.RequestID); err != nil {
		return ExchangeResult{}, err
	}
	if req.Tokens <= 0 {
		return ExchangeResult{}, newError(KindInvalidArgument, "tokens must be positive")
	}
	publicTokens := tokens.Convert(req.Tokens, s.rules.ExchangeRatio)
	if publicTokens <= 0 {
		return ExchangeResult{}, newError(KindInvalidArgument, "%d tokens convert to no public tokens", req.Tokens)
	}
	now := s.clock.Now()

	var rejected error
	var replayed bool
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		rejected = nil
		replayed = false
		result = ExchangeResult{RequestID: req.RequestID, ExchangedTokens: req.Tokens, PublicTokens: publicTokens}

		account, err := s.lockAccount(ctx, tx, req.UserID, projectKey, now)
		if err != nil {
			return err
		}
		// The public row lock also serializes the per-user daily cap across
		// projects.
		public, err := s.lockPublic(ctx, tx, req.UserID, now)
		if err != nil {
			return err
		}

		existing, err := s.exchanges.GetByRequestID(ctx, tx, req.RequestID)
		if err == nil {
			replayed = true
			return s.replayExchange(ctx, tx, req, projectKey, existing, &result, &rejected)
		}
		if !isNoRows(err) {
			return fmt.Errorf("find exchange: %w", err)
		}

		record := models.ExchangeTransaction{
			RequestID:       req.RequestID,
			UserID:          req.UserID,
			ProjectKey:      projectKey,
			ExchangedTokens: req.Tokens,
			PublicTokens:    publicTokens,
			PublicBefore:    public.Balance,
			PublicAfter:     public.Balance,
			PermanentBefore: account.PermanentBalance,
			PermanentAfter:  account.PermanentBalance,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		reject := func(kind ErrorKind, reason string) error {
			record.Status = models.ExchangeFailed
			record.FailKind = string(kind)
			record.FailReason = reason
			if err := s.exchanges.Insert(ctx, tx, record); err != nil {
				return fmt.Errorf("record failed exchange: %w", err)
			}
			rejected = &Error{Kind: kind, Reason: reason}
			return nil
		}

		if req.Tokens > account.PermanentBalance {
			return reject(KindInsufficientBalance, fmt.Sprintf("exchange needs %d permanent tokens, balance is %d", req.Tokens, account.PermanentBalance))
		}
		if limit := s.rules.ExchangeDailyLimit; limit > 0 {
			from, to := dayBounds(now, s.rules.Location)
			used, err := s.exchanges.SumSuccess(ctx, tx, req.UserID, from, to)
			if err != nil {
				return fmt.Errorf("sum daily exchanges: %w", err)
			}
			if used+req.Tokens > limit {
				return reject(KindDailyLimitExceeded, fmt.Sprintf("daily exchange limit is %d, %d already used", limit, used))
			}
		}

		dropped := expire(&account, now)
		account.PermanentBalance -= req.Tokens
		if err := s.saveAccount(ctx, tx, &account, now); err != nil {
			return err
		}
		publicAfter := public.Balance + publicTokens
		if err := s.public.UpdateBalance(ctx, tx, req.UserID, publicAfter, now); err != nil {
			return fmt.Errorf("update public account: %w", err)
		}
		metadata := models.Metadata{
			"exchangedTokens": fmt.Sprint(req.Tokens),
			"publicTokens":    fmt.Sprint(publicTokens),
			"ratio":           s.rules.ExchangeRatio.String(),
		}
		out, err := s.appendEntry(ctx, tx, account, public.Balance, models.LedgerEntry{
			RequestID:           req.RequestID,
			Type:                models.EntryExchangeOut,
			TokenDeltaPermanent: -req.Tokens,
			ExpiredTemp:         dropped,
			Source:              "exchange",
			Metadata:            metadata,
			CreatedAt:           now,
		})
		if err != nil {
			return err
		}
		in, err := s.appendEntry(ctx, tx, account, publicAfter, models.LedgerEntry{
			RequestID:        req.RequestID,
			Type:             models.EntryExchangeIn,
			TokenDeltaPublic: publicTokens,
			Source:           "exchange",
			Metadata:         metadata,
			CreatedAt:        now,
		})
		if err != nil {
			return err
		}
		record.Status = models.ExchangeSuccess
		record.PublicAfter = publicAfter
		record.PermanentAfter = account.PermanentBalance
		if err := s.exchanges.Insert(ctx, tx, record); err != nil {
			return fmt.Errorf("record exchange: %w", err)
		}
		recordMovement(out, in)
		result.Status = models.ExchangeSuccess
		result.Balance = in.Snapshot()
		return nil
	})
	if err != nil {
		return ExchangeResult{}, err
	}
	if rejected != nil {
		return ExchangeResult{}, rejected
	}
	if !replayed {
		s.broadcast(req.UserID, projectKey, models.EntryExchangeIn, req.RequestID, result.Balance)
	}
	return result, nil
}

func (s *CreditService) replayExchange(ctx context.Context, tx *sqlx.Tx, req ExchangeRequest, projectKey string, existing models.ExchangeTransaction, result *ExchangeResult, rejected *error) error {
	if existing.UserID != req.UserID || existing.ProjectKey != projectKey || existing.ExchangedTokens != req.Tokens {
		return newError(KindConflict, "request id %s was used for a different exchange", req.RequestID)
	}
	switch existing.Status {
	case models.ExchangeSuccess:
		entries, err := s.ledger.FindByRequestID(ctx, tx, req.RequestID)
		if err != nil {
			return fmt.Errorf("find exchange entries: %w", err)
		}
		for _, entry := range entries {
			if entry.Type == models.EntryExchangeIn {
				result.PublicTokens = existing.PublicTokens
				result.Status = models.ExchangeSuccess
				result.Balance = entry.Snapshot()
				return nil
			}
		}
		return fmt.Errorf("exchange %s has no %s entry", req.RequestID, models.EntryExchangeIn)
	case models.ExchangeFailed:
		*rejected = &Error{Kind: ErrorKind(existing.FailKind), Reason: existing.FailReason}
		return nil
	default:
		return newError(KindConflict, "exchange %s is still %s", req.RequestID, existing.Status)
	}
}
