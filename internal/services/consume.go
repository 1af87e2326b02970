package services

import (
	"context"
	"fmt"
	"time"

	"credits/internal/models"

	"github.com/jmoiron/sqlx"
)

type ConsumeRequest struct {
	UserID     string
	ProjectKey string
	Tokens     int64
	Source     string
	Metadata   map[string]string
	RequestID  string
}

type ConsumeResult struct {
	RequestID      string                 `json:"request_id"`
	TempSpent      int64                  `json:"temp_spent"`
	PermanentSpent int64                  `json:"permanent_spent"`
	Balance        models.BalanceSnapshot `json:"balance"`
}

// Consume bills paid usage, spending temp tokens before permanent ones.
func (s *CreditService) Consume(ctx context.Context, req ConsumeRequest) (result ConsumeResult, err error) {
	projectKey := s.projectKey(req.ProjectKey)
	defer s.observe("consume", time.Now(), &err, "user_id", req.UserID, "project_key", projectKey, "request_id", req.RequestID, "tokens", req.Tokens)
	if err := requireUser(req.UserID); err != nil {
		return ConsumeResult{}, err
	}
	if err := checkRequestID(req.RequestID); err != nil {
		return ConsumeResult{}, err
	}
	if req.Tokens <= 0 {
		return ConsumeResult{}, newError(KindInvalidArgument, "tokens must be positive")
	}
	source := req.Source
	if source == "" {
		source = "usage"
	}
	now := s.clock.Now()

	var replayed bool
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		replayed = false
		result = ConsumeResult{RequestID: req.RequestID}
		account, err := s.lockAccount(ctx, tx, req.UserID, projectKey, now)
		if err != nil {
			return err
		}
		entries, err := s.ledger.FindByRequestID(ctx, tx, req.RequestID)
		if err != nil {
			return fmt.Errorf("find ledger entries: %w", err)
		}
		for _, entry := range entries {
			spent := -(entry.TokenDeltaTemp + entry.TokenDeltaPermanent)
			if entry.Type != models.EntryConsume || entry.UserID != req.UserID || entry.ProjectKey != projectKey || spent != req.Tokens {
				return newError(KindConflict, "request id %s was used for a different request", req.RequestID)
			}
			replayed = true
			result.TempSpent = -entry.TokenDeltaTemp
			result.PermanentSpent = -entry.TokenDeltaPermanent
			result.Balance = entry.Snapshot()
			return nil
		}

		dropped := expire(&account, now)
		if account.TempBalance+account.PermanentBalance < req.Tokens {
			return newError(KindInsufficientBalance, "usage needs %d tokens, balance is %d", req.Tokens, account.TempBalance+account.PermanentBalance)
		}
		fromTemp := min(account.TempBalance, req.Tokens)
		fromPermanent := req.Tokens - fromTemp
		account.TempBalance -= fromTemp
		account.PermanentBalance -= fromPermanent
		if err := s.saveAccount(ctx, tx, &account, now); err != nil {
			return err
		}
		public, err := s.publicBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		metadata := models.Metadata{}
		for key, value := range req.Metadata {
			metadata[key] = value
		}
		metadata["billedTokens"] = fmt.Sprint(req.Tokens)
		entry, err := s.appendEntry(ctx, tx, account, public, models.LedgerEntry{
			RequestID:           req.RequestID,
			Type:                models.EntryConsume,
			TokenDeltaTemp:      -fromTemp,
			TokenDeltaPermanent: -fromPermanent,
			ExpiredTemp:         dropped,
			Source:              source,
			Metadata:            metadata,
			CreatedAt:           now,
		})
		if err != nil {
			return err
		}
		recordMovement(entry)
		result.TempSpent = fromTemp
		result.PermanentSpent = fromPermanent
		result.Balance = entry.Snapshot()
		return nil
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	if !replayed {
		s.broadcast(req.UserID, projectKey, models.EntryConsume, req.RequestID, result.Balance)
	}
	return result, nil
}
