package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"credits/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type RedeemRequest struct {
	UserID     string
	ProjectKey string
	Code       string
	// RequestID makes retries safe. Empty generates a fresh id, so the call
	// is not replayable.
	RequestID string
}

type RedeemResult struct {
	RequestID     string                 `json:"request_id"`
	Code          string                 `json:"code"`
	CreditType    models.CreditType      `json:"credit_type"`
	TokensGranted int64                  `json:"tokens_granted"`
	Balance       models.BalanceSnapshot `json:"balance"`
}

// NormalizeCode is how codes are stored and compared.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem credits the bucket named by a redeem code. Rejections other than
// AlreadyRedeemed are recorded as failed attempts and count toward the
// daily failure limit; they are committed even though the call fails.
func (s *CreditService) Redeem(ctx context.Context, req RedeemRequest) (result RedeemResult, err error) {
	projectKey := s.projectKey(req.ProjectKey)
	code := NormalizeCode(req.Code)
	defer s.observe("redeem", time.Now(), &err, "user_id", req.UserID, "project_key", projectKey, "code", code, "request_id", req.RequestID)
	if err := requireUser(req.UserID); err != nil {
		return RedeemResult{}, err
	}
	if code == "" {
		return RedeemResult{}, newError(KindInvalidCode, "code is required")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = fmt.Sprintf("%s:redeem:%s:%s", projectKey, req.UserID, uuid.NewString())
	} else if err := checkRequestID(requestID); err != nil {
		return RedeemResult{}, err
	}
	now := s.clock.Now()
	from, to := dayBounds(now, s.rules.Location)

	var rejected error
	var replayed bool
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		rejected = nil
		replayed = false
		result = RedeemResult{RequestID: requestID, Code: code}

		account, err := s.lockAccount(ctx, tx, req.UserID, projectKey, now)
		if err != nil {
			return err
		}
		if req.RequestID != "" {
			handled, err := s.replayRedeem(ctx, tx, req.UserID, projectKey, code, &result, &rejected)
			if err != nil || handled {
				replayed = handled
				return err
			}
		}

		record := models.RedemptionRecord{
			RequestID:  requestID,
			UserID:     req.UserID,
			ProjectKey: projectKey,
			Code:       code,
			CreatedAt:  now,
		}
		reject := func(kind ErrorKind, reason string) error {
			record.ErrorKind = string(kind)
			record.ErrorMessage = reason
			if err := s.redemptions.Insert(ctx, tx, record); err != nil {
				return fmt.Errorf("record failed redemption: %w", err)
			}
			rejected = &Error{Kind: kind, Reason: reason}
			return nil
		}

		if limit := s.rules.RedeemFailureLimitPerDay; limit > 0 {
			failures, err := s.redemptions.CountFailures(ctx, tx, req.UserID, projectKey, from, to)
			if err != nil {
				return fmt.Errorf("count failed redemptions: %w", err)
			}
			if failures >= limit {
				return reject(KindTooManyAttempts, fmt.Sprintf("%d failed attempts today, try again tomorrow", failures))
			}
		}
		already, err := s.redemptions.HasSucceeded(ctx, tx, req.UserID, projectKey, code)
		if err != nil {
			return fmt.Errorf("check redemption: %w", err)
		}
		if already {
			rejected = newError(KindAlreadyRedeemed, "code %s was already redeemed", code)
			return nil
		}

		redeemCode, err := s.codes.GetForUpdate(ctx, tx, code)
		if isNoRows(err) {
			return reject(KindInvalidCode, "code does not exist")
		}
		if err != nil {
			return fmt.Errorf("lock redeem code: %w", err)
		}
		switch redeemCode.State(now) {
		case models.CodeInactive:
			return reject(KindInvalidCode, "code is disabled")
		case models.CodeScheduled:
			return reject(KindCodeExpired, "code is not valid yet")
		case models.CodeExpired:
			return reject(KindCodeExpired, "code has expired")
		case models.CodeExhausted:
			return reject(KindCodeExhausted, "code has no redemptions left")
		}
		updated, err := s.codes.IncrementRedeemed(ctx, tx, redeemCode.ID, now)
		if err != nil {
			return fmt.Errorf("increment redeem code: %w", err)
		}
		if updated == 0 {
			return reject(KindCodeExhausted, "code has no redemptions left")
		}

		dropped := expire(&account, now)
		entry := models.LedgerEntry{
			RequestID:   requestID,
			Type:        models.EntryRedeem,
			ExpiredTemp: dropped,
			Source:      "redeem",
			Metadata:    models.Metadata{"code": code, "creditType": string(redeemCode.CreditType)},
			CreatedAt:   now,
		}
		switch redeemCode.CreditType {
		case models.CreditTemp:
			account.TempBalance += redeemCode.Tokens
			s.refreshExpiry(&account, now)
			entry.TokenDeltaTemp = redeemCode.Tokens
		case models.CreditPermanent:
			account.PermanentBalance += redeemCode.Tokens
			entry.TokenDeltaPermanent = redeemCode.Tokens
		default:
			return fmt.Errorf("redeem code %s has unknown credit type %q", code, redeemCode.CreditType)
		}
		if err := s.saveAccount(ctx, tx, &account, now); err != nil {
			return err
		}
		record.Success = true
		record.TokensGranted = redeemCode.Tokens
		record.CreditType = redeemCode.CreditType
		if err := s.redemptions.Insert(ctx, tx, record); err != nil {
			return fmt.Errorf("record redemption: %w", err)
		}
		public, err := s.publicBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		entry, err = s.appendEntry(ctx, tx, account, public, entry)
		if err != nil {
			return err
		}
		recordMovement(entry)
		result.CreditType = redeemCode.CreditType
		result.TokensGranted = redeemCode.Tokens
		result.Balance = entry.Snapshot()
		return nil
	})
	if err != nil {
		return RedeemResult{}, err
	}
	if rejected != nil {
		return RedeemResult{}, rejected
	}
	if !replayed {
		s.broadcast(req.UserID, projectKey, models.EntryRedeem, requestID, result.Balance)
	}
	return result, nil
}

// replayRedeem answers a request id that was already processed: a success is
// answered from its ledger entry, a recorded failure with the same error.
func (s *CreditService) replayRedeem(ctx context.Context, tx *sqlx.Tx, userID, projectKey, code string, result *RedeemResult, rejected *error) (bool, error) {
	entries, err := s.ledger.FindByRequestID(ctx, tx, result.RequestID)
	if err != nil {
		return false, fmt.Errorf("find ledger entries: %w", err)
	}
	for _, entry := range entries {
		if entry.Type != models.EntryRedeem || entry.UserID != userID || entry.ProjectKey != projectKey || entry.Metadata["code"] != code {
			return false, newError(KindConflict, "request id %s was used for a different request", result.RequestID)
		}
		result.CreditType = models.CreditType(entry.Metadata["creditType"])
		result.TokensGranted = entry.TokenDeltaTemp + entry.TokenDeltaPermanent
		result.Balance = entry.Snapshot()
		return true, nil
	}
	record, err := s.redemptions.GetByRequestID(ctx, tx, result.RequestID)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find redemption: %w", err)
	}
	if record.UserID != userID || record.ProjectKey != projectKey || record.Code != code {
		return false, newError(KindConflict, "request id %s was used for a different request", result.RequestID)
	}
	if record.Success {
		// A success always has its ledger entry in the same transaction.
		return false, fmt.Errorf("redemption %s has no ledger entry", result.RequestID)
	}
	*rejected = &Error{Kind: ErrorKind(record.ErrorKind), Reason: record.ErrorMessage}
	return true, nil
}
