package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"credits/internal/models"
	"credits/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type AdjustRequest struct {
	UserID         string
	ProjectKey     string
	DeltaTemp      int64
	DeltaPermanent int64
	Reason         string
	Operator       string
	RequestID      string
}

type AdjustResult struct {
	RequestID string                 `json:"request_id"`
	EntryID   int64                  `json:"entry_id"`
	Balance   models.BalanceSnapshot `json:"balance"`
}

// AdminAdjust applies an operator's signed deltas. It skips every eligibility
// rule but never lets a bucket go negative.
func (s *CreditService) AdminAdjust(ctx context.Context, req AdjustRequest) (result AdjustResult, err error) {
	projectKey := s.projectKey(req.ProjectKey)
	defer s.observe("admin_adjust", time.Now(), &err, "user_id", req.UserID, "project_key", projectKey, "request_id", req.RequestID, "operator", req.Operator)
	if err := requireUser(req.UserID); err != nil {
		return AdjustResult{}, err
	}
	if req.DeltaTemp == 0 && req.DeltaPermanent == 0 {
		return AdjustResult{}, newError(KindInvalidArgument, "at least one delta must be non-zero")
	}
	if err := validator.ValidateReason(req.Reason); err != nil {
		return AdjustResult{}, newError(KindInvalidArgument, "reason is required")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = fmt.Sprintf("%s:adjust:%s:%s", projectKey, req.UserID, uuid.NewString())
	} else if err := checkRequestID(requestID); err != nil {
		return AdjustResult{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	now := s.clock.Now()

	var replayed bool
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		replayed = false
		result = AdjustResult{RequestID: requestID}
		account, err := s.lockAccount(ctx, tx, req.UserID, projectKey, now)
		if err != nil {
			return err
		}
		entries, err := s.ledger.FindByRequestID(ctx, tx, requestID)
		if err != nil {
			return fmt.Errorf("find ledger entries: %w", err)
		}
		for _, entry := range entries {
			if entry.Type != models.EntryAdminAdjust || entry.UserID != req.UserID || entry.ProjectKey != projectKey ||
				entry.TokenDeltaTemp != req.DeltaTemp || entry.TokenDeltaPermanent != req.DeltaPermanent {
				return newError(KindConflict, "request id %s was used for a different request", requestID)
			}
			replayed = true
			result.EntryID = entry.ID
			result.Balance = entry.Snapshot()
			return nil
		}

		dropped := expire(&account, now)
		newTemp := account.TempBalance + req.DeltaTemp
		newPermanent := account.PermanentBalance + req.DeltaPermanent
		if newTemp < 0 || newPermanent < 0 {
			return newError(KindInsufficientBalance, "adjustment would leave temp %d, permanent %d", newTemp, newPermanent)
		}
		account.TempBalance = newTemp
		account.PermanentBalance = newPermanent
		if req.DeltaTemp > 0 || newTemp == 0 {
			s.refreshExpiry(&account, now)
		}
		if err := s.saveAccount(ctx, tx, &account, now); err != nil {
			return err
		}
		public, err := s.publicBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		entry, err := s.appendEntry(ctx, tx, account, public, models.LedgerEntry{
			RequestID:           requestID,
			Type:                models.EntryAdminAdjust,
			TokenDeltaTemp:      req.DeltaTemp,
			TokenDeltaPermanent: req.DeltaPermanent,
			ExpiredTemp:         dropped,
			Source:              "admin",
			Metadata:            models.Metadata{"reason": reason, "operator": req.Operator},
			CreatedAt:           now,
		})
		if err != nil {
			return err
		}
		if err := s.auditLog(ctx, tx, req.Operator, "credit_adjust", "credit_account", req.UserID+":"+projectKey, map[string]any{
			"request_id":      requestID,
			"delta_temp":      req.DeltaTemp,
			"delta_permanent": req.DeltaPermanent,
			"reason":          reason,
		}, now); err != nil {
			return err
		}
		recordMovement(entry)
		result.EntryID = entry.ID
		result.Balance = entry.Snapshot()
		return nil
	})
	if err != nil {
		return AdjustResult{}, err
	}
	if !replayed {
		s.broadcast(req.UserID, projectKey, models.EntryAdminAdjust, requestID, result.Balance)
	}
	return result, nil
}

func (s *CreditService) auditLog(ctx context.Context, tx *sqlx.Tx, actor, action, entityType, entityID string, payload map[string]any, now time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	if actor == "" {
		actor = "system"
	}
	if err := s.audit.Log(ctx, tx, actor, action, entityType, entityID, string(data), now); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}
