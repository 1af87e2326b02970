package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"credits/internal/models"
	"credits/internal/validator"

	"github.com/jmoiron/sqlx"
)

type ReverseRequest struct {
	UserID            string
	OriginalRequestID string
	Reason            string
	Operator          string
}

type ReverseResult struct {
	OriginalRequestID string                 `json:"original_request_id"`
	ProjectKey        string                 `json:"project_key"`
	ReversalEntryIDs  []int64                `json:"reversal_entry_ids"`
	Balance           models.BalanceSnapshot `json:"balance"`
}

func reversalRequestID(entryID int64) string {
	return fmt.Sprintf("reversal:%d", entryID)
}

// AdminReverse negates every ledger entry written under a request id, one
// REVERSAL entry per original. An entry can be reversed once.
func (s *CreditService) AdminReverse(ctx context.Context, req ReverseRequest) (result ReverseResult, err error) {
	defer s.observe("admin_reverse", time.Now(), &err, "user_id", req.UserID, "original_request_id", req.OriginalRequestID, "operator", req.Operator)
	if err := requireUser(req.UserID); err != nil {
		return ReverseResult{}, err
	}
	if err := checkRequestID(req.OriginalRequestID); err != nil {
		return ReverseResult{}, err
	}
	if err := validator.ValidateReason(req.Reason); err != nil {
		return ReverseResult{}, newError(KindInvalidArgument, "reason is required")
	}
	reason := strings.TrimSpace(req.Reason)
	now := s.clock.Now()

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		result = ReverseResult{OriginalRequestID: req.OriginalRequestID}
		found, err := s.ledger.FindByRequestID(ctx, tx, req.OriginalRequestID)
		if err != nil {
			return fmt.Errorf("find ledger entries: %w", err)
		}
		originals := make([]models.LedgerEntry, 0, len(found))
		for _, entry := range found {
			if entry.UserID == req.UserID {
				originals = append(originals, entry)
			}
		}
		if len(originals) == 0 {
			return newError(KindNotFound, "no ledger entries for request %s", req.OriginalRequestID)
		}
		projectKey := originals[0].ProjectKey
		var deltaTemp, deltaPermanent, deltaPublic int64
		for _, entry := range originals {
			if entry.Type == models.EntryReversal {
				return newError(KindInvalidArgument, "reversal entries cannot be reversed")
			}
			if entry.ProjectKey != projectKey {
				return fmt.Errorf("request %s spans projects %s and %s", req.OriginalRequestID, projectKey, entry.ProjectKey)
			}
			deltaTemp += entry.TokenDeltaTemp
			deltaPermanent += entry.TokenDeltaPermanent
			deltaPublic += entry.TokenDeltaPublic
		}
		result.ProjectKey = projectKey

		account, err := s.lockAccount(ctx, tx, req.UserID, projectKey, now)
		if err != nil {
			return err
		}
		for _, entry := range originals {
			reversed, err := s.ledger.HasReversal(ctx, tx, entry.ID)
			if err != nil {
				return fmt.Errorf("check reversal: %w", err)
			}
			if reversed {
				return newError(KindAlreadyReversed, "entry %d of request %s is already reversed", entry.ID, req.OriginalRequestID)
			}
		}

		dropped := expire(&account, now)
		if account.TempBalance-deltaTemp < 0 || account.PermanentBalance-deltaPermanent < 0 {
			return newError(KindInsufficientBalance, "reversal would leave temp %d, permanent %d",
				account.TempBalance-deltaTemp, account.PermanentBalance-deltaPermanent)
		}
		var public int64
		if deltaPublic != 0 {
			locked, err := s.lockPublic(ctx, tx, req.UserID, now)
			if err != nil {
				return err
			}
			if locked.Balance-deltaPublic < 0 {
				return newError(KindInsufficientBalance, "reversal would leave public %d", locked.Balance-deltaPublic)
			}
			public = locked.Balance
		} else if public, err = s.publicBalance(ctx, tx, req.UserID); err != nil {
			return err
		}

		for i, original := range originals {
			account.TempBalance -= original.TokenDeltaTemp
			account.PermanentBalance -= original.TokenDeltaPermanent
			public -= original.TokenDeltaPublic
			s.settleExpiry(&account, now)
			expired := int64(0)
			if i == 0 {
				expired = dropped
			}
			originalID := original.ID
			entry, err := s.appendEntry(ctx, tx, account, public, models.LedgerEntry{
				RequestID:           reversalRequestID(original.ID),
				Type:                models.EntryReversal,
				TokenDeltaTemp:      -original.TokenDeltaTemp,
				TokenDeltaPermanent: -original.TokenDeltaPermanent,
				TokenDeltaPublic:    -original.TokenDeltaPublic,
				ExpiredTemp:         expired,
				Source:              "admin",
				Metadata: models.Metadata{
					"reason":            reason,
					"operator":          req.Operator,
					"originalRequestId": req.OriginalRequestID,
					"originalType":      string(original.Type),
				},
				RelatedEntryID: &originalID,
				CreatedAt:      now,
			})
			if err != nil {
				return err
			}
			recordMovement(entry)
			result.ReversalEntryIDs = append(result.ReversalEntryIDs, entry.ID)
			result.Balance = entry.Snapshot()
		}
		if err := s.saveAccount(ctx, tx, &account, now); err != nil {
			return err
		}
		if deltaPublic != 0 {
			if err := s.public.UpdateBalance(ctx, tx, req.UserID, public, now); err != nil {
				return fmt.Errorf("update public account: %w", err)
			}
		}
		return s.auditLog(ctx, tx, req.Operator, "credit_reverse", "ledger_request", req.OriginalRequestID, map[string]any{
			"user_id":            req.UserID,
			"project_key":        projectKey,
			"reason":             reason,
			"reversal_entry_ids": result.ReversalEntryIDs,
		}, now)
	})
	if err != nil {
		return ReverseResult{}, err
	}
	s.broadcast(req.UserID, result.ProjectKey, models.EntryReversal, req.OriginalRequestID, result.Balance)
	return result, nil
}
