package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"credits/internal/models"
	"credits/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const defaultCodePrefix = "CREDIT"

type CreateRedeemCodeRequest struct {
	// Code is used as given after normalization; empty generates
	// <Prefix>-<10 hex digits>.
	Code           string
	Prefix         string
	Tokens         int64
	CreditType     models.CreditType
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	MaxRedemptions *int
	Operator       string
}

func generateCode(prefix string) string {
	prefix = NormalizeCode(prefix)
	if prefix == "" {
		prefix = defaultCodePrefix
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return prefix + "-" + suffix
}

func (s *CreditService) CreateRedeemCode(ctx context.Context, req CreateRedeemCodeRequest) (code models.RedeemCode, err error) {
	defer s.observe("create_redeem_code", time.Now(), &err, "code", req.Code, "operator", req.Operator)
	value := NormalizeCode(req.Code)
	if value == "" {
		value = generateCode(req.Prefix)
	}
	if err := validator.ValidateRedeemCode(value); err != nil {
		return models.RedeemCode{}, newError(KindInvalidArgument, "code must be 4-64 characters of A-Z, 0-9 and dashes")
	}
	if req.Tokens <= 0 {
		return models.RedeemCode{}, newError(KindInvalidArgument, "tokens must be positive")
	}
	creditType := req.CreditType
	if creditType == "" {
		creditType = models.CreditPermanent
	}
	if !creditType.Valid() {
		return models.RedeemCode{}, newError(KindInvalidArgument, "unknown credit type %q", req.CreditType)
	}
	if req.MaxRedemptions != nil && *req.MaxRedemptions <= 0 {
		return models.RedeemCode{}, newError(KindInvalidArgument, "max redemptions must be positive")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		return models.RedeemCode{}, newError(KindInvalidArgument, "valid until must be after valid from")
	}
	now := s.clock.Now()
	operator := req.Operator
	if operator == "" {
		operator = "system"
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.codes.Exists(ctx, tx, value)
		if err != nil {
			return fmt.Errorf("check redeem code: %w", err)
		}
		if exists {
			return newError(KindConflict, "code %s already exists", value)
		}
		code = models.RedeemCode{
			Code:           value,
			Tokens:         req.Tokens,
			CreditType:     creditType,
			Active:         true,
			ValidFrom:      req.ValidFrom,
			ValidUntil:     req.ValidUntil,
			MaxRedemptions: req.MaxRedemptions,
			CreatedBy:      operator,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		id, err := s.codes.Create(ctx, tx, code)
		if err != nil {
			return fmt.Errorf("create redeem code: %w", err)
		}
		code.ID = id
		return s.auditLog(ctx, tx, operator, "redeem_code_create", "redeem_code", value, map[string]any{
			"tokens":          req.Tokens,
			"credit_type":     creditType,
			"max_redemptions": req.MaxRedemptions,
			"valid_from":      req.ValidFrom,
			"valid_until":     req.ValidUntil,
		}, now)
	})
	if err != nil {
		return models.RedeemCode{}, err
	}
	return code, nil
}

func (s *CreditService) ListRedeemCodes(ctx context.Context, page, size int) (Page[models.RedeemCode], error) {
	page, size = normalizePage(page, size)
	rows, total, err := s.codes.List(ctx, size, (page-1)*size)
	if err != nil {
		return Page[models.RedeemCode]{}, fmt.Errorf("list redeem codes: %w", err)
	}
	return newPage(page, size, total, rows), nil
}

// SetRedeemCodeActive toggles the gate flag of a code. Setting the current
// value again is accepted.
func (s *CreditService) SetRedeemCodeActive(ctx context.Context, code string, active bool, operator string) (result models.RedeemCode, err error) {
	value := NormalizeCode(code)
	defer s.observe("set_redeem_code_active", time.Now(), &err, "code", value, "active", active, "operator", operator)
	if value == "" {
		return models.RedeemCode{}, newError(KindInvalidArgument, "code is required")
	}
	now := s.clock.Now()
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.codes.GetForUpdate(ctx, tx, value)
		if isNoRows(err) {
			return newError(KindNotFound, "code %s does not exist", value)
		}
		if err != nil {
			return fmt.Errorf("lock redeem code: %w", err)
		}
		if err := s.codes.SetActive(ctx, tx, current.ID, active, now); err != nil {
			return fmt.Errorf("update redeem code: %w", err)
		}
		current.Active = active
		current.UpdatedAt = now
		result = current
		return s.auditLog(ctx, tx, operator, "redeem_code_set_active", "redeem_code", value, map[string]any{
			"active": active,
		}, now)
	})
	if err != nil {
		return models.RedeemCode{}, err
	}
	return result, nil
}
