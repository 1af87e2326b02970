package handlers

import (
	"net/http"
	"strings"
	"time"

	"credits/internal/middleware"
	"credits/internal/models"
	"credits/internal/services"

	"github.com/go-chi/chi/v5"
)

// operator is the admin subject recorded on audit rows.
func operator(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

type adjustRequest struct {
	UserID         string `json:"user_id"`
	ProjectKey     string `json:"project_key"`
	DeltaTemp      int64  `json:"delta_temp"`
	DeltaPermanent int64  `json:"delta_permanent"`
	Reason         string `json:"reason"`
	RequestID      string `json:"request_id"`
}

func (h *Handler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	adminID, ok := operator(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.credits.AdminAdjust(r.Context(), services.AdjustRequest{
		UserID:         req.UserID,
		ProjectKey:     req.ProjectKey,
		DeltaTemp:      req.DeltaTemp,
		DeltaPermanent: req.DeltaPermanent,
		Reason:         req.Reason,
		Operator:       adminID,
		RequestID:      requestID(r, req.RequestID),
	})
	if err != nil {
		respondServiceError(w, err, "adjustment failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type reverseRequest struct {
	UserID            string `json:"user_id"`
	OriginalRequestID string `json:"original_request_id"`
	Reason            string `json:"reason"`
}

func (h *Handler) AdminReverse(w http.ResponseWriter, r *http.Request) {
	adminID, ok := operator(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.credits.AdminReverse(r.Context(), services.ReverseRequest{
		UserID:            req.UserID,
		OriginalRequestID: req.OriginalRequestID,
		Reason:            req.Reason,
		Operator:          adminID,
	})
	if err != nil {
		respondServiceError(w, err, "reversal failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type migrateUserRequest struct {
	UserID     string `json:"user_id"`
	ProjectKey string `json:"project_key"`
}

func (h *Handler) MigrateUser(w http.ResponseWriter, r *http.Request) {
	adminID, ok := operator(w, r)
	if !ok {
		return
	}
	var req migrateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.credits.MigrateBalance(r.Context(), services.MigrateRequest{
		UserID:     req.UserID,
		ProjectKey: req.ProjectKey,
		Operator:   adminID,
	})
	if err != nil {
		respondServiceError(w, err, "migration failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type migrateAllRequest struct {
	ProjectKey string `json:"project_key"`
	BatchSize  int    `json:"batch_size"`
}

func (h *Handler) MigrateAll(w http.ResponseWriter, r *http.Request) {
	adminID, ok := operator(w, r)
	if !ok {
		return
	}
	var req migrateAllRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	report, err := h.credits.MigrateAllBalances(r.Context(), services.MigrateAllRequest{
		ProjectKey: req.ProjectKey,
		BatchSize:  req.BatchSize,
		Operator:   adminID,
	})
	if err != nil {
		respondServiceError(w, err, "migration failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) AdminListLedger(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := query.Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	types, err := parseEntryTypes(query.Get("type"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, size := pageParams(r)
	entries, err := h.credits.ListLedger(r.Context(), services.LedgerQuery{
		UserID:     userID,
		ProjectKey: query.Get("project_key"),
		Types:      types,
		Page:       page,
		Size:       size,
	})
	if err != nil {
		respondServiceError(w, err, "unable to load ledger")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

type createCodeRequest struct {
	Code           string     `json:"code"`
	Prefix         string     `json:"prefix"`
	Tokens         int64      `json:"tokens"`
	CreditType     string     `json:"credit_type"`
	ValidFrom      *time.Time `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until"`
	MaxRedemptions *int       `json:"max_redemptions"`
}

func (h *Handler) CreateRedeemCode(w http.ResponseWriter, r *http.Request) {
	adminID, ok := operator(w, r)
	if !ok {
		return
	}
	var req createCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	code, err := h.credits.CreateRedeemCode(r.Context(), services.CreateRedeemCodeRequest{
		Code:           req.Code,
		Prefix:         req.Prefix,
		Tokens:         req.Tokens,
		CreditType:     models.CreditType(strings.ToUpper(req.CreditType)),
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		MaxRedemptions: req.MaxRedemptions,
		Operator:       adminID,
	})
	if err != nil {
		respondServiceError(w, err, "unable to create code")
		return
	}
	respondJSON(w, http.StatusCreated, code)
}

func (h *Handler) ListRedeemCodes(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	codes, err := h.credits.ListRedeemCodes(r.Context(), page, size)
	if err != nil {
		respondServiceError(w, err, "unable to load codes")
		return
	}
	respondJSON(w, http.StatusOK, codes)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) SetRedeemCodeActive(w http.ResponseWriter, r *http.Request) {
	adminID, ok := operator(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	code, err := h.credits.SetRedeemCodeActive(r.Context(), chi.URLParam(r, "code"), req.Active, adminID)
	if err != nil {
		respondServiceError(w, err, "unable to update code")
		return
	}
	respondJSON(w, http.StatusOK, code)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	logs, err := h.credits.AuditTrail(r.Context(), page, size)
	if err != nil {
		respondServiceError(w, err, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.credits.Reconcile(r.Context())
	if err != nil {
		respondServiceError(w, err, "reconcile failed")
		return
	}
	if rows == nil {
		rows = []models.ReconcileRow{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"clean":      len(rows) == 0,
		"mismatches": rows,
	})
}
