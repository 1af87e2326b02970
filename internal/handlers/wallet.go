package handlers

import (
	"net/http"

	"credits/internal/middleware"
	"credits/internal/services"
	"credits/internal/websocket"
)

// player resolves the caller and the project their token was issued for.
func player(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	return userID, middleware.ProjectKeyFromContext(r.Context()), true
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	balance, err := h.credits.Balance(r.Context(), userID, projectKey)
	if err != nil {
		respondServiceError(w, err, "unable to load balance")
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := player(w, r)
	if !ok {
		return
	}
	balances, err := h.credits.ProjectBalances(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, "unable to load balances")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"projects": balances})
}

// Checkin always collects today's grant; the day is decided server side.
func (h *Handler) Checkin(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	result, err := h.credits.Checkin(r.Context(), services.CheckinRequest{
		UserID:     userID,
		ProjectKey: projectKey,
	})
	if err != nil {
		respondServiceError(w, err, "check-in failed")
		return
	}
	status := http.StatusCreated
	if result.AlreadyCheckedIn {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (h *Handler) CheckinStatus(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := h.credits.CheckinStatus(r.Context(), userID, projectKey, date)
	if err != nil {
		respondServiceError(w, err, "unable to load check-in status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type redeemRequest struct {
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.credits.Redeem(r.Context(), services.RedeemRequest{
		UserID:     userID,
		ProjectKey: projectKey,
		Code:       req.Code,
		RequestID:  requestID(r, req.RequestID),
	})
	if err != nil {
		respondServiceError(w, err, "redeem failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type exchangeRequest struct {
	Tokens    int64  `json:"tokens"`
	RequestID string `json:"request_id"`
}

func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	var req exchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.credits.Exchange(r.Context(), services.ExchangeRequest{
		UserID:     userID,
		ProjectKey: projectKey,
		Tokens:     req.Tokens,
		RequestID:  requestID(r, req.RequestID),
	})
	if err != nil {
		respondServiceError(w, err, "exchange failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	types, err := parseEntryTypes(r.URL.Query().Get("type"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, size := pageParams(r)
	entries, err := h.credits.ListLedger(r.Context(), services.LedgerQuery{
		UserID:     userID,
		ProjectKey: projectKey,
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

func (h *Handler) ListUsageRecords(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	page, size := pageParams(r)
	records, err := h.credits.UsageRecords(r.Context(), userID, projectKey, page, size)
	if err != nil {
		respondServiceError(w, err, "unable to load usage records")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, projectKey, ok := player(w, r)
	if !ok {
		return
	}
	page, size := pageParams(r)
	records, err := h.credits.RedemptionHistory(r.Context(), userID, projectKey, page, size)
	if err != nil {
		respondServiceError(w, err, "unable to load redemptions")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := player(w, r)
	if !ok {
		return
	}
	page, size := pageParams(r)
	records, err := h.credits.ExchangeHistory(r.Context(), userID, page, size)
	if err != nil {
		respondServiceError(w, err, "unable to load exchanges")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	websocket.ServeWS(w, r, h.hub, userID, h.allowOrigin)
}

func (h *Handler) allowOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// requestID prefers the body field and falls back to the X-Request-ID header.
func requestID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("X-Request-ID")
}
