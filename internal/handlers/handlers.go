package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"credits/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindInvalidArgument, services.KindInvalidCode, services.KindCodeExpired,
		services.KindCodeExhausted, services.KindInsufficientBalance:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindAlreadyRedeemed, services.KindAlreadyReversed, services.KindConflict:
		return http.StatusConflict
	case services.KindTooManyAttempts, services.KindDailyLimitExceeded:
		return http.StatusTooManyRequests
	case services.KindLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes {"error": kind, "reason": reason} for domain
// errors. Anything else is logged and hidden behind fallback.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var domainErr *services.Error
	if !errors.As(err, &domainErr) {
		slog.Error(fallback, "error", err)
		respondError(w, http.StatusInternalServerError, fallback)
		return
	}
	if services.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	respondJSON(w, statusFor(domainErr.Kind), map[string]string{
		"error":  string(domainErr.Kind),
		"reason": domainErr.Reason,
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
