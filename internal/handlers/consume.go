package handlers

import (
	"net/http"

	"credits/internal/middleware"
	"credits/internal/services"
)

type consumeRequest struct {
	UserID     string            `json:"user_id"`
	ProjectKey string            `json:"project_key"`
	Tokens     int64             `json:"tokens"`
	Source     string            `json:"source"`
	Metadata   map[string]string `json:"metadata"`
	RequestID  string            `json:"request_id"`
}

// Consume is called by game servers holding a service token. The project
// comes from the body, else from the token.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	projectKey := req.ProjectKey
	if projectKey == "" {
		projectKey = middleware.ProjectKeyFromContext(r.Context())
	}
	result, err := h.credits.Consume(r.Context(), services.ConsumeRequest{
		UserID:     req.UserID,
		ProjectKey: projectKey,
		Tokens:     req.Tokens,
		Source:     req.Source,
		Metadata:   req.Metadata,
		RequestID:  requestID(r, req.RequestID),
	})
	if err != nil {
		respondServiceError(w, err, "consume failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
