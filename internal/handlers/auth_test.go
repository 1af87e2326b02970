package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"credits/internal/auth"
	"credits/internal/websocket"
)

func loginHandler(t *testing.T) *Handler {
	t.Helper()
	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := testConfig()
	cfg.AdminPasswordHash = hash
	return New(cfg, stubCreditService{}, websocket.NewHub())
}

func TestAdminLoginIssuesAdminToken(t *testing.T) {
	router := loginHandler(t).Routes()
	body := []byte(`{"username":"ops","password":"hunter22"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := auth.ParseToken(testSecret, payload["token"])
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Role != auth.RoleAdmin || claims.UserID() != "ops" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestAdminLoginRejectsBadCredentials(t *testing.T) {
	router := loginHandler(t).Routes()
	for _, body := range []string{
		`{"username":"ops","password":"wrong"}`,
		`{"username":"root","password":"hunter22"}`,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader([]byte(body))))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", body, rr.Code)
		}
	}
}

func TestAdminLoginDisabledWithoutHash(t *testing.T) {
	router := newTestHandler(stubCreditService{}).Routes()
	body := []byte(`{"username":"ops","password":""}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
