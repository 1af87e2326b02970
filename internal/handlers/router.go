package handlers

import (
	"net/http"

	"credits/internal/auth"
	"credits/internal/config"
	"credits/internal/middleware"
	"credits/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	cfg     config.Config
	credits CreditService
	hub     *websocket.Hub
}

func New(cfg config.Config, credits CreditService, hub *websocket.Hub) *Handler {
	return &Handler{cfg: cfg, credits: credits, hub: hub}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/wallet", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/balance", h.GetBalance)
		r.Get("/balances", h.ListBalances)
		r.Post("/checkin", h.Checkin)
		r.Get("/checkin-status", h.CheckinStatus)
		r.Post("/redeem", h.Redeem)
		r.Post("/exchange", h.Exchange)
		r.Get("/ledger", h.ListLedger)
		r.Get("/redemptions", h.ListRedemptions)
		r.Get("/usage-records", h.ListUsageRecords)
		r.Get("/exchanges", h.ListExchanges)
	})
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/ws/balances", h.WSBalances)

	router.Route("/internal", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireRole(auth.RoleService))
		r.Post("/consume", h.Consume)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.AdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.cfg.JWTSecret))
			r.Use(middleware.RequireRole())
			r.Post("/credits/adjust", h.AdminAdjust)
			r.Post("/credits/reverse", h.AdminReverse)
			r.Post("/credits/migrate-user", h.MigrateUser)
			r.Post("/credits/migrate-all", h.MigrateAll)
			r.Get("/credits/ledger", h.AdminListLedger)
			r.Get("/redeem-codes", h.ListRedeemCodes)
			r.Post("/redeem-codes", h.CreateRedeemCode)
			r.Post("/redeem-codes/{code}/active", h.SetRedeemCodeActive)
			r.Get("/audit", h.ListAuditLogs)
			r.Get("/reconcile", h.Reconcile)
		})
	})

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
