package handlers

import (
	"net/http"

	"credits/internal/config"
	"credits/internal/middleware"
	"credits/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

type Metrics interface {
	middleware.HTTPObserver
	Handler() http.Handler
}

type Handler struct {
	cfg     config.Config
	service CreditService
	hub     *websocket.Hub
	metrics Metrics
	logger  logrus.FieldLogger
}

// New wires the HTTP surface. hub and metrics may be nil, in which case
// their routes are not mounted.
func New(cfg config.Config, service CreditService, hub *websocket.Hub, metrics Metrics, logger logrus.FieldLogger) *Handler {
	return &Handler{
		cfg:     cfg,
		service: service,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestLogger(h.logger))
	if h.metrics != nil {
		router.Use(middleware.Metrics(h.metrics))
	}
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Post("/accounts", h.OpenAccount)
	router.Route("/accounts/{userID}", func(r chi.Router) {
		r.Get("/balance", h.GetBalance)
		r.Get("/can-afford", h.CanAfford)
		r.Get("/history", h.GetHistory)
		r.Get("/reconcile", h.Reconcile)
		r.Get("/promotions", h.ListApplications)
	})

	router.Route("/credits", func(r chi.Router) {
		r.Post("/add", h.AddCredits)
		r.Post("/deduct", h.DeductCredits)
		r.Post("/refund", h.RefundCredits)
		r.Post("/adjust", h.AdjustBalance)
		r.Post("/topup", h.TopUp)
		r.Post("/reservation", h.ChargeReservation)
	})
	router.Post("/signup", h.Signup)

	router.Route("/promotions", func(r chi.Router) {
		r.Get("/", h.ListPromotions)
		r.Post("/", h.CreatePromotion)
		r.Post("/apply", h.ApplyPromotion)
		r.Get("/{id}", h.GetPromotion)
		r.Post("/{id}/activate", h.ActivatePromotion)
		r.Post("/{id}/pause", h.PausePromotion)
		r.Post("/{id}/expire", h.ExpirePromotion)
	})

	router.Get("/audit", h.ListAudit)
	if h.hub != nil {
		router.Get("/ws/balances", h.WSBalances)
	}
	if h.metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
