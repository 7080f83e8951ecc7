package handlers

import (
	"net/http"
	"strings"

	"credits/internal/models"
	"credits/internal/websocket"

	"github.com/go-chi/chi/v5"
)

type openAccountRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = h.cfg.DefaultCurrency
	}
	balance, err := h.service.OpenAccount(r.Context(), req.UserID, currency)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, balance)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

func (h *Handler) CanAfford(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	query := r.URL.Query()
	amount := query.Get("amount")
	if amount == "" {
		respondError(w, http.StatusBadRequest, "amount is required")
		return
	}
	ok, err := h.service.CanAfford(r.Context(), userID, amount, query.Get("currency"))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"amount":     amount,
		"can_afford": ok,
	})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r.URL.Query())
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	entries, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "userID"), filter)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r.URL.Query())
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	records, err := h.service.ListAudit(r.Context(), filter)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if err := models.ValidateUserID(userID); err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	websocket.ServeWS(w, r, h.hub, userID, h.logger)
}
