package handlers

import (
	"context"
	"net/http"

	"credits/internal/models"
	"credits/internal/services"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ApplyPromotion(w http.ResponseWriter, r *http.Request) {
	var params services.ApplyPromotionParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result := h.service.ApplyPromotion(r.Context(), params)
	success := http.StatusCreated
	if result.PromotionApplied != nil && result.PromotionApplied.Replayed {
		success = http.StatusOK
	}
	respondJSON(w, resultStatus(result.Error, success), result)
}

func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var definition models.Promotion
	if err := decodeJSON(r, &definition); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	created, err := h.service.CreatePromotion(r.Context(), definition)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPromotion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promotions, err := h.service.ListPromotions(r.Context(), promotionFilter(r.URL.Query()))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	if promotions == nil {
		promotions = []models.Promotion{}
	}
	respondJSON(w, http.StatusOK, promotions)
}

// ListApplications lists the promotions granted to one user.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	applications, err := h.service.ListApplications(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	if applications == nil {
		applications = []models.PromotionApplication{}
	}
	respondJSON(w, http.StatusOK, applications)
}

func (h *Handler) ActivatePromotion(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ActivatePromotion)
}

func (h *Handler) PausePromotion(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.PausePromotion)
}

func (h *Handler) ExpirePromotion(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ExpirePromotion)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, move func(context.Context, string) (models.Promotion, error)) {
	p, err := move(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
