package handlers

import (
	"context"
	"net/http"

	"credits/internal/services"
)

type creditOperation func(ctx context.Context, params services.CreditParams) services.CreditResult

func (h *Handler) AddCredits(w http.ResponseWriter, r *http.Request) {
	h.postCredit(w, r, h.service.AddCredits)
}

func (h *Handler) DeductCredits(w http.ResponseWriter, r *http.Request) {
	h.postCredit(w, r, h.service.DeductCredits)
}

func (h *Handler) RefundCredits(w http.ResponseWriter, r *http.Request) {
	h.postCredit(w, r, h.service.RefundCredits)
}

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	h.postCredit(w, r, h.service.AdjustBalance)
}

func (h *Handler) postCredit(w http.ResponseWriter, r *http.Request, op creditOperation) {
	var params services.CreditParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result := op(r.Context(), params)
	respondJSON(w, resultStatus(result.Error, http.StatusCreated), result)
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var params services.FlowParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result := h.service.TopUp(r.Context(), params)
	respondJSON(w, flowStatus(result), result)
}

func (h *Handler) ChargeReservation(w http.ResponseWriter, r *http.Request) {
	var params services.FlowParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result := h.service.ChargeReservation(r.Context(), params)
	respondJSON(w, flowStatus(result), result)
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var params services.SignupParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result := h.service.Signup(r.Context(), params)
	respondJSON(w, flowStatus(result), result)
}

// A replayed flow changed nothing, so it answers 200 rather than 201.
func flowStatus(result services.FlowResult) int {
	if result.Replayed {
		return resultStatus(result.Error, http.StatusOK)
	}
	return resultStatus(result.Error, http.StatusCreated)
}

func resultStatus(opErr *services.OperationError, success int) int {
	if opErr == nil {
		return success
	}
	return statusForCode(opErr.Code)
}
