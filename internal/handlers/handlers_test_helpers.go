package handlers

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"credits/internal/config"
	"credits/internal/logging"
	"credits/internal/models"
	"credits/internal/services"
	"credits/internal/store"
)

type stubService struct {
	openAccountFn      func(ctx context.Context, userID, currency string) (models.Balance, error)
	getBalanceFn       func(ctx context.Context, userID string) (models.Balance, error)
	canAffordFn        func(ctx context.Context, userID, amount, currency string) (bool, error)
	getHistoryFn       func(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error)
	reconcileFn        func(ctx context.Context, userID string) (services.Reconciliation, error)
	listAuditFn        func(ctx context.Context, filter store.AuditFilter) ([]models.AuditRecord, error)
	creditFn           func(ctx context.Context, params services.CreditParams) services.CreditResult
	flowFn             func(ctx context.Context, params services.FlowParams) services.FlowResult
	signupFn           func(ctx context.Context, params services.SignupParams) services.FlowResult
	applyFn            func(ctx context.Context, params services.ApplyPromotionParams) services.PromotionResult
	createFn           func(ctx context.Context, definition models.Promotion) (models.Promotion, error)
	transitionFn       func(ctx context.Context, id string) (models.Promotion, error)
	getPromotionFn     func(ctx context.Context, id string) (models.Promotion, error)
	listPromotionsFn   func(ctx context.Context, filter store.PromotionFilter) ([]models.Promotion, error)
	listApplicationsFn func(ctx context.Context, userID string) ([]models.PromotionApplication, error)
}

func (s stubService) OpenAccount(ctx context.Context, userID, currency string) (models.Balance, error) {
	if s.openAccountFn == nil {
		return models.Balance{}, nil
	}
	return s.openAccountFn(ctx, userID, currency)
}

func (s stubService) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	if s.getBalanceFn == nil {
		return models.Balance{}, nil
	}
	return s.getBalanceFn(ctx, userID)
}

func (s stubService) CanAfford(ctx context.Context, userID, amount, currency string) (bool, error) {
	if s.canAffordFn == nil {
		return false, nil
	}
	return s.canAffordFn(ctx, userID, amount, currency)
}

func (s stubService) GetHistory(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error) {
	if s.getHistoryFn == nil {
		return nil, nil
	}
	return s.getHistoryFn(ctx, userID, filter)
}

func (s stubService) Reconcile(ctx context.Context, userID string) (services.Reconciliation, error) {
	if s.reconcileFn == nil {
		return services.Reconciliation{}, nil
	}
	return s.reconcileFn(ctx, userID)
}

func (s stubService) ListAudit(ctx context.Context, filter store.AuditFilter) ([]models.AuditRecord, error) {
	if s.listAuditFn == nil {
		return nil, nil
	}
	return s.listAuditFn(ctx, filter)
}

func (s stubService) credit(ctx context.Context, params services.CreditParams) services.CreditResult {
	if s.creditFn == nil {
		return services.CreditResult{Success: true}
	}
	return s.creditFn(ctx, params)
}

func (s stubService) AddCredits(ctx context.Context, params services.CreditParams) services.CreditResult {
	return s.credit(ctx, params)
}

func (s stubService) DeductCredits(ctx context.Context, params services.CreditParams) services.CreditResult {
	return s.credit(ctx, params)
}

func (s stubService) RefundCredits(ctx context.Context, params services.CreditParams) services.CreditResult {
	return s.credit(ctx, params)
}

func (s stubService) AdjustBalance(ctx context.Context, params services.CreditParams) services.CreditResult {
	return s.credit(ctx, params)
}

func (s stubService) flow(ctx context.Context, params services.FlowParams) services.FlowResult {
	if s.flowFn == nil {
		return services.FlowResult{Success: true}
	}
	return s.flowFn(ctx, params)
}

func (s stubService) TopUp(ctx context.Context, params services.FlowParams) services.FlowResult {
	return s.flow(ctx, params)
}

func (s stubService) ChargeReservation(ctx context.Context, params services.FlowParams) services.FlowResult {
	return s.flow(ctx, params)
}

func (s stubService) Signup(ctx context.Context, params services.SignupParams) services.FlowResult {
	if s.signupFn == nil {
		return services.FlowResult{Success: true}
	}
	return s.signupFn(ctx, params)
}

func (s stubService) ApplyPromotion(ctx context.Context, params services.ApplyPromotionParams) services.PromotionResult {
	if s.applyFn == nil {
		return services.PromotionResult{Success: true}
	}
	return s.applyFn(ctx, params)
}

func (s stubService) CreatePromotion(ctx context.Context, definition models.Promotion) (models.Promotion, error) {
	if s.createFn == nil {
		return definition, nil
	}
	return s.createFn(ctx, definition)
}

func (s stubService) transition(ctx context.Context, id string) (models.Promotion, error) {
	if s.transitionFn == nil {
		return models.Promotion{ID: id}, nil
	}
	return s.transitionFn(ctx, id)
}

func (s stubService) ActivatePromotion(ctx context.Context, id string) (models.Promotion, error) {
	return s.transition(ctx, id)
}

func (s stubService) PausePromotion(ctx context.Context, id string) (models.Promotion, error) {
	return s.transition(ctx, id)
}

func (s stubService) ExpirePromotion(ctx context.Context, id string) (models.Promotion, error) {
	return s.transition(ctx, id)
}

func (s stubService) GetPromotion(ctx context.Context, id string) (models.Promotion, error) {
	if s.getPromotionFn == nil {
		return models.Promotion{ID: id}, nil
	}
	return s.getPromotionFn(ctx, id)
}

func (s stubService) ListPromotions(ctx context.Context, filter store.PromotionFilter) ([]models.Promotion, error) {
	if s.listPromotionsFn == nil {
		return nil, nil
	}
	return s.listPromotionsFn(ctx, filter)
}

func (s stubService) ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error) {
	if s.listApplicationsFn == nil {
		return nil, nil
	}
	return s.listApplicationsFn(ctx, userID)
}

func newTestHandler(service CreditService) *Handler {
	cfg := config.Config{AllowedOrigins: "*", DefaultCurrency: "EUR"}
	return New(cfg, service, nil, nil, logging.Discard())
}

func serve(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}
