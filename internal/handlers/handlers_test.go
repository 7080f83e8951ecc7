package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"credits/internal/models"
	"credits/internal/money"
	"credits/internal/services"
	"credits/internal/store"
)

func TestHealth(t *testing.T) {
	rr := serve(t, newTestHandler(stubService{}), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestOpenAccountDefaultsCurrency(t *testing.T) {
	var gotCurrency string
	handler := newTestHandler(stubService{
		openAccountFn: func(_ context.Context, userID, currency string) (models.Balance, error) {
			gotCurrency = currency
			return models.NewBalance(userID, currency, time.Now())
		},
	})
	rr := serve(t, handler, http.MethodPost, "/accounts", `{"user_id":"user_alice_01"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCurrency != "EUR" {
		t.Fatalf("expected default currency EUR, got %q", gotCurrency)
	}
}

func TestOpenAccountRejectsUnknownFields(t *testing.T) {
	rr := serve(t, newTestHandler(stubService{}), http.MethodPost, "/accounts", `{"user":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetBalanceMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("user_id", "too short"), http.StatusBadRequest},
		{&models.NotFoundError{Kind: "user", ID: "user_alice_01"}, http.StatusNotFound},
		{models.ErrConcurrentModification, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := newTestHandler(stubService{
			getBalanceFn: func(context.Context, string) (models.Balance, error) { return models.Balance{}, tc.err },
		})
		rr := serve(t, handler, http.MethodGet, "/accounts/user_alice_01/balance", "")
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	handler := newTestHandler(stubService{
		reconcileFn: func(context.Context, string) (services.Reconciliation, error) {
			return services.Reconciliation{}, context.DeadlineExceeded
		},
	})
	rr := serve(t, handler, http.MethodGet, "/accounts/user_alice_01/reconcile", "")
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["error"] != "internal error" || body["code"] != "internal_error" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCanAffordRequiresAmount(t *testing.T) {
	rr := serve(t, newTestHandler(stubService{}), http.MethodGet, "/accounts/user_alice_01/can-afford", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	handler := newTestHandler(stubService{
		canAffordFn: func(_ context.Context, _, amount, currency string) (bool, error) {
			return amount == "25.00" && currency == "EUR", nil
		},
	})
	rr = serve(t, handler, http.MethodGet, "/accounts/user_alice_01/can-afford?amount=25.00&currency=EUR", "")
	if !strings.Contains(rr.Body.String(), `"can_afford":true`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestHistoryParsesFilter(t *testing.T) {
	var got models.HistoryFilter
	handler := newTestHandler(stubService{
		getHistoryFn: func(_ context.Context, _ string, filter models.HistoryFilter) ([]models.LedgerEntry, error) {
			got = filter
			return nil, nil
		},
	})
	rr := serve(t, handler, http.MethodGet, "/accounts/user_alice_01/history?limit=5&offset=10&from=2026-03-01T00:00:00Z", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rr.Body.String())
	}
	if got.Limit != 5 || got.Offset != 10 || got.FromDate == nil || got.ToDate != nil {
		t.Fatalf("unexpected filter %+v", got)
	}

	rr = serve(t, handler, http.MethodGet, "/accounts/user_alice_01/history?from=yesterday", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreditResultStatus(t *testing.T) {
	cases := []struct {
		result services.CreditResult
		want   int
	}{
		{services.CreditResult{Success: true}, http.StatusCreated},
		{services.CreditResult{Error: &services.OperationError{Code: "insufficient_funds"}}, http.StatusPaymentRequired},
		{services.CreditResult{Error: &services.OperationError{Code: "idempotency_conflict"}}, http.StatusConflict},
		{services.CreditResult{Error: &services.OperationError{Code: "validation_error"}}, http.StatusBadRequest},
		{services.CreditResult{Error: &services.OperationError{Code: "invariant_violation"}}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := newTestHandler(stubService{
			creditFn: func(context.Context, services.CreditParams) services.CreditResult { return tc.result },
		})
		rr := serve(t, handler, http.MethodPost, "/credits/deduct", `{"user_id":"user_alice_01","amount":"5","reason":"RESERVATION_PAYMENT"}`)
		if rr.Code != tc.want {
			t.Fatalf("%+v: expected %d, got %d", tc.result.Error, tc.want, rr.Code)
		}
	}
}

func TestAddCreditsPassesParams(t *testing.T) {
	var got services.CreditParams
	handler := newTestHandler(stubService{
		creditFn: func(_ context.Context, params services.CreditParams) services.CreditResult {
			got = params
			return services.CreditResult{Success: true}
		},
	})
	body := `{"user_id":"user_alice_01","amount":"12.50","reason":"TOPUP","reference_id":"psp-1","idempotency_key":"k-1","metadata":{"channel":"web"}}`
	rr := serve(t, handler, http.MethodPost, "/credits/add", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got.Amount != "12.50" || got.IdempotencyKey == nil || *got.IdempotencyKey != "k-1" || got.Metadata["channel"] != "web" {
		t.Fatalf("unexpected params %+v", got)
	}
}

func TestTopUpReplayAnswers200(t *testing.T) {
	handler := newTestHandler(stubService{
		flowFn: func(context.Context, services.FlowParams) services.FlowResult {
			return services.FlowResult{Success: true, Replayed: true}
		},
	})
	rr := serve(t, handler, http.MethodPost, "/credits/topup", `{"user_id":"user_alice_01","amount":"50","idempotency_key":"psp-evt-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSignupFailure(t *testing.T) {
	handler := newTestHandler(stubService{
		signupFn: func(context.Context, services.SignupParams) services.FlowResult {
			return services.FlowResult{Error: &services.OperationError{Code: "validation_error", Message: "currency mismatch"}}
		},
	})
	rr := serve(t, handler, http.MethodPost, "/signup", `{"user_id":"user_alice_01","currency":"USD"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "currency mismatch") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestApplyPromotionResponse(t *testing.T) {
	original := money.MustParse("50", "EUR")
	total := money.MustParse("55", "EUR")
	handler := newTestHandler(stubService{
		applyFn: func(_ context.Context, params services.ApplyPromotionParams) services.PromotionResult {
			if params.Code != "SPRING10" {
				return services.PromotionResult{Error: &services.OperationError{Code: "not_found"}, TotalAmount: &original, OriginalAmount: &original}
			}
			return services.PromotionResult{Success: true, TotalAmount: &total, OriginalAmount: &original}
		},
	})
	rr := serve(t, handler, http.MethodPost, "/promotions/apply", `{"user_id":"user_alice_01","code":"SPRING10","amount":"50","type":"TOPUP"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"total_amount":{"amount":"55.00","currency":"EUR"}`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	rr = serve(t, handler, http.MethodPost, "/promotions/apply", `{"user_id":"user_alice_01","code":"OTHER","amount":"50","type":"TOPUP"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCreatePromotionDecodesDefinition(t *testing.T) {
	var got models.Promotion
	handler := newTestHandler(stubService{
		createFn: func(_ context.Context, definition models.Promotion) (models.Promotion, error) {
			got = definition
			definition.Status = models.StatusDraft
			return definition, nil
		},
	})
	body := `{"id":"recharge-10","name":"Recharge bonus","type":"RECHARGE_BONUS",
		"conditions":{"min_topup_amount":"50"},
		"rewards":{"type":"PERCENTAGE_BONUS","value":"10","stackable":true},
		"usage_limit":100}`
	rr := serve(t, handler, http.MethodPost, "/promotions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.ID != "recharge-10" || got.Conditions.MinTopupAmount == nil || got.UsageLimit == nil || *got.UsageLimit != 100 {
		t.Fatalf("unexpected definition %+v", got)
	}
}

func TestPromotionTransitionsUseRouteID(t *testing.T) {
	var ids []string
	handler := newTestHandler(stubService{
		transitionFn: func(_ context.Context, id string) (models.Promotion, error) {
			ids = append(ids, id)
			if len(ids) == 3 {
				return models.Promotion{}, models.NewValidationError("status", "cannot move from EXPIRED")
			}
			return models.Promotion{ID: id}, nil
		},
	})
	for _, action := range []string{"activate", "pause"} {
		rr := serve(t, handler, http.MethodPost, "/promotions/spring-20/"+action, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", action, rr.Code)
		}
	}
	rr := serve(t, handler, http.MethodPost, "/promotions/spring-20/expire", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if len(ids) != 3 || ids[0] != "spring-20" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestListPromotionsStatusFilter(t *testing.T) {
	var got store.PromotionFilter
	handler := newTestHandler(stubService{
		listPromotionsFn: func(_ context.Context, filter store.PromotionFilter) ([]models.Promotion, error) {
			got = filter
			return nil, nil
		},
	})
	rr := serve(t, handler, http.MethodGet, "/promotions?status=active,paused", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(got.Statuses) != 2 || got.Statuses[0] != models.StatusActive || got.Statuses[1] != models.StatusPaused {
		t.Fatalf("unexpected filter %+v", got)
	}
}

func TestListApplicationsForUser(t *testing.T) {
	var got string
	handler := newTestHandler(stubService{
		listApplicationsFn: func(_ context.Context, userID string) ([]models.PromotionApplication, error) {
			got = userID
			if userID == "user_bob_0001" {
				return nil, nil
			}
			return []models.PromotionApplication{{ID: "app-1", PromotionID: "welcome", UserID: userID}}, nil
		},
	})
	rr := serve(t, handler, http.MethodGet, "/accounts/user_alice_01/promotions", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got != "user_alice_01" || !strings.Contains(rr.Body.String(), `"promotion_id":"welcome"`) {
		t.Fatalf("unexpected response for %q: %s", got, rr.Body.String())
	}

	rr = serve(t, handler, http.MethodGet, "/accounts/user_bob_0001/promotions", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestListAuditFilter(t *testing.T) {
	var got store.AuditFilter
	handler := newTestHandler(stubService{
		listAuditFn: func(_ context.Context, filter store.AuditFilter) ([]models.AuditRecord, error) {
			got = filter
			return nil, nil
		},
	})
	rr := serve(t, handler, http.MethodGet, "/audit?user_id=user_alice_01&action=credits_added&limit=20", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID == nil || *got.UserID != "user_alice_01" || got.Action == nil || *got.Action != models.AuditCreditsAdded || got.Limit != 20 {
		t.Fatalf("unexpected filter %+v", got)
	}

	rr = serve(t, handler, http.MethodGet, "/audit?limit=many", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOptionalRoutesAreNotMountedWithoutDeps(t *testing.T) {
	handler := newTestHandler(stubService{})
	for _, path := range []string{"/metrics", "/ws/balances?user_id=user_alice_01"} {
		rr := serve(t, handler, http.MethodGet, path, "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}
