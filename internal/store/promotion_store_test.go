package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"credits/internal/models"
	"credits/internal/money"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func samplePromotion() models.Promotion {
	code := "SPRING10"
	limit := 10
	return models.Promotion{
		ID:     "promo-1",
		Name:   "Spring",
		Code:   &code,
		Type:   models.PromotionDiscountCode,
		Status: models.StatusDraft,
		Conditions: models.Conditions{
			DaysOfWeek: []time.Weekday{time.Monday},
			TimeOfDay:  &models.TimeWindow{Start: "08:00", End: "12:00"},
		},
		Rewards:    models.Rewards{Type: models.RewardDiscountPercentage, Value: decimal.NewFromInt(10)},
		ValidFrom:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UsageLimit: &limit,
	}
}

func TestPromotionStoreInsertEncodesJSON(t *testing.T) {
	ctx := context.Background()
	var conditions, rewards []byte
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO promotions") || len(args) != 13 {
				t.Fatalf("unexpected query: %s %#v", query, args)
			}
			conditions, rewards = args[5].([]byte), args[6].([]byte)
			return stubResult{rows: 1}, nil
		},
	}
	if err := NewPromotionStore(stubDB{}).Insert(ctx, execer, samplePromotion()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row := promotionRow{ID: "promo-1", Type: "DISCOUNT_CODE", Status: "DRAFT", Conditions: conditions, Rewards: rewards}
	decoded, err := row.toModel()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Rewards.Type != models.RewardDiscountPercentage || !decoded.Rewards.Value.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected rewards: %#v", decoded.Rewards)
	}
	if decoded.Conditions.TimeOfDay == nil || decoded.Conditions.TimeOfDay.End != "12:00" || decoded.Conditions.DaysOfWeek[0] != time.Monday {
		t.Fatalf("unexpected conditions: %#v", decoded.Conditions)
	}
}

func TestPromotionStoreInsertDuplicateCode(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505", Constraint: "promotions_code_key"}
		},
	}
	err := NewPromotionStore(stubDB{}).Insert(ctx, execer, samplePromotion())
	var validation *models.ValidationError
	if !errors.As(err, &validation) || validation.Field != "code" {
		t.Fatalf("expected code validation error, got %v", err)
	}
}

func TestPromotionStoreUpdateMissing(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE promotions") || args[0] != "ACTIVE" {
				t.Fatalf("unexpected query: %s %#v", query, args)
			}
			return stubResult{rows: 0}, nil
		},
	}
	p := samplePromotion()
	p.Status = models.StatusActive
	err := NewPromotionStore(stubDB{}).Update(ctx, execer, p)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPromotionStoreListByStatus(t *testing.T) {
	ctx := context.Background()
	q := stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "ORDER BY created_at") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 1 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]promotionRow) = []promotionRow{{ID: "promo-1", Status: "ACTIVE", Rewards: []byte(`{"type":"FIXED_CREDITS","value":"5","stackable":false}`)}}
			return nil
		},
	}
	promos, err := NewPromotionStore(stubDB{}).List(ctx, q, PromotionFilter{Statuses: []models.PromotionStatus{models.StatusActive}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(promos) != 1 || !promos[0].Rewards.Value.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected promotions: %#v", promos)
	}
}

func TestApplicationStoreInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	key := "apply-1"
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO promotion_applications") || len(args) != 8 {
				t.Fatalf("unexpected query: %s %#v", query, args)
			}
			return nil, &pq.Error{Code: "23505", Constraint: "promotion_applications_idempotency_key_key"}
		},
	}
	app := models.PromotionApplication{ID: "app-1", PromotionID: "promo-1", UserID: "user_000001", CreditsAwarded: money.MustParse("5", "EUR"), IdempotencyKey: &key}
	err := NewApplicationStore(stubDB{}).Insert(ctx, execer, app)
	if !errors.Is(err, models.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}
