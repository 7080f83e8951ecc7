package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"credits/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func TestApplicationStoreListByUserDecodesRows(t *testing.T) {
	ctx := context.Background()
	key := "booking-1:promotion:promo-1"
	q := stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE user_id = $1") || !strings.Contains(query, "ORDER BY applied_at, id") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 1 || args[0] != "user_alice_01" {
				t.Fatalf("unexpected args: %#v", args)
			}
			rows := dest.(*[]applicationRow)
			*rows = []applicationRow{{
				ID:             "app-1",
				PromotionID:    "promo-1",
				UserID:         "user_alice_01",
				CreditsAwarded: decimal.RequireFromString("30"),
				Currency:       "EUR",
				Metadata:       []byte(`{"context_type":"RESERVATION","amount":"30.00"}`),
				IdempotencyKey: &key,
				AppliedAt:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			}}
			return nil
		},
	}

	apps, err := NewApplicationStore(stubDB{}).ListByUser(ctx, q, "user_alice_01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("expected one application, got %d", len(apps))
	}
	if apps[0].CreditsAwarded.Format() != "30.00" || apps[0].Metadata["context_type"] != "RESERVATION" {
		t.Fatalf("unexpected application: %#v", apps[0])
	}
	if apps[0].IdempotencyKey == nil || *apps[0].IdempotencyKey != key {
		t.Fatalf("unexpected key: %v", apps[0].IdempotencyKey)
	}
}

func TestApplicationStoreInsertDuplicateKey(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505", Constraint: "promotion_applications_idempotency_key_key"}
		},
	}
	err := NewApplicationStore(stubDB{}).Insert(ctx, execer, models.PromotionApplication{ID: "app-1"})
	if err != models.ErrDuplicateIdempotencyKey {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
