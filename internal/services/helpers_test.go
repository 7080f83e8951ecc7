package services

import (
	"context"
	"testing"
	"time"

	"credits/internal/events"
	"credits/internal/logging"
	"credits/internal/models"
	"credits/internal/money"
	"credits/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// 2026-03-10 is a Tuesday.
var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	alice = "user_alice_01"
	bob   = "user_bob_0001"
)

type clock struct{ at time.Time }

func (c *clock) now() time.Time { return c.at }

type harness struct {
	ctx        context.Context
	store      *memory.Memory
	bus        *events.Bus
	clock      *clock
	ledger     *LedgerService
	promotions *PromotionService
	credits    *CreditService
	published  []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.Discard()
	h := &harness{
		ctx:   context.Background(),
		store: memory.New(),
		bus:   events.NewBus(logger),
		clock: &clock{at: t0},
	}
	h.bus.SubscribeAll("recorder", func(_ context.Context, e events.Event) error {
		h.published = append(h.published, e)
		return nil
	})
	h.ledger = NewLedgerService(h.store, h.bus, logger, "EUR", WithClock(h.clock.now))
	h.promotions = NewPromotionService(h.store, h.bus, logger, WithClock(h.clock.now))
	h.credits = NewCreditService(h.ledger, h.promotions, logger)
	return h
}

func (h *harness) open(t *testing.T, userID string) {
	t.Helper()
	_, err := h.ledger.OpenAccount(h.ctx, userID, "EUR")
	require.NoError(t, err)
}

func (h *harness) fund(t *testing.T, userID, amount string) {
	t.Helper()
	h.open(t, userID)
	_, err := h.ledger.AddCredits(h.ctx, CreditCommand{UserID: userID, Amount: eur(amount), Reason: models.ReasonTopup})
	require.NoError(t, err)
}

func (h *harness) activate(t *testing.T, definition models.Promotion) models.Promotion {
	t.Helper()
	created, err := h.promotions.Create(h.ctx, definition)
	require.NoError(t, err)
	active, err := h.promotions.Activate(h.ctx, created.ID)
	require.NoError(t, err)
	return active
}

func (h *harness) balance(t *testing.T, userID string) money.Money {
	t.Helper()
	b, err := h.store.GetBalance(h.ctx, userID)
	require.NoError(t, err)
	return b.Amount
}

func (h *harness) eventTypes() []events.Type {
	types := make([]events.Type, len(h.published))
	for i, e := range h.published {
		types[i] = e.Type
	}
	return types
}

func eur(raw string) money.Money { return money.MustParse(raw, "EUR") }

func usd(raw string) money.Money { return money.MustParse(raw, "USD") }

func dec(raw string) *decimal.Decimal {
	d := decimal.RequireFromString(raw)
	return &d
}

func key(k string) *string { return &k }

func rechargeBonus(id, percent, minTopup string) models.Promotion {
	return models.Promotion{
		ID:         id,
		Name:       "Recharge " + percent + "%",
		Type:       models.PromotionRechargeBonus,
		Conditions: models.Conditions{MinTopupAmount: dec(minTopup)},
		Rewards:    models.Rewards{Type: models.RewardPercentageBonus, Value: decimal.RequireFromString(percent)},
	}
}

func signupBonus(id, value string, limit *int) models.Promotion {
	return models.Promotion{
		ID:         id,
		Name:       "Welcome",
		Type:       models.PromotionSignupBonus,
		UsageLimit: limit,
		Rewards:    models.Rewards{Type: models.RewardFixedCredits, Value: decimal.RequireFromString(value)},
	}
}

func seasonalDiscount(id, percent string) models.Promotion {
	return models.Promotion{
		ID:      id,
		Name:    "Spring sale",
		Type:    models.PromotionSeasonal,
		Rewards: models.Rewards{Type: models.RewardDiscountPercentage, Value: decimal.RequireFromString(percent)},
	}
}
