package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"credits/internal/models"
	"credits/internal/store"
	"credits/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeAddAndDeductReportBalance(t *testing.T) {
	h := newHarness(t)
	h.open(t, alice)

	added := h.credits.AddCredits(h.ctx, CreditParams{UserID: alice, Amount: "100", Reason: "TOPUP"})
	require.True(t, added.Success, "%+v", added.Error)
	assert.True(t, added.Balance.Amount.Equal(eur("100")))

	deducted := h.credits.DeductCredits(h.ctx, CreditParams{UserID: alice, Amount: "30", Reason: "RESERVATION_PAYMENT"})
	require.True(t, deducted.Success)
	assert.True(t, deducted.Entry.BalanceAfter.Equal(eur("70")))
	assert.Equal(t, int64(2), deducted.Balance.Version)

	failed := h.credits.DeductCredits(h.ctx, CreditParams{UserID: alice, Amount: "1000", Reason: "RESERVATION_PAYMENT"})
	assert.False(t, failed.Success)
	assert.Nil(t, failed.Entry)
	assert.Equal(t, "insufficient_funds", failed.Error.Code)
}

func TestFacadeValidationCodes(t *testing.T) {
	h := newHarness(t)
	cases := map[string]CreditParams{
		"negative amount": {UserID: alice, Amount: "-5", Reason: "TOPUP"},
		"garbage amount":  {UserID: alice, Amount: "ten", Reason: "TOPUP"},
		"unknown reason":  {UserID: alice, Amount: "5", Reason: "GIFT"},
		"bad currency":    {UserID: alice, Amount: "5", Currency: "EURO", Reason: "TOPUP"},
		"too precise":     {UserID: alice, Amount: "5.12345", Reason: "TOPUP"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			res := h.credits.AddCredits(h.ctx, params)
			assert.False(t, res.Success)
			assert.Equal(t, "validation_error", res.Error.Code)
		})
	}
}

func TestRefundAlwaysUsesRefundReason(t *testing.T) {
	h := newHarness(t)
	h.open(t, alice)
	res := h.credits.RefundCredits(h.ctx, CreditParams{UserID: alice, Amount: "9.99", Reason: "TOPUP"})
	require.True(t, res.Success)
	assert.Equal(t, models.ReasonRefund, res.Entry.Reason)
	assert.Equal(t, models.EntryCredit, res.Entry.Kind)
}

func TestAdjustBalanceRoutesBySign(t *testing.T) {
	h := newHarness(t)
	h.open(t, alice)

	up := h.credits.AdjustBalance(h.ctx, CreditParams{UserID: alice, Amount: "15"})
	require.True(t, up.Success)
	assert.Equal(t, models.EntryCredit, up.Entry.Kind)
	assert.Equal(t, models.ReasonAdminAdjustment, up.Entry.Reason)

	down := h.credits.AdjustBalance(h.ctx, CreditParams{UserID: alice, Amount: "-5.50"})
	require.True(t, down.Success)
	assert.Equal(t, models.EntryDebit, down.Entry.Kind)
	assert.True(t, down.Entry.Amount.Equal(eur("5.50")))
	assert.True(t, down.Balance.Amount.Equal(eur("9.50")))

	zero := h.credits.AdjustBalance(h.ctx, CreditParams{UserID: alice, Amount: "0"})
	assert.False(t, zero.Success)
	assert.Equal(t, "validation_error", zero.Error.Code)
}

type brokenStore struct {
	*memory.Memory
}

func (brokenStore) RunInTx(context.Context, func(store.Tx) error) error {
	return errors.New("pq: connection reset by peer")
}

func TestFacadeHidesInternalErrors(t *testing.T) {
	h := newHarness(t)
	st := brokenStore{Memory: memory.New()}
	ledger := NewLedgerService(st, nil, nil, "EUR")
	credits := NewCreditService(ledger, NewPromotionService(st, nil, nil), nil)

	res := credits.AddCredits(h.ctx, CreditParams{UserID: alice, Amount: "1", Reason: "TOPUP"})
	assert.False(t, res.Success)
	assert.Equal(t, &OperationError{Code: "internal_error", Message: "internal error"}, res.Error)
}

func TestApplyPromotionReportsTotals(t *testing.T) {
	h := newHarness(t)
	bonus := h.activate(t, rechargeBonus("recharge-10", "10", "0"))
	discount := h.activate(t, seasonalDiscount("spring-20", "20"))

	res := h.credits.ApplyPromotion(h.ctx, ApplyPromotionParams{UserID: alice, PromotionID: bonus.ID, Amount: "50", Type: "TOPUP"})
	require.True(t, res.Success, "%+v", res.Error)
	assert.True(t, res.OriginalAmount.Equal(eur("50")))
	assert.True(t, res.TotalAmount.Equal(eur("55")))

	res = h.credits.ApplyPromotion(h.ctx, ApplyPromotionParams{UserID: alice, PromotionID: discount.ID, Amount: "50", Type: "RESERVATION"})
	require.True(t, res.Success)
	assert.True(t, res.TotalAmount.Equal(eur("40")))

	// No balance moves.
	_, err := h.store.GetBalance(h.ctx, alice)
	assert.ErrorIs(t, err, models.ErrNotFound)

	res = h.credits.ApplyPromotion(h.ctx, ApplyPromotionParams{UserID: alice, PromotionID: "nope", Amount: "50", Type: "TOPUP"})
	assert.False(t, res.Success)
	assert.Equal(t, "not_found", res.Error.Code)
	assert.True(t, res.TotalAmount.Equal(eur("50")))
}

func TestTopUpGrantsBonusAtomicallyAndReplays(t *testing.T) {
	h := newHarness(t)
	h.open(t, alice)
	p := h.activate(t, rechargeBonus("recharge-10", "10", "50"))

	params := FlowParams{UserID: alice, Amount: "50", IdempotencyKey: key("psp-evt-1")}
	first := h.credits.TopUp(h.ctx, params)
	require.True(t, first.Success, "%+v", first.Error)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, models.ReasonTopup, first.Entries[0].Reason)
	assert.Equal(t, models.ReasonPromotion, first.Entries[1].Reason)
	assert.True(t, first.Entries[1].Amount.Equal(eur("5")))
	assert.Equal(t, first.Entries[0].ID, *first.Entries[1].ReferenceID)
	assert.True(t, first.Balance.Amount.Equal(eur("55")))
	require.Len(t, first.Promotions, 1)
	assert.Equal(t, p.ID, first.Promotions[0].Promotion.ID)

	replay := h.credits.TopUp(h.ctx, params)
	require.True(t, replay.Success)
	assert.True(t, replay.Replayed)
	require.Len(t, replay.Entries, 2)
	assert.Equal(t, first.Entries[0].ID, replay.Entries[0].ID)
	assert.Equal(t, first.Entries[1].ID, replay.Entries[1].ID)
	require.Len(t, replay.Promotions, 1)
	assert.True(t, replay.Balance.Amount.Equal(eur("55")))

	stored, err := h.promotions.Get(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)

	small := h.credits.TopUp(h.ctx, FlowParams{UserID: alice, Amount: "40"})
	require.True(t, small.Success)
	assert.Len(t, small.Entries, 1)
	assert.True(t, small.Balance.Amount.Equal(eur("95")))
}

func TestTopUpUnknownUserGrantsNothing(t *testing.T) {
	h := newHarness(t)
	p := h.activate(t, rechargeBonus("recharge-10", "10", "0"))

	res := h.credits.TopUp(h.ctx, FlowParams{UserID: alice, Amount: "50"})
	assert.False(t, res.Success)
	assert.Equal(t, "not_found", res.Error.Code)

	stored, err := h.promotions.Get(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UsageCount)
}

func TestSignupGrantsBonusOnce(t *testing.T) {
	h := newHarness(t)
	h.activate(t, signupBonus("welcome-5", "5", nil))

	first := h.credits.Signup(h.ctx, SignupParams{UserID: alice})
	require.True(t, first.Success, "%+v", first.Error)
	assert.False(t, first.Replayed)
	require.Len(t, first.Entries, 1)
	assert.True(t, first.Balance.Amount.Equal(eur("5")))

	again := h.credits.Signup(h.ctx, SignupParams{UserID: alice})
	require.True(t, again.Success)
	assert.True(t, again.Replayed)
	require.Len(t, again.Entries, 1)
	assert.Equal(t, first.Entries[0].ID, again.Entries[0].ID)
	assert.True(t, h.balance(t, alice).Equal(eur("5")))

	wrongCurrency := h.credits.Signup(h.ctx, SignupParams{UserID: alice, Currency: "USD"})
	assert.False(t, wrongCurrency.Success)
	assert.Equal(t, "validation_error", wrongCurrency.Error.Code)
}

func TestChargeReservationAppliesDiscount(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, "100")
	h.activate(t, seasonalDiscount("spring-20", "20"))

	params := FlowParams{UserID: alice, Amount: "50", ReferenceID: key("reservation-9"), IdempotencyKey: key("res-9")}
	res := h.credits.ChargeReservation(h.ctx, params)
	require.True(t, res.Success, "%+v", res.Error)
	assert.True(t, res.Charged.Equal(eur("40")))
	require.Len(t, res.Entries, 1)
	assert.Equal(t, models.EntryDebit, res.Entries[0].Kind)
	assert.Equal(t, "50.00", res.Entries[0].Metadata["original_amount"])
	assert.True(t, res.Balance.Amount.Equal(eur("60")))

	replay := h.credits.ChargeReservation(h.ctx, params)
	require.True(t, replay.Success)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Entries[0].ID, replay.Entries[0].ID)
	assert.True(t, h.balance(t, alice).Equal(eur("60")))

	conflict := params
	conflict.Amount = "60"
	res = h.credits.ChargeReservation(h.ctx, conflict)
	assert.Equal(t, "idempotency_conflict", res.Error.Code)

	otherReference := params
	otherReference.ReferenceID = key("reservation-10")
	res = h.credits.ChargeReservation(h.ctx, otherReference)
	require.NotNil(t, res.Error)
	assert.Equal(t, "idempotency_conflict", res.Error.Code)
	assert.True(t, h.balance(t, alice).Equal(eur("60")))
}

func TestFullyDiscountedReservationReplaysWithoutCharging(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, "100")
	limit := 1
	free := seasonalDiscount("free-ride", "100")
	free.UsageLimit = &limit
	p := h.activate(t, free)

	params := FlowParams{UserID: alice, Amount: "30", ReferenceID: key("reservation-1"), IdempotencyKey: key("booking-1")}
	first := h.credits.ChargeReservation(h.ctx, params)
	require.True(t, first.Success, "%+v", first.Error)
	assert.False(t, first.Replayed)
	assert.True(t, first.Charged.IsZero())
	assert.Empty(t, first.Entries)
	require.Len(t, first.Promotions, 1)

	stored, err := h.promotions.Get(h.ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusExhausted, stored.Status)

	replay := h.credits.ChargeReservation(h.ctx, params)
	require.True(t, replay.Success, "%+v", replay.Error)
	assert.True(t, replay.Replayed)
	assert.True(t, replay.Charged.IsZero())
	assert.Empty(t, replay.Entries)
	require.Len(t, replay.Promotions, 1)
	assert.Equal(t, first.Promotions[0].Application.ID, replay.Promotions[0].Application.ID)
	assert.True(t, replay.Promotions[0].Replayed)
	assert.True(t, h.balance(t, alice).Equal(eur("100")))

	otherAmount := params
	otherAmount.Amount = "40"
	res := h.credits.ChargeReservation(h.ctx, otherAmount)
	require.NotNil(t, res.Error)
	assert.Equal(t, "idempotency_conflict", res.Error.Code)

	otherReference := params
	otherReference.ReferenceID = key("reservation-2")
	res = h.credits.ChargeReservation(h.ctx, otherReference)
	require.NotNil(t, res.Error)
	assert.Equal(t, "idempotency_conflict", res.Error.Code)
	assert.True(t, h.balance(t, alice).Equal(eur("100")))

	fresh := h.credits.ChargeReservation(h.ctx, FlowParams{UserID: alice, Amount: "30", IdempotencyKey: key("booking-2")})
	require.True(t, fresh.Success, "%+v", fresh.Error)
	assert.True(t, fresh.Charged.Equal(eur("30")))
	assert.True(t, h.balance(t, alice).Equal(eur("70")))
}

func TestFlowsAcceptLongestCallerKey(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, "100")
	long := strings.Repeat("k", 128)

	topup := h.credits.TopUp(h.ctx, FlowParams{UserID: alice, Amount: "10", IdempotencyKey: &long})
	require.True(t, topup.Success, "%+v", topup.Error)
	charge := h.credits.ChargeReservation(h.ctx, FlowParams{UserID: alice, Amount: "10", IdempotencyKey: &long})
	require.True(t, charge.Success, "%+v", charge.Error)

	tooLong := long + "k"
	res := h.credits.TopUp(h.ctx, FlowParams{UserID: alice, Amount: "10", IdempotencyKey: &tooLong})
	require.NotNil(t, res.Error)
	assert.Equal(t, "validation_error", res.Error.Code)
}

func TestChargeReservationInsufficientFundsUndoesUsage(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, "10")
	p := h.activate(t, seasonalDiscount("spring-20", "20"))

	res := h.credits.ChargeReservation(h.ctx, FlowParams{UserID: alice, Amount: "50"})
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient_funds", res.Error.Code)

	stored, err := h.promotions.Get(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UsageCount)
	applications, err := h.store.ListApplications(h.ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, applications)
	assert.True(t, h.balance(t, alice).Equal(eur("10")))
}

func TestListAuditNewestFirst(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, "10")

	records, err := h.credits.ListAudit(h.ctx, store.AuditFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.AuditCreditsAdded, records[0].Action)
	assert.Equal(t, models.AuditAccountOpened, records[1].Action)

	_, err = h.credits.ListAudit(h.ctx, store.AuditFilter{Limit: -1})
	assert.ErrorIs(t, err, models.ErrValidation)
}
