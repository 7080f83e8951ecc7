package services

import (
	"testing"
	"time"

	"credits/internal/events"
	"credits/internal/models"
	"credits/internal/promotion"
	"credits/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signupContext(userID string) promotion.Context {
	return promotion.Context{UserID: userID, Amount: eur("0"), Type: models.ContextSignup}
}

func TestUsageLimitExhaustsPromotion(t *testing.T) {
	h := newHarness(t)
	limit := 1
	p := h.activate(t, signupBonus("welcome-5", "5", &limit))

	grant, err := h.promotions.Apply(h.ctx, ApplyRequest{Context: signupContext(alice)})
	require.NoError(t, err)
	assert.Equal(t, p.ID, grant.Promotion.ID)
	assert.True(t, grant.Reward.Equal(eur("5")))
	assert.Equal(t, models.StatusExhausted, grant.Promotion.Status)
	assert.Equal(t, 1, grant.Promotion.UsageCount)

	_, err = h.promotions.Apply(h.ctx, ApplyRequest{Context: signupContext(bob)})
	assert.ErrorIs(t, err, models.ErrNotFound)

	stored, err := h.promotions.Get(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExhausted, stored.Status)

	applications, err := h.store.ListApplications(h.ctx, alice)
	require.NoError(t, err)
	assert.Len(t, applications, 1)
	assert.Contains(t, h.eventTypes(), events.PromotionApplied)
	assert.Equal(t, events.PromotionStatusChanged, h.eventTypes()[len(h.published)-1])
}

func TestApplyByCodeClampsAndReplays(t *testing.T) {
	h := newHarness(t)
	code := "spring10"
	h.activate(t, models.Promotion{
		ID:   "spring-code",
		Name: "Spring code",
		Code: &code,
		Type: models.PromotionDiscountCode,
		Rewards: models.Rewards{
			Type:            models.RewardDiscountPercentage,
			Value:           decimal.NewFromInt(10),
			MaxRewardAmount: dec("3"),
		},
	})
	req := ApplyRequest{
		Code:           "Spring10",
		Context:        promotion.Context{UserID: alice, Amount: eur("50"), Type: models.ContextReservation},
		IdempotencyKey: key("checkout-77"),
	}

	first, err := h.promotions.Apply(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Reward.Equal(eur("3")))
	assert.False(t, first.Replayed)

	second, err := h.promotions.Apply(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Application.ID, second.Application.ID)
	assert.Equal(t, 1, second.Promotion.UsageCount)

	other := req
	other.Context.UserID = bob
	_, err = h.promotions.Apply(h.ctx, other)
	assert.ErrorIs(t, err, models.ErrIdempotencyConflict)
}

func TestCodedPromotionsAreNotMatchedAutomatically(t *testing.T) {
	h := newHarness(t)
	code := "VIP-ONLY"
	definition := signupBonus("vip-signup", "50", nil)
	definition.Code = &code
	h.activate(t, definition)

	_, err := h.promotions.Apply(h.ctx, ApplyRequest{Context: signupContext(alice)})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.promotions.Apply(h.ctx, ApplyRequest{Code: "vip-only", Context: signupContext(alice)})
	assert.NoError(t, err)
}

func TestApplyChecksConditions(t *testing.T) {
	h := newHarness(t)
	p := h.activate(t, rechargeBonus("recharge-10", "10", "50"))

	_, err := h.promotions.Apply(h.ctx, ApplyRequest{
		PromotionID: p.ID,
		Context:     promotion.Context{UserID: alice, Amount: eur("40"), Type: models.ContextTopup},
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	grant, err := h.promotions.Apply(h.ctx, ApplyRequest{
		PromotionID: p.ID,
		Context:     promotion.Context{UserID: alice, Amount: eur("50"), Type: models.ContextTopup},
	})
	require.NoError(t, err)
	assert.True(t, grant.Reward.Equal(eur("5")))

	_, err = h.promotions.Apply(h.ctx, ApplyRequest{
		PromotionID: p.ID,
		Context:     promotion.Context{UserID: alice, Amount: eur("50"), Type: models.ContextReservation},
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestApplyAfterValidityEndsExpiresPromotion(t *testing.T) {
	h := newHarness(t)
	definition := signupBonus("flash-signup", "5", nil)
	validTo := t0.Add(time.Hour)
	definition.ValidTo = &validTo
	p := h.activate(t, definition)

	h.clock.at = t0.Add(2 * time.Hour)
	_, err := h.promotions.Apply(h.ctx, ApplyRequest{PromotionID: p.ID, Context: signupContext(alice)})
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "expired")

	stored, err := h.promotions.Get(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
	assert.Equal(t, 0, stored.UsageCount)

	action := models.AuditPromotionStatus
	records, err := h.store.ListAudit(h.ctx, store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "EXPIRED", records[0].Metadata["to"])
}

func TestPromotionLifecycle(t *testing.T) {
	h := newHarness(t)
	created, err := h.promotions.Create(h.ctx, signupBonus("lifecycle", "5", nil))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, created.Status)

	_, err = h.promotions.Pause(h.ctx, created.ID)
	assert.ErrorIs(t, err, models.ErrValidation)

	for _, step := range []struct {
		move func() (models.Promotion, error)
		want models.PromotionStatus
	}{
		{func() (models.Promotion, error) { return h.promotions.Activate(h.ctx, created.ID) }, models.StatusActive},
		{func() (models.Promotion, error) { return h.promotions.Pause(h.ctx, created.ID) }, models.StatusPaused},
		{func() (models.Promotion, error) { return h.promotions.Activate(h.ctx, created.ID) }, models.StatusActive},
		{func() (models.Promotion, error) { return h.promotions.Expire(h.ctx, created.ID) }, models.StatusExpired},
	} {
		p, err := step.move()
		require.NoError(t, err)
		assert.Equal(t, step.want, p.Status)
	}

	_, err = h.promotions.Activate(h.ctx, created.ID)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.promotions.Activate(h.ctx, "missing-promo")
	assert.ErrorIs(t, err, models.ErrNotFound)

	statusChanges := 0
	for _, e := range h.published {
		if e.Type == events.PromotionStatusChanged {
			statusChanges++
		}
	}
	assert.Equal(t, 5, statusChanges)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	h := newHarness(t)
	code := "DUP-CODE"
	first := signupBonus("dup-1", "5", nil)
	first.Code = &code
	second := signupBonus("dup-2", "5", nil)
	second.Code = &code

	_, err := h.promotions.Create(h.ctx, first)
	require.NoError(t, err)
	_, err = h.promotions.Create(h.ctx, second)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestListApplicationsPerUser(t *testing.T) {
	h := newHarness(t)
	h.activate(t, signupBonus("welcome-5", "5", nil))
	_, err := h.promotions.Apply(h.ctx, ApplyRequest{Context: signupContext(alice)})
	require.NoError(t, err)

	mine, err := h.credits.ListApplications(h.ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "welcome-5", mine[0].PromotionID)

	theirs, err := h.credits.ListApplications(h.ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = h.credits.ListApplications(h.ctx, "nope")
	assert.ErrorIs(t, err, models.ErrValidation)
}
