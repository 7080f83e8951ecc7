package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"credits/internal/money"
	"credits/internal/validator"

	"github.com/shopspring/decimal"
)

type PromotionType string

const (
	PromotionSignupBonus   PromotionType = "SIGNUP_BONUS"
	PromotionRechargeBonus PromotionType = "RECHARGE_BONUS"
	PromotionUsageBonus    PromotionType = "USAGE_BONUS"
	PromotionReferralBonus PromotionType = "REFERRAL_BONUS"
	PromotionDiscountCode  PromotionType = "DISCOUNT_CODE"
	PromotionSeasonal      PromotionType = "SEASONAL"
)

func (t PromotionType) Valid() bool {
	switch t {
	case PromotionSignupBonus, PromotionRechargeBonus, PromotionUsageBonus,
		PromotionReferralBonus, PromotionDiscountCode, PromotionSeasonal:
		return true
	}
	return false
}

type PromotionStatus string

const (
	StatusDraft     PromotionStatus = "DRAFT"
	StatusActive    PromotionStatus = "ACTIVE"
	StatusPaused    PromotionStatus = "PAUSED"
	StatusExpired   PromotionStatus = "EXPIRED"
	StatusExhausted PromotionStatus = "EXHAUSTED"
)

// Terminal statuses are kept for audit but never match again.
func (s PromotionStatus) Terminal() bool {
	return s == StatusExpired || s == StatusExhausted
}

type RewardType string

const (
	RewardFixedCredits       RewardType = "FIXED_CREDITS"
	RewardPercentageBonus    RewardType = "PERCENTAGE_BONUS"
	RewardDiscountPercentage RewardType = "DISCOUNT_PERCENTAGE"
	RewardDiscountFixed      RewardType = "DISCOUNT_FIXED"
)

func (t RewardType) Valid() bool {
	switch t {
	case RewardFixedCredits, RewardPercentageBonus, RewardDiscountPercentage, RewardDiscountFixed:
		return true
	}
	return false
}

func (t RewardType) IsDiscount() bool {
	return t == RewardDiscountPercentage || t == RewardDiscountFixed
}

func (t RewardType) IsPercentage() bool {
	return t == RewardPercentageBonus || t == RewardDiscountPercentage
}

// ContextType is the kind of operation a promotion is evaluated against.
type ContextType string

const (
	ContextTopup       ContextType = "TOPUP"
	ContextReservation ContextType = "RESERVATION"
	ContextSignup      ContextType = "SIGNUP"
)

func (c ContextType) Valid() bool {
	return c == ContextTopup || c == ContextReservation || c == ContextSignup
}

// TimeWindow is an "HH:MM"-"HH:MM" range in UTC, end-exclusive. A window
// whose start is after its end wraps past midnight.
type TimeWindow struct {
	Start string `json:"start" toml:"start"`
	End   string `json:"end" toml:"end"`
}

func (w TimeWindow) Validate() error {
	if _, err := clockMinutes(w.Start); err != nil {
		return NewValidationError("conditions.time_of_day.start", err.Error())
	}
	if _, err := clockMinutes(w.End); err != nil {
		return NewValidationError("conditions.time_of_day.end", err.Error())
	}
	return nil
}

func (w TimeWindow) Contains(at time.Time) bool {
	start, errStart := clockMinutes(w.Start)
	end, errEnd := clockMinutes(w.End)
	if errStart != nil || errEnd != nil {
		return false
	}
	utc := at.UTC()
	minute := utc.Hour()*60 + utc.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

type Conditions struct {
	MinAmount      *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount      *decimal.Decimal `json:"max_amount,omitempty"`
	MinTopupAmount *decimal.Decimal `json:"min_topup_amount,omitempty"`
	DaysOfWeek     []time.Weekday   `json:"days_of_week,omitempty"`
	TimeOfDay      *TimeWindow      `json:"time_of_day,omitempty"`
}

func (c Conditions) Validate() error {
	for field, value := range map[string]*decimal.Decimal{
		"conditions.min_amount":       c.MinAmount,
		"conditions.max_amount":       c.MaxAmount,
		"conditions.min_topup_amount": c.MinTopupAmount,
	} {
		if value != nil && value.IsNegative() {
			return NewValidationError(field, "must not be negative")
		}
	}
	if c.MinAmount != nil && c.MaxAmount != nil && c.MinAmount.GreaterThan(*c.MaxAmount) {
		return NewValidationError("conditions", "min_amount exceeds max_amount")
	}
	for _, day := range c.DaysOfWeek {
		if day < time.Sunday || day > time.Saturday {
			return NewValidationError("conditions.days_of_week", fmt.Sprintf("unknown weekday %d", day))
		}
	}
	if c.TimeOfDay != nil {
		return c.TimeOfDay.Validate()
	}
	return nil
}

type Rewards struct {
	Type            RewardType       `json:"type"`
	Value           decimal.Decimal  `json:"value"`
	MaxRewardAmount *decimal.Decimal `json:"max_reward_amount,omitempty"`
	Stackable       bool             `json:"stackable"`
}

func (r Rewards) Validate() error {
	if !r.Type.Valid() {
		return NewValidationError("rewards.type", fmt.Sprintf("unknown reward type %q", r.Type))
	}
	if !r.Value.IsPositive() {
		return NewValidationError("rewards.value", "must be positive")
	}
	if r.Type.IsPercentage() && r.Value.GreaterThan(decimal.NewFromInt(100)) {
		return NewValidationError("rewards.value", "percentage must not exceed 100")
	}
	if r.MaxRewardAmount != nil && r.MaxRewardAmount.IsNegative() {
		return NewValidationError("rewards.max_reward_amount", "must not be negative")
	}
	return nil
}

type Promotion struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Code       *string         `json:"code,omitempty"`
	Type       PromotionType   `json:"type"`
	Status     PromotionStatus `json:"status"`
	Conditions Conditions      `json:"conditions"`
	Rewards    Rewards         `json:"rewards"`
	ValidFrom  time.Time       `json:"valid_from"`
	ValidTo    *time.Time      `json:"valid_to,omitempty"`
	UsageLimit *int            `json:"usage_limit,omitempty"`
	UsageCount int             `json:"usage_count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewPromotion validates a definition and returns it as a DRAFT.
func NewPromotion(p Promotion, now time.Time) (Promotion, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Promotion{}, NewValidationError("id", "required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return Promotion{}, NewValidationError("name", "required")
	}
	if p.Code != nil {
		code := validator.NormalizePromotionCode(*p.Code)
		if err := validator.ValidatePromotionCode(code); err != nil {
			return Promotion{}, NewValidationError("code", err.Error())
		}
		p.Code = &code
	}
	if !p.Type.Valid() {
		return Promotion{}, NewValidationError("type", fmt.Sprintf("unknown promotion type %q", p.Type))
	}
	if err := p.Conditions.Validate(); err != nil {
		return Promotion{}, err
	}
	if err := p.Rewards.Validate(); err != nil {
		return Promotion{}, err
	}
	if p.ValidFrom.IsZero() {
		p.ValidFrom = now
	}
	if p.ValidTo != nil && p.ValidTo.Before(p.ValidFrom) {
		return Promotion{}, NewValidationError("valid_to", "before valid_from")
	}
	if p.UsageLimit != nil && *p.UsageLimit <= 0 {
		return Promotion{}, NewValidationError("usage_limit", "must be positive")
	}
	p.Status = StatusDraft
	p.UsageCount = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

// IsActive holds when the promotion is ACTIVE, inside its validity window
// and below its usage limit.
func (p Promotion) IsActive(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if now.Before(p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return false
	}
	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return false
	}
	return true
}

// Matches reports whether the promotion type is compatible with the context.
func (p Promotion) Matches(ctxType ContextType) bool {
	switch p.Type {
	case PromotionSignupBonus:
		return ctxType == ContextSignup
	case PromotionRechargeBonus:
		return ctxType == ContextTopup
	case PromotionUsageBonus:
		return ctxType == ContextReservation
	case PromotionDiscountCode, PromotionSeasonal:
		return true
	}
	return false
}

// CanApplyTo checks the amount, weekday and time-of-day conditions.
func (p Promotion) CanApplyTo(amount money.Money, ctxType ContextType, at time.Time) bool {
	value := amount.Amount()
	c := p.Conditions
	if c.MinAmount != nil && value.LessThan(*c.MinAmount) {
		return false
	}
	if c.MaxAmount != nil && value.GreaterThan(*c.MaxAmount) {
		return false
	}
	if ctxType == ContextTopup && c.MinTopupAmount != nil && value.LessThan(*c.MinTopupAmount) {
		return false
	}
	if len(c.DaysOfWeek) > 0 {
		weekday := at.UTC().Weekday()
		allowed := false
		for _, day := range c.DaysOfWeek {
			if day == weekday {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if c.TimeOfDay != nil && !c.TimeOfDay.Contains(at) {
		return false
	}
	return true
}

func (p Promotion) IsDiscount() bool {
	return p.Rewards.Type.IsDiscount()
}

func (p Promotion) Activate(now time.Time) (Promotion, error) {
	if p.Status != StatusDraft && p.Status != StatusPaused {
		return Promotion{}, p.transitionError(StatusActive)
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return Promotion{}, NewValidationError("status", "promotion validity has already ended")
	}
	return p.withStatus(StatusActive, now), nil
}

func (p Promotion) Pause(now time.Time) (Promotion, error) {
	if p.Status != StatusActive {
		return Promotion{}, p.transitionError(StatusPaused)
	}
	return p.withStatus(StatusPaused, now), nil
}

func (p Promotion) Expire(now time.Time) (Promotion, error) {
	if p.Status.Terminal() {
		return Promotion{}, p.transitionError(StatusExpired)
	}
	return p.withStatus(StatusExpired, now), nil
}

// RefreshExpiry flips an ACTIVE promotion whose validity ended to EXPIRED.
func (p Promotion) RefreshExpiry(now time.Time) (Promotion, bool) {
	if p.Status == StatusActive && p.ValidTo != nil && now.After(*p.ValidTo) {
		return p.withStatus(StatusExpired, now), true
	}
	return p, false
}

// RecordUsage counts one successful application. Reaching the usage limit
// moves the promotion to EXHAUSTED.
func (p Promotion) RecordUsage(now time.Time) (Promotion, error) {
	if !p.IsActive(now) {
		return Promotion{}, NewValidationError("promotion", fmt.Sprintf("promotion %s is not active", p.ID))
	}
	p.UsageCount++
	p.UpdatedAt = now
	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		p.Status = StatusExhausted
	}
	return p, nil
}

func (p Promotion) withStatus(status PromotionStatus, now time.Time) Promotion {
	p.Status = status
	p.UpdatedAt = now
	return p
}

func (p Promotion) transitionError(to PromotionStatus) error {
	return NewValidationError("status", fmt.Sprintf("cannot move promotion %s from %s to %s", p.ID, p.Status, to))
}

// PromotionApplication records one successful grant of a promotion.
type PromotionApplication struct {
	ID             string      `json:"id"`
	PromotionID    string      `json:"promotion_id"`
	UserID         string      `json:"user_id"`
	CreditsAwarded money.Money `json:"credits_awarded"`
	Metadata       Metadata    `json:"metadata"`
	IdempotencyKey *string     `json:"idempotency_key,omitempty"`
	AppliedAt      time.Time   `json:"applied_at"`
}

func clockMinutes(raw string) (int, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", raw)
	}
	return hour*60 + minute, nil
}
