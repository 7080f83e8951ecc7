// Package promotion evaluates promotions against an operation context. It is
// pure computation over promotions already loaded by the caller; nothing here
// touches storage.
package promotion

import (
	"time"

	"credits/internal/models"
	"credits/internal/money"

	"github.com/shopspring/decimal"
)

// RewardScale is the number of decimals a computed reward is rounded to.
const RewardScale = 2

var hundred = decimal.NewFromInt(100)

// Context describes the operation a promotion would apply to.
type Context struct {
	UserID   string
	Amount   money.Money
	Type     models.ContextType
	Metadata models.Metadata
	At       time.Time
}

type Result struct {
	Promotion models.Promotion
	Reward    money.Money
}

// FindApplicable keeps, in input order, the promotions that are active,
// compatible with the context type and whose conditions hold.
func FindApplicable(promotions []models.Promotion, ctx Context) []models.Promotion {
	applicable := make([]models.Promotion, 0, len(promotions))
	for _, p := range promotions {
		if !p.IsActive(ctx.At) {
			continue
		}
		if !p.Matches(ctx.Type) {
			continue
		}
		if !p.CanApplyTo(ctx.Amount, ctx.Type, ctx.At) {
			continue
		}
		applicable = append(applicable, p)
	}
	return applicable
}

// CalculateReward computes the reward in the amount's currency. Percentages
// are taken of the amount and rounded to RewardScale with banker's rounding;
// the rounded value is then clamped to MaxRewardAmount.
func CalculateReward(p models.Promotion, amount money.Money) (money.Money, error) {
	var reward money.Money
	var err error
	switch p.Rewards.Type {
	case models.RewardFixedCredits, models.RewardDiscountFixed:
		reward, err = money.New(p.Rewards.Value, amount.Currency())
	case models.RewardPercentageBonus, models.RewardDiscountPercentage:
		reward, err = amount.Multiply(p.Rewards.Value)
		if err == nil {
			reward, err = reward.Divide(hundred)
		}
	default:
		return money.Money{}, models.NewValidationError("rewards.type", "unknown reward type "+string(p.Rewards.Type))
	}
	if err != nil {
		return money.Money{}, models.NewValidationError("rewards.value", err.Error())
	}
	reward = reward.Round(RewardScale)
	if p.Rewards.MaxRewardAmount != nil {
		ceiling, err := money.New(*p.Rewards.MaxRewardAmount, amount.Currency())
		if err != nil {
			return money.Money{}, models.NewValidationError("rewards.max_reward_amount", err.Error())
		}
		reward = money.Min(reward, ceiling)
	}
	return reward, nil
}

// ApplyBest picks the applicable promotion with the strictly greatest
// reward. On ties the promotion that comes first in the input wins.
func ApplyBest(promotions []models.Promotion, ctx Context) (Result, bool, error) {
	var best Result
	found := false
	for _, p := range FindApplicable(promotions, ctx) {
		reward, err := CalculateReward(p, ctx.Amount)
		if err != nil {
			return Result{}, false, err
		}
		if !found || reward.GreaterThan(best.Reward) {
			best = Result{Promotion: p, Reward: reward}
			found = true
		}
	}
	return best, found, nil
}

// ApplyStackable returns every applicable promotion marked stackable, each
// computed independently against the full amount. Callers sum the rewards.
func ApplyStackable(promotions []models.Promotion, ctx Context) ([]Result, error) {
	var results []Result
	for _, p := range FindApplicable(promotions, ctx) {
		if !p.Rewards.Stackable {
			continue
		}
		reward, err := CalculateReward(p, ctx.Amount)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Promotion: p, Reward: reward})
	}
	return results, nil
}

// Select is the policy used by the automatic flows: the stackable set is
// granted when its combined reward beats the single best promotion,
// otherwise the single best one is. Equal totals favour the single best.
func Select(promotions []models.Promotion, ctx Context) ([]Result, error) {
	best, found, err := ApplyBest(promotions, ctx)
	if err != nil || !found {
		return nil, err
	}
	stack, err := ApplyStackable(promotions, ctx)
	if err != nil {
		return nil, err
	}
	if len(stack) == 0 {
		return []Result{best}, nil
	}
	stackTotal, err := Sum(stack, ctx.Amount.Currency())
	if err != nil {
		return nil, err
	}
	if best.Promotion.Rewards.Stackable || stackTotal.GreaterThan(best.Reward) {
		return stack, nil
	}
	return []Result{best}, nil
}

// Sum adds up the rewards of results in the given currency.
func Sum(results []Result, currency string) (money.Money, error) {
	total, err := money.Zero(currency)
	if err != nil {
		return money.Money{}, err
	}
	for _, r := range results {
		total, err = total.Add(r.Reward)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// Total is the amount after a reward: discounts are subtracted (floored at
// zero), bonuses are added.
func Total(amount, reward money.Money, isDiscount bool) (money.Money, error) {
	if isDiscount {
		return amount.SubtractFloor(reward)
	}
	return amount.Add(reward)
}
