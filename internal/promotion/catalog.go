package promotion

import (
	"fmt"
	"io"
	"time"

	"credits/internal/models"
	"credits/internal/money"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Catalog is the on-disk form of a promotion set:
//
//	[[promotion]]
//	id = "spring-recharge"
//	name = "Spring recharge bonus"
//	type = "RECHARGE_BONUS"
//	activate = true
//	[promotion.conditions]
//	min_topup_amount = "50"
//	[promotion.rewards]
//	type = "PERCENTAGE_BONUS"
//	value = "10"
type Catalog struct {
	Promotions []CatalogEntry `toml:"promotion"`
}

type CatalogEntry struct {
	ID         string            `toml:"id"`
	Name       string            `toml:"name"`
	Code       string            `toml:"code"`
	Type       string            `toml:"type"`
	Activate   bool              `toml:"activate"`
	ValidFrom  time.Time         `toml:"valid_from"`
	ValidTo    *time.Time        `toml:"valid_to"`
	UsageLimit int               `toml:"usage_limit"`
	Conditions CatalogConditions `toml:"conditions"`
	Rewards    CatalogRewards    `toml:"rewards"`
}

type CatalogConditions struct {
	MinAmount      string             `toml:"min_amount"`
	MaxAmount      string             `toml:"max_amount"`
	MinTopupAmount string             `toml:"min_topup_amount"`
	DaysOfWeek     []int              `toml:"days_of_week"`
	TimeOfDay      *models.TimeWindow `toml:"time_of_day"`
}

type CatalogRewards struct {
	Type            string `toml:"type"`
	Value           string `toml:"value"`
	MaxRewardAmount string `toml:"max_reward_amount"`
	Stackable       bool   `toml:"stackable"`
}

// Definition is one decoded catalog entry. Promotion is not yet validated;
// persisting it goes through the same checks as any other promotion.
type Definition struct {
	Promotion models.Promotion
	Activate  bool
}

func LoadCatalog(r io.Reader) ([]Definition, error) {
	var catalog Catalog
	if _, err := toml.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decode promotion catalog: %w", err)
	}
	definitions := make([]Definition, 0, len(catalog.Promotions))
	for i, entry := range catalog.Promotions {
		p, err := entry.toPromotion()
		if err != nil {
			return nil, fmt.Errorf("promotion #%d (%s): %w", i+1, entry.ID, err)
		}
		definitions = append(definitions, Definition{Promotion: p, Activate: entry.Activate})
	}
	return definitions, nil
}

func (e CatalogEntry) toPromotion() (models.Promotion, error) {
	p := models.Promotion{
		ID:        e.ID,
		Name:      e.Name,
		Type:      models.PromotionType(e.Type),
		ValidFrom: e.ValidFrom,
		ValidTo:   e.ValidTo,
	}
	if e.Code != "" {
		code := e.Code
		p.Code = &code
	}
	if e.UsageLimit != 0 {
		limit := e.UsageLimit
		p.UsageLimit = &limit
	}
	var err error
	if p.Conditions.MinAmount, err = optionalDecimal(e.Conditions.MinAmount); err != nil {
		return models.Promotion{}, fmt.Errorf("conditions.min_amount: %w", err)
	}
	if p.Conditions.MaxAmount, err = optionalDecimal(e.Conditions.MaxAmount); err != nil {
		return models.Promotion{}, fmt.Errorf("conditions.max_amount: %w", err)
	}
	if p.Conditions.MinTopupAmount, err = optionalDecimal(e.Conditions.MinTopupAmount); err != nil {
		return models.Promotion{}, fmt.Errorf("conditions.min_topup_amount: %w", err)
	}
	for _, day := range e.Conditions.DaysOfWeek {
		p.Conditions.DaysOfWeek = append(p.Conditions.DaysOfWeek, time.Weekday(day))
	}
	p.Conditions.TimeOfDay = e.Conditions.TimeOfDay

	p.Rewards.Type = models.RewardType(e.Rewards.Type)
	p.Rewards.Stackable = e.Rewards.Stackable
	if p.Rewards.Value, err = money.ParseAmount(e.Rewards.Value); err != nil {
		return models.Promotion{}, fmt.Errorf("rewards.value: %w", err)
	}
	if p.Rewards.MaxRewardAmount, err = optionalDecimal(e.Rewards.MaxRewardAmount); err != nil {
		return models.Promotion{}, fmt.Errorf("rewards.max_reward_amount: %w", err)
	}
	return p, nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := money.ParseAmount(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
