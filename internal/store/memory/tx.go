package memory

import (
	"context"

	"credits/internal/models"
	"credits/internal/store"
)

// txView is the store.Tx handed to RunInTx callbacks. The caller already
// holds the write lock.
type txView struct {
	m *Memory
}

func (t *txView) GetBalanceForUpdate(_ context.Context, userID string) (models.Balance, error) {
	return t.m.getBalance(userID)
}

func (t *txView) CreateBalance(_ context.Context, balance models.Balance) error {
	if _, ok := t.m.balances[balance.UserID]; ok {
		return models.ErrConcurrentModification
	}
	t.m.balances[balance.UserID] = balance
	return nil
}

func (t *txView) SaveBalance(_ context.Context, balance models.Balance, expectedVersion int64) error {
	current, ok := t.m.balances[balance.UserID]
	if !ok {
		return &models.NotFoundError{Kind: "balance", ID: balance.UserID}
	}
	if current.Version != expectedVersion {
		return models.ErrConcurrentModification
	}
	t.m.balances[balance.UserID] = balance
	return nil
}

func (t *txView) FindEntryByIdempotencyKey(_ context.Context, key string) (models.LedgerEntry, bool, error) {
	i, ok := t.m.entryKeys[key]
	if !ok {
		return models.LedgerEntry{}, false, nil
	}
	return t.m.entries[i], true, nil
}

func (t *txView) InsertEntry(_ context.Context, entry models.LedgerEntry) error {
	if entry.IdempotencyKey != nil {
		if _, ok := t.m.entryKeys[*entry.IdempotencyKey]; ok {
			return models.ErrDuplicateIdempotencyKey
		}
		t.m.entryKeys[*entry.IdempotencyKey] = len(t.m.entries)
	}
	t.m.entries = append(t.m.entries, entry)
	return nil
}

func (t *txView) GetPromotionForUpdate(_ context.Context, id string) (models.Promotion, error) {
	return t.m.getPromotion(id)
}

func (t *txView) FindPromotionByCode(_ context.Context, code string) (models.Promotion, error) {
	for _, id := range t.m.promoOrder {
		p := t.m.promotions[id]
		if p.Code != nil && *p.Code == code {
			return clonePromotion(p), nil
		}
	}
	return models.Promotion{}, &models.NotFoundError{Kind: "promotion", ID: code}
}

func (t *txView) ListPromotions(_ context.Context, filter store.PromotionFilter) ([]models.Promotion, error) {
	return t.m.listPromotions(filter), nil
}

func (t *txView) InsertPromotion(_ context.Context, promotion models.Promotion) error {
	if _, ok := t.m.promotions[promotion.ID]; ok {
		return models.NewValidationError("id", "promotion "+promotion.ID+" already exists")
	}
	if promotion.Code != nil {
		for _, p := range t.m.promotions {
			if p.Code != nil && *p.Code == *promotion.Code {
				return models.NewValidationError("code", "promotion code "+*promotion.Code+" already in use")
			}
		}
	}
	t.m.promotions[promotion.ID] = clonePromotion(promotion)
	t.m.promoOrder = append(t.m.promoOrder, promotion.ID)
	return nil
}

func (t *txView) UpdatePromotion(_ context.Context, promotion models.Promotion) error {
	if _, ok := t.m.promotions[promotion.ID]; !ok {
		return &models.NotFoundError{Kind: "promotion", ID: promotion.ID}
	}
	t.m.promotions[promotion.ID] = clonePromotion(promotion)
	return nil
}

func (t *txView) FindApplicationByIdempotencyKey(_ context.Context, key string) (models.PromotionApplication, bool, error) {
	i, ok := t.m.appKeys[key]
	if !ok {
		return models.PromotionApplication{}, false, nil
	}
	return t.m.applications[i], true, nil
}

func (t *txView) InsertApplication(_ context.Context, application models.PromotionApplication) error {
	if application.IdempotencyKey != nil {
		if _, ok := t.m.appKeys[*application.IdempotencyKey]; ok {
			return models.ErrDuplicateIdempotencyKey
		}
		t.m.appKeys[*application.IdempotencyKey] = len(t.m.applications)
	}
	t.m.applications = append(t.m.applications, application)
	return nil
}

func (t *txView) ListApplications(_ context.Context, userID string) ([]models.PromotionApplication, error) {
	return t.m.listApplications(userID), nil
}

func (t *txView) InsertAudit(_ context.Context, record models.AuditRecord) error {
	t.m.audit = append(t.m.audit, record)
	return nil
}
