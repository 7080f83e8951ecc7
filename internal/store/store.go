// Package store defines the persistence port used by the services and its
// Postgres implementation. An in-memory implementation lives in store/memory.
package store

import (
	"context"
	"time"

	"credits/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Tx is the set of operations available inside one atomic unit of work.
// Reads made through a Tx observe the writes made earlier through it.
type Tx interface {
	// GetBalanceForUpdate returns a *models.NotFoundError when the user has no
	// balance row.
	GetBalanceForUpdate(ctx context.Context, userID string) (models.Balance, error)
	CreateBalance(ctx context.Context, balance models.Balance) error
	// SaveBalance writes balance only when the stored version equals
	// expectedVersion, otherwise models.ErrConcurrentModification.
	SaveBalance(ctx context.Context, balance models.Balance, expectedVersion int64) error

	FindEntryByIdempotencyKey(ctx context.Context, key string) (models.LedgerEntry, bool, error)
	// InsertEntry returns models.ErrDuplicateIdempotencyKey when another entry
	// already holds the key.
	InsertEntry(ctx context.Context, entry models.LedgerEntry) error

	GetPromotionForUpdate(ctx context.Context, id string) (models.Promotion, error)
	FindPromotionByCode(ctx context.Context, code string) (models.Promotion, error)
	ListPromotions(ctx context.Context, filter PromotionFilter) ([]models.Promotion, error)
	InsertPromotion(ctx context.Context, promotion models.Promotion) error
	UpdatePromotion(ctx context.Context, promotion models.Promotion) error

	FindApplicationByIdempotencyKey(ctx context.Context, key string) (models.PromotionApplication, bool, error)
	InsertApplication(ctx context.Context, application models.PromotionApplication) error
	// ListApplications returns the user's applications, oldest first.
	ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error)

	InsertAudit(ctx context.Context, record models.AuditRecord) error
}

// Store is the persistence port. Everything outside RunInTx is a plain read.
type Store interface {
	// RunInTx runs fn atomically: on error nothing fn wrote is kept.
	RunInTx(ctx context.Context, fn func(Tx) error) error

	GetBalance(ctx context.Context, userID string) (models.Balance, error)
	ListEntries(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error)
	LedgerTotals(ctx context.Context, userID string) (LedgerTotals, error)
	GetPromotion(ctx context.Context, id string) (models.Promotion, error)
	ListPromotions(ctx context.Context, filter PromotionFilter) ([]models.Promotion, error)
	ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error)
	ListAudit(ctx context.Context, filter AuditFilter) ([]models.AuditRecord, error)
}

// LedgerTotals aggregates a user's entries for reconciliation. Amounts are
// in the balance currency.
type LedgerTotals struct {
	Credits decimal.Decimal
	Debits  decimal.Decimal
	Count   int
}

type PromotionFilter struct {
	Statuses []models.PromotionStatus
}

func (f PromotionFilter) Accepts(p models.Promotion) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, status := range f.Statuses {
		if p.Status == status {
			return true
		}
	}
	return false
}

type AuditFilter struct {
	UserID *string
	Action *models.AuditAction
	Limit  int
	Offset int
}

func (f AuditFilter) Accepts(r models.AuditRecord) bool {
	if f.UserID != nil && (r.UserID == nil || *r.UserID != *f.UserID) {
		return false
	}
	if f.Action != nil && r.Action != *f.Action {
		return false
	}
	return true
}

// NormalizePage clamps limit into (0, MaxPageSize] and offset to >= 0.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// InRange reports whether t falls inside the filter's inclusive date bounds.
func InRange(filter models.HistoryFilter, t time.Time) bool {
	if filter.FromDate != nil && t.Before(*filter.FromDate) {
		return false
	}
	if filter.ToDate != nil && t.After(*filter.ToDate) {
		return false
	}
	return true
}
