// Package memory is an in-process implementation of store.Store, used by
// tests and by the server when STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"credits/internal/models"
	"credits/internal/store"

	"github.com/shopspring/decimal"
)

// Memory keeps everything in maps guarded by one RWMutex. RunInTx holds the
// write lock for the whole unit of work, so transactions are serial.
type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	balances     map[string]models.Balance
	entries      []models.LedgerEntry
	entryKeys    map[string]int
	promotions   map[string]models.Promotion
	promoOrder   []string
	applications []models.PromotionApplication
	appKeys      map[string]int
	audit        []models.AuditRecord
}

var (
	_ store.Store = (*Memory)(nil)
	_ store.Tx    = (*txView)(nil)
)

func New() *Memory {
	return &Memory{state: state{
		balances:   make(map[string]models.Balance),
		entryKeys:  make(map[string]int),
		promotions: make(map[string]models.Promotion),
		appKeys:    make(map[string]int),
	}}
}

// RunInTx executes fn against a view writing straight into the store. A
// snapshot taken beforehand is restored when fn fails.
func (m *Memory) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) snapshot() state {
	s := state{
		balances:     make(map[string]models.Balance, len(m.balances)),
		entries:      append([]models.LedgerEntry(nil), m.entries...),
		entryKeys:    make(map[string]int, len(m.entryKeys)),
		promotions:   make(map[string]models.Promotion, len(m.promotions)),
		promoOrder:   append([]string(nil), m.promoOrder...),
		applications: append([]models.PromotionApplication(nil), m.applications...),
		appKeys:      make(map[string]int, len(m.appKeys)),
		audit:        append([]models.AuditRecord(nil), m.audit...),
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.entryKeys {
		s.entryKeys[k] = v
	}
	for k, v := range m.promotions {
		s.promotions[k] = v
	}
	for k, v := range m.appKeys {
		s.appKeys[k] = v
	}
	return s
}

func (m *Memory) GetBalance(_ context.Context, userID string) (models.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalance(userID)
}

func (m *Memory) ListEntries(_ context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit, offset := store.NormalizePage(filter.Limit, filter.Offset)
	var matched []models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.UserID != userID || !store.InRange(filter, e.CreatedAt) {
			continue
		}
		matched = append(matched, e)
	}
	// Newest first; equal timestamps keep reverse insertion order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, limit, offset), nil
}

func (m *Memory) LedgerTotals(_ context.Context, userID string) (store.LedgerTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := store.LedgerTotals{Credits: decimal.Zero, Debits: decimal.Zero}
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		totals.Count++
		if e.Kind == models.EntryCredit {
			totals.Credits = totals.Credits.Add(e.Amount.Amount())
		} else {
			totals.Debits = totals.Debits.Add(e.Amount.Amount())
		}
	}
	return totals, nil
}

func (m *Memory) GetPromotion(_ context.Context, id string) (models.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPromotion(id)
}

func (m *Memory) ListPromotions(_ context.Context, filter store.PromotionFilter) ([]models.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPromotions(filter), nil
}

func (m *Memory) ListApplications(_ context.Context, userID string) ([]models.PromotionApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listApplications(userID), nil
}

func (m *Memory) ListAudit(_ context.Context, filter store.AuditFilter) ([]models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit, offset := store.NormalizePage(filter.Limit, filter.Offset)
	var matched []models.AuditRecord
	for i := len(m.audit) - 1; i >= 0; i-- {
		if filter.Accepts(m.audit[i]) {
			matched = append(matched, m.audit[i])
		}
	}
	return page(matched, limit, offset), nil
}

func (s *state) getBalance(userID string) (models.Balance, error) {
	b, ok := s.balances[userID]
	if !ok {
		return models.Balance{}, &models.NotFoundError{Kind: "balance", ID: userID}
	}
	return b, nil
}

func (s *state) listApplications(userID string) []models.PromotionApplication {
	var out []models.PromotionApplication
	for _, a := range s.applications {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

func (s *state) getPromotion(id string) (models.Promotion, error) {
	p, ok := s.promotions[id]
	if !ok {
		return models.Promotion{}, &models.NotFoundError{Kind: "promotion", ID: id}
	}
	return clonePromotion(p), nil
}

// listPromotions returns promotions in creation order, which is the order
// best-of selection breaks ties on.
func (s *state) listPromotions(filter store.PromotionFilter) []models.Promotion {
	out := make([]models.Promotion, 0, len(s.promoOrder))
	for _, id := range s.promoOrder {
		p := s.promotions[id]
		if filter.Accepts(p) {
			out = append(out, clonePromotion(p))
		}
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[offset:end]...)
}

func clonePromotion(p models.Promotion) models.Promotion {
	if p.Conditions.DaysOfWeek != nil {
		p.Conditions.DaysOfWeek = append(p.Conditions.DaysOfWeek[:0:0], p.Conditions.DaysOfWeek...)
	}
	return p
}
