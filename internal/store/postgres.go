package store

import (
	"context"

	"credits/internal/db"
	"credits/internal/models"

	"github.com/jmoiron/sqlx"
)

// Postgres implements Store on top of the table stores. Transactions go
// through a db.TxRunner, which retries serialization failures.
type Postgres struct {
	runner       db.TxRunner
	balances     *BalanceStore
	ledger       *LedgerStore
	promotions   *PromotionStore
	applications *ApplicationStore
	audit        *AuditStore
	reader       DB
}

func NewPostgres(conn DB, runner db.TxRunner) *Postgres {
	return &Postgres{
		runner:       runner,
		balances:     NewBalanceStore(conn),
		ledger:       NewLedgerStore(conn),
		promotions:   NewPromotionStore(conn),
		applications: NewApplicationStore(conn),
		audit:        NewAuditStore(conn),
		reader:       conn,
	}
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(Tx) error) error {
	return p.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgTx{p: p, tx: tx})
	})
}

func (p *Postgres) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	return p.balances.Get(ctx, userID)
}

func (p *Postgres) ListEntries(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error) {
	return p.ledger.List(ctx, userID, filter)
}

func (p *Postgres) LedgerTotals(ctx context.Context, userID string) (LedgerTotals, error) {
	return p.ledger.Totals(ctx, userID)
}

func (p *Postgres) GetPromotion(ctx context.Context, id string) (models.Promotion, error) {
	return p.promotions.Get(ctx, id)
}

func (p *Postgres) ListPromotions(ctx context.Context, filter PromotionFilter) ([]models.Promotion, error) {
	return p.promotions.List(ctx, p.reader, filter)
}

func (p *Postgres) ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error) {
	return p.applications.ListByUser(ctx, p.reader, userID)
}

func (p *Postgres) ListAudit(ctx context.Context, filter AuditFilter) ([]models.AuditRecord, error) {
	return p.audit.List(ctx, filter)
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)

type pgTx struct {
	p  *Postgres
	tx DB
}

func (t *pgTx) GetBalanceForUpdate(ctx context.Context, userID string) (models.Balance, error) {
	return t.p.balances.GetForUpdate(ctx, t.tx, userID)
}

func (t *pgTx) CreateBalance(ctx context.Context, balance models.Balance) error {
	return t.p.balances.Create(ctx, t.tx, balance)
}

func (t *pgTx) SaveBalance(ctx context.Context, balance models.Balance, expectedVersion int64) error {
	return t.p.balances.Update(ctx, t.tx, balance, expectedVersion)
}

func (t *pgTx) FindEntryByIdempotencyKey(ctx context.Context, key string) (models.LedgerEntry, bool, error) {
	return t.p.ledger.FindByIdempotencyKey(ctx, t.tx, key)
}

func (t *pgTx) InsertEntry(ctx context.Context, entry models.LedgerEntry) error {
	return t.p.ledger.Insert(ctx, t.tx, entry)
}

func (t *pgTx) GetPromotionForUpdate(ctx context.Context, id string) (models.Promotion, error) {
	return t.p.promotions.GetForUpdate(ctx, t.tx, id)
}

func (t *pgTx) FindPromotionByCode(ctx context.Context, code string) (models.Promotion, error) {
	return t.p.promotions.GetByCodeForUpdate(ctx, t.tx, code)
}

func (t *pgTx) ListPromotions(ctx context.Context, filter PromotionFilter) ([]models.Promotion, error) {
	return t.p.promotions.List(ctx, t.tx, filter)
}

func (t *pgTx) InsertPromotion(ctx context.Context, promotion models.Promotion) error {
	return t.p.promotions.Insert(ctx, t.tx, promotion)
}

func (t *pgTx) UpdatePromotion(ctx context.Context, promotion models.Promotion) error {
	return t.p.promotions.Update(ctx, t.tx, promotion)
}

func (t *pgTx) FindApplicationByIdempotencyKey(ctx context.Context, key string) (models.PromotionApplication, bool, error) {
	return t.p.applications.FindByIdempotencyKey(ctx, t.tx, key)
}

func (t *pgTx) InsertApplication(ctx context.Context, application models.PromotionApplication) error {
	return t.p.applications.Insert(ctx, t.tx, application)
}

func (t *pgTx) ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error) {
	return t.p.applications.ListByUser(ctx, t.tx, userID)
}

func (t *pgTx) InsertAudit(ctx context.Context, record models.AuditRecord) error {
	return t.p.audit.Log(ctx, t.tx, record)
}
