package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"credits/internal/models"
	"credits/internal/money"

	"github.com/shopspring/decimal"
)

type LedgerStore struct {
	db DB
}

type ledgerRow struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	Kind           string          `db:"kind"`
	Reason         string          `db:"reason"`
	Amount         decimal.Decimal `db:"amount"`
	Currency       string          `db:"currency"`
	BalanceBefore  decimal.Decimal `db:"balance_before"`
	BalanceAfter   decimal.Decimal `db:"balance_after"`
	ReferenceID    *string         `db:"reference_id"`
	Metadata       []byte          `db:"metadata"`
	IdempotencyKey *string         `db:"idempotency_key"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r ledgerRow) toModel() (models.LedgerEntry, error) {
	amount, err := money.New(r.Amount, r.Currency)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("entry %s amount: %w", r.ID, err)
	}
	before, err := money.New(r.BalanceBefore, r.Currency)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("entry %s balance_before: %w", r.ID, err)
	}
	after, err := money.New(r.BalanceAfter, r.Currency)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("entry %s balance_after: %w", r.ID, err)
	}
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("entry %s metadata: %w", r.ID, err)
	}
	return models.LedgerEntry{
		ID:             r.ID,
		UserID:         r.UserID,
		Kind:           models.EntryKind(r.Kind),
		Amount:         amount,
		Reason:         models.Reason(r.Reason),
		BalanceBefore:  before,
		BalanceAfter:   after,
		ReferenceID:    r.ReferenceID,
		Metadata:       meta,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}, nil
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerColumns = `id, user_id, kind, reason, amount, currency, balance_before, balance_after,
		       reference_id, metadata, idempotency_key, created_at`

// Insert appends an entry. Entries are never updated or deleted.
func (s *LedgerStore) Insert(ctx context.Context, tx Execer, e models.LedgerEntry) error {
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, reason, amount, currency, balance_before, balance_after,
		                            reference_id, metadata, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.UserID, string(e.Kind), string(e.Reason), e.Amount.Amount(), e.Amount.Currency(),
		e.BalanceBefore.Amount(), e.BalanceAfter.Amount(), e.ReferenceID, meta, e.IdempotencyKey, e.CreatedAt)
	if constraint, dup := uniqueViolation(err); dup && strings.Contains(constraint, "idempotency_key") {
		return models.ErrDuplicateIdempotencyKey
	}
	return err
}

func (s *LedgerStore) FindByIdempotencyKey(ctx context.Context, tx Getter, key string) (models.LedgerEntry, bool, error) {
	var row ledgerRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE idempotency_key = $1
	`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LedgerEntry{}, false, nil
		}
		return models.LedgerEntry{}, false, err
	}
	entry, err := row.toModel()
	return entry, err == nil, err
}

// List returns a user's entries newest first.
func (s *LedgerStore) List(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error) {
	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	var rows []ledgerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, seq DESC
		LIMIT $4 OFFSET $5
	`, userID, filter.FromDate, filter.ToDate, limit, offset)
	if err != nil {
		return nil, err
	}
	entries := make([]models.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type ledgerTotalsRow struct {
	Credits decimal.Decimal `db:"credits"`
	Debits  decimal.Decimal `db:"debits"`
	Count   int             `db:"entry_count"`
}

func (s *LedgerStore) Totals(ctx context.Context, userID string) (LedgerTotals, error) {
	var row ledgerTotalsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE kind = 'CREDIT'), 0) AS credits,
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'DEBIT'), 0) AS debits,
		       COUNT(*) AS entry_count
		FROM ledger_entries
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return LedgerTotals{}, err
	}
	return LedgerTotals{Credits: row.Credits, Debits: row.Debits, Count: row.Count}, nil
}
