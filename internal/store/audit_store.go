package store

import (
	"context"
	"time"

	"credits/internal/models"
	"credits/internal/money"

	"github.com/shopspring/decimal"
)

type AuditStore struct {
	db DB
}

type auditRow struct {
	ID            string           `db:"id"`
	Action        string           `db:"action"`
	UserID        *string          `db:"user_id"`
	Amount        *decimal.Decimal `db:"amount"`
	Currency      *string          `db:"currency"`
	TransactionID *string          `db:"transaction_id"`
	Metadata      []byte           `db:"metadata"`
	CreatedAt     time.Time        `db:"created_at"`
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log writes an audit record. It runs on the caller's transaction so the
// record commits or rolls back with the change it describes.
func (s *AuditStore) Log(ctx context.Context, tx Execer, r models.AuditRecord) error {
	meta, err := encodeJSON(r.Metadata)
	if err != nil {
		return err
	}
	var amount *decimal.Decimal
	var currency *string
	if r.Amount != nil {
		value := r.Amount.Amount()
		code := r.Amount.Currency()
		amount, currency = &value, &code
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, user_id, amount, currency, transaction_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, string(r.Action), r.UserID, amount, currency, r.TransactionID, meta, r.Timestamp)
	return err
}

func (s *AuditStore) List(ctx context.Context, filter AuditFilter) ([]models.AuditRecord, error) {
	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	var action *string
	if filter.Action != nil {
		a := string(*filter.Action)
		action = &a
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, action, user_id, amount, currency, transaction_id, metadata, created_at
		FROM audit_logs
		WHERE ($1::text IS NULL OR user_id = $1)
		  AND ($2::text IS NULL OR action = $2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3 OFFSET $4
	`, filter.UserID, action, limit, offset)
	if err != nil {
		return nil, err
	}
	records := make([]models.AuditRecord, 0, len(rows))
	for _, row := range rows {
		meta, err := decodeMetadata(row.Metadata)
		if err != nil {
			return nil, err
		}
		record := models.AuditRecord{
			ID:            row.ID,
			Action:        models.AuditAction(row.Action),
			UserID:        row.UserID,
			TransactionID: row.TransactionID,
			Metadata:      meta,
			Timestamp:     row.CreatedAt,
		}
		if row.Amount != nil && row.Currency != nil {
			amount, err := money.New(*row.Amount, *row.Currency)
			if err != nil {
				return nil, err
			}
			record.Amount = &amount
		}
		records = append(records, record)
	}
	return records, nil
}
