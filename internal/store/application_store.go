package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credits/internal/models"
	"credits/internal/money"

	"github.com/shopspring/decimal"
)

type ApplicationStore struct {
	db DB
}

type applicationRow struct {
	ID             string          `db:"id"`
	PromotionID    string          `db:"promotion_id"`
	UserID         string          `db:"user_id"`
	CreditsAwarded decimal.Decimal `db:"credits_awarded"`
	Currency       string          `db:"currency"`
	Metadata       []byte          `db:"metadata"`
	IdempotencyKey *string         `db:"idempotency_key"`
	AppliedAt      time.Time       `db:"applied_at"`
}

func (r applicationRow) toModel() (models.PromotionApplication, error) {
	awarded, err := money.New(r.CreditsAwarded, r.Currency)
	if err != nil {
		return models.PromotionApplication{}, fmt.Errorf("application %s credits_awarded: %w", r.ID, err)
	}
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return models.PromotionApplication{}, fmt.Errorf("application %s metadata: %w", r.ID, err)
	}
	return models.PromotionApplication{
		ID:             r.ID,
		PromotionID:    r.PromotionID,
		UserID:         r.UserID,
		CreditsAwarded: awarded,
		Metadata:       meta,
		IdempotencyKey: r.IdempotencyKey,
		AppliedAt:      r.AppliedAt,
	}, nil
}

func NewApplicationStore(db DB) *ApplicationStore {
	return &ApplicationStore{db: db}
}

const applicationColumns = `id, promotion_id, user_id, credits_awarded, currency, metadata, idempotency_key, applied_at`

func (s *ApplicationStore) Insert(ctx context.Context, tx Execer, a models.PromotionApplication) error {
	meta, err := encodeJSON(a.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO promotion_applications (id, promotion_id, user_id, credits_awarded, currency, metadata, idempotency_key, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.PromotionID, a.UserID, a.CreditsAwarded.Amount(), a.CreditsAwarded.Currency(), meta, a.IdempotencyKey, a.AppliedAt)
	if _, dup := uniqueViolation(err); dup {
		return models.ErrDuplicateIdempotencyKey
	}
	return err
}

func (s *ApplicationStore) FindByIdempotencyKey(ctx context.Context, tx Getter, key string) (models.PromotionApplication, bool, error) {
	var row applicationRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+applicationColumns+`
		FROM promotion_applications
		WHERE idempotency_key = $1
	`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromotionApplication{}, false, nil
		}
		return models.PromotionApplication{}, false, err
	}
	app, err := row.toModel()
	return app, err == nil, err
}

func (s *ApplicationStore) ListByUser(ctx context.Context, q Selecter, userID string) ([]models.PromotionApplication, error) {
	var rows []applicationRow
	err := q.SelectContext(ctx, &rows, `
		SELECT `+applicationColumns+`
		FROM promotion_applications
		WHERE user_id = $1
		ORDER BY applied_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	apps := make([]models.PromotionApplication, 0, len(rows))
	for _, row := range rows {
		app, err := row.toModel()
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}
