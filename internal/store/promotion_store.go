package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"credits/internal/models"

	"github.com/lib/pq"
)

type PromotionStore struct {
	db DB
}

type promotionRow struct {
	ID         string     `db:"id"`
	Name       string     `db:"name"`
	Code       *string    `db:"code"`
	Type       string     `db:"type"`
	Status     string     `db:"status"`
	Conditions []byte     `db:"conditions"`
	Rewards    []byte     `db:"rewards"`
	ValidFrom  time.Time  `db:"valid_from"`
	ValidTo    *time.Time `db:"valid_to"`
	UsageLimit *int       `db:"usage_limit"`
	UsageCount int        `db:"usage_count"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r promotionRow) toModel() (models.Promotion, error) {
	p := models.Promotion{
		ID:         r.ID,
		Name:       r.Name,
		Code:       r.Code,
		Type:       models.PromotionType(r.Type),
		Status:     models.PromotionStatus(r.Status),
		ValidFrom:  r.ValidFrom,
		ValidTo:    r.ValidTo,
		UsageLimit: r.UsageLimit,
		UsageCount: r.UsageCount,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Conditions) > 0 {
		if err := json.Unmarshal(r.Conditions, &p.Conditions); err != nil {
			return models.Promotion{}, fmt.Errorf("promotion %s conditions: %w", r.ID, err)
		}
	}
	if err := json.Unmarshal(r.Rewards, &p.Rewards); err != nil {
		return models.Promotion{}, fmt.Errorf("promotion %s rewards: %w", r.ID, err)
	}
	return p, nil
}

func NewPromotionStore(db DB) *PromotionStore {
	return &PromotionStore{db: db}
}

const promotionColumns = `id, name, code, type, status, conditions, rewards, valid_from, valid_to,
		       usage_limit, usage_count, created_at, updated_at`

func (s *PromotionStore) Get(ctx context.Context, id string) (models.Promotion, error) {
	return s.get(ctx, s.db, `WHERE id = $1`, id, id)
}

func (s *PromotionStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.Promotion, error) {
	return s.get(ctx, tx, `WHERE id = $1 FOR UPDATE`, id, id)
}

func (s *PromotionStore) GetByCodeForUpdate(ctx context.Context, tx Getter, code string) (models.Promotion, error) {
	return s.get(ctx, tx, `WHERE code = $1 FOR UPDATE`, code, code)
}

func (s *PromotionStore) get(ctx context.Context, q Getter, where string, arg any, id string) (models.Promotion, error) {
	var row promotionRow
	if err := q.GetContext(ctx, &row, `SELECT `+promotionColumns+` FROM promotions `+where, arg); err != nil {
		return models.Promotion{}, notFound(err, "promotion", id)
	}
	return row.toModel()
}

// List returns promotions in creation order.
func (s *PromotionStore) List(ctx context.Context, q Selecter, filter PromotionFilter) ([]models.Promotion, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	var rows []promotionRow
	err := q.SelectContext(ctx, &rows, `
		SELECT `+promotionColumns+`
		FROM promotions
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY created_at, seq
	`, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	promotions := make([]models.Promotion, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		promotions = append(promotions, p)
	}
	return promotions, nil
}

func (s *PromotionStore) Insert(ctx context.Context, tx Execer, p models.Promotion) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return err
	}
	rewards, err := json.Marshal(p.Rewards)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO promotions (id, name, code, type, status, conditions, rewards, valid_from, valid_to,
		                        usage_limit, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.Name, p.Code, string(p.Type), string(p.Status), conditions, rewards, p.ValidFrom, p.ValidTo,
		p.UsageLimit, p.UsageCount, p.CreatedAt, p.UpdatedAt)
	if constraint, dup := uniqueViolation(err); dup {
		if strings.Contains(constraint, "code") {
			return models.NewValidationError("code", "promotion code already in use")
		}
		return models.NewValidationError("id", "promotion "+p.ID+" already exists")
	}
	return err
}

// Update persists status and usage changes. Definitions are immutable once
// created.
func (s *PromotionStore) Update(ctx context.Context, tx Execer, p models.Promotion) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE promotions
		SET status = $1, usage_count = $2, updated_at = $3
		WHERE id = $4
	`, string(p.Status), p.UsageCount, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return &models.NotFoundError{Kind: "promotion", ID: p.ID}
	}
	return nil
}
