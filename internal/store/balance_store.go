package store

import (
	"context"
	"time"

	"credits/internal/models"
	"credits/internal/money"

	"github.com/shopspring/decimal"
)

type BalanceStore struct {
	db DB
}

type balanceRow struct {
	UserID    string          `db:"user_id"`
	Amount    decimal.Decimal `db:"amount"`
	Currency  string          `db:"currency"`
	Version   int64           `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r balanceRow) toModel() (models.Balance, error) {
	amount, err := money.New(r.Amount, r.Currency)
	if err != nil {
		return models.Balance{}, &models.InvariantViolationError{Detail: "stored balance for " + r.UserID + ": " + err.Error()}
	}
	return models.Balance{
		UserID:    r.UserID,
		Amount:    amount,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func NewBalanceStore(db DB) *BalanceStore {
	return &BalanceStore{db: db}
}

const balanceColumns = `user_id, amount, currency, version, created_at, updated_at`

func (s *BalanceStore) Get(ctx context.Context, userID string) (models.Balance, error) {
	var row balanceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+balanceColumns+`
		FROM balances
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return models.Balance{}, notFound(err, "balance", userID)
	}
	return row.toModel()
}

func (s *BalanceStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.Balance, error) {
	var row balanceRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+balanceColumns+`
		FROM balances
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.Balance{}, notFound(err, "balance", userID)
	}
	return row.toModel()
}

// Create inserts a new balance row. A concurrent creation for the same user
// surfaces as models.ErrConcurrentModification so the transaction is retried.
func (s *BalanceStore) Create(ctx context.Context, tx Execer, b models.Balance) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, amount, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.UserID, b.Amount.Amount(), b.Amount.Currency(), b.Version, b.CreatedAt, b.UpdatedAt)
	if _, dup := uniqueViolation(err); dup {
		return models.ErrConcurrentModification
	}
	return err
}

// Update writes the new amount and version guarded by the expected version.
func (s *BalanceStore) Update(ctx context.Context, tx Execer, b models.Balance, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE balances
		SET amount = $1, version = $2, updated_at = $3
		WHERE user_id = $4 AND version = $5
	`, b.Amount.Amount(), b.Version, b.UpdatedAt, b.UserID, expectedVersion)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrConcurrentModification
	}
	return nil
}
