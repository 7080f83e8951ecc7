package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"credits/internal/events"
	"credits/internal/models"
	"credits/internal/money"
	"credits/internal/store"
	"credits/internal/validator"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LedgerService owns balances and ledger entries. DeductCredits is the only
// path that lowers a balance and it checks sufficiency before writing.
type LedgerService struct {
	core
	defaultCurrency string
}

func NewLedgerService(st store.Store, publisher events.Publisher, logger logrus.FieldLogger, defaultCurrency string, opts ...Option) *LedgerService {
	return &LedgerService{
		core:            newCore(st, publisher, logger, opts),
		defaultCurrency: strings.ToUpper(defaultCurrency),
	}
}

// CreditCommand is one credit or debit request.
type CreditCommand struct {
	UserID         string
	Amount         money.Money
	Reason         models.Reason
	ReferenceID    *string
	Metadata       models.Metadata
	IdempotencyKey *string
}

func (c CreditCommand) validate() error {
	if err := models.ValidateUserID(c.UserID); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return models.NewValidationError("amount", "must be greater than zero")
	}
	if !c.Reason.Valid() {
		return models.NewValidationError("reason", fmt.Sprintf("unknown reason %q", c.Reason))
	}
	if c.ReferenceID != nil {
		if err := validator.ValidateReferenceID(*c.ReferenceID); err != nil {
			return models.NewValidationError("reference_id", err.Error())
		}
	}
	return validateKey(c.IdempotencyKey)
}

// posting is the outcome of one credit or debit inside a transaction.
type posting struct {
	Entry    models.LedgerEntry
	Balance  models.Balance
	Replayed bool
}

func (s *LedgerService) AddCredits(ctx context.Context, cmd CreditCommand) (models.LedgerEntry, error) {
	p, err := s.post(ctx, models.EntryCredit, cmd)
	return p.Entry, err
}

func (s *LedgerService) DeductCredits(ctx context.Context, cmd CreditCommand) (models.LedgerEntry, error) {
	p, err := s.post(ctx, models.EntryDebit, cmd)
	return p.Entry, err
}

func (s *LedgerService) post(ctx context.Context, kind models.EntryKind, cmd CreditCommand) (posting, error) {
	if err := cmd.validate(); err != nil {
		return posting{}, err
	}
	var result posting
	err := s.runTx(ctx, func(tx store.Tx, out *outbox) error {
		var err error
		result, err = s.apply(ctx, tx, kind, cmd, out)
		return err
	})
	if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
		// Lost a race against a request with the same key.
		return s.replay(ctx, kind, cmd)
	}
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) {
			s.logger.WithError(err).WithField("user_id", cmd.UserID).Error("ledger invariant violated")
		}
		return posting{}, err
	}
	return result, nil
}

func (s *LedgerService) replay(ctx context.Context, kind models.EntryKind, cmd CreditCommand) (posting, error) {
	var result posting
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		existing, found, err := s.findReplay(ctx, tx, kind, cmd)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("entry for idempotency key %q vanished: %w", *cmd.IdempotencyKey, models.ErrConcurrentModification)
		}
		result = existing
		return nil
	})
	return result, err
}

// findReplay looks up a prior entry for the command's key. A match with
// different parameters is an IdempotencyConflictError.
func (s *LedgerService) findReplay(ctx context.Context, tx store.Tx, kind models.EntryKind, cmd CreditCommand) (posting, bool, error) {
	if cmd.IdempotencyKey == nil {
		return posting{}, false, nil
	}
	entry, found, err := tx.FindEntryByIdempotencyKey(ctx, *cmd.IdempotencyKey)
	if err != nil || !found {
		return posting{}, false, err
	}
	if !entry.SameRequest(cmd.UserID, kind, cmd.Amount, cmd.Reason, cmd.ReferenceID) {
		return posting{}, false, &models.IdempotencyConflictError{Key: *cmd.IdempotencyKey}
	}
	balance, err := tx.GetBalanceForUpdate(ctx, cmd.UserID)
	if err != nil {
		return posting{}, false, err
	}
	return posting{Entry: entry, Balance: balance, Replayed: true}, true, nil
}

// apply performs one credit or debit inside tx: lock the balance, move it,
// write the paired entry and audit record, and queue the event.
func (s *LedgerService) apply(ctx context.Context, tx store.Tx, kind models.EntryKind, cmd CreditCommand, out *outbox) (posting, error) {
	if prior, found, err := s.findReplay(ctx, tx, kind, cmd); err != nil || found {
		return prior, err
	}

	balance, err := tx.GetBalanceForUpdate(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return posting{}, &models.NotFoundError{Kind: "user", ID: cmd.UserID}
		}
		return posting{}, err
	}

	now := s.now()
	var next models.Balance
	if kind == models.EntryCredit {
		next, err = balance.Credit(cmd.Amount, now)
	} else {
		next, err = balance.Debit(cmd.Amount, now)
	}
	if err != nil {
		return posting{}, err
	}
	if next.Amount.Amount().IsNegative() {
		return posting{}, &models.InvariantViolationError{Detail: fmt.Sprintf("balance of %s would become negative", cmd.UserID)}
	}
	if err := tx.SaveBalance(ctx, next, balance.Version); err != nil {
		return posting{}, err
	}

	entry, err := models.NewLedgerEntry(models.LedgerEntry{
		ID:             s.newID(),
		UserID:         cmd.UserID,
		Kind:           kind,
		Amount:         cmd.Amount,
		Reason:         cmd.Reason,
		BalanceBefore:  balance.Amount,
		BalanceAfter:   next.Amount,
		ReferenceID:    cmd.ReferenceID,
		Metadata:       cmd.Metadata,
		IdempotencyKey: cmd.IdempotencyKey,
		CreatedAt:      now,
	}, now)
	if err != nil {
		return posting{}, err
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return posting{}, err
	}

	action, eventType := models.AuditCreditsAdded, events.CreditsAdded
	if kind == models.EntryDebit {
		action, eventType = models.AuditCreditsDeducted, events.CreditsDeducted
	}
	meta := models.Metadata{"reason": string(cmd.Reason), "balance_after": next.Amount.Format()}
	if cmd.ReferenceID != nil {
		meta["reference_id"] = *cmd.ReferenceID
	}
	if err := s.audit(ctx, tx, action, cmd.UserID, &entry.Amount, entry.ID, meta); err != nil {
		return posting{}, err
	}
	out.add(events.New(eventType, cmd.UserID, next.Version, map[string]any{
		"entry_id": entry.ID,
		"user_id":  cmd.UserID,
		"amount":   entry.Amount.Format(),
		"currency": entry.Amount.Currency(),
		"balance":  next.Amount.Format(),
		"reason":   string(cmd.Reason),
	}, now))

	s.logger.WithFields(logrus.Fields{
		"user_id":  cmd.UserID,
		"entry_id": entry.ID,
		"amount":   entry.Amount.String(),
		"kind":     kind,
	}).Debug("ledger entry posted")
	return posting{Entry: entry, Balance: next}, nil
}

// GetBalance returns the user's balance, creating a zero balance in the
// default currency on first access.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return models.Balance{}, err
	}
	balance, err := s.store.GetBalance(ctx, userID)
	if err == nil || !errors.Is(err, models.ErrNotFound) {
		return balance, err
	}
	err = s.runTx(ctx, func(tx store.Tx, out *outbox) error {
		balance, _, err = s.open(ctx, tx, userID, s.defaultCurrency, out)
		return err
	})
	return balance, err
}

// OpenAccount creates a zero balance. Opening an existing account in the
// same currency returns it unchanged.
func (s *LedgerService) OpenAccount(ctx context.Context, userID, currency string) (models.Balance, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return models.Balance{}, err
	}
	if currency == "" {
		currency = s.defaultCurrency
	}
	currency = strings.ToUpper(currency)
	var balance models.Balance
	err := s.runTx(ctx, func(tx store.Tx, out *outbox) error {
		var err error
		balance, _, err = s.open(ctx, tx, userID, currency, out)
		if err != nil {
			return err
		}
		if balance.Amount.Currency() != currency {
			return models.NewValidationError("currency", fmt.Sprintf("account %s is held in %s", userID, balance.Amount.Currency()))
		}
		return nil
	})
	return balance, err
}

func (s *LedgerService) open(ctx context.Context, tx store.Tx, userID, currency string, out *outbox) (models.Balance, bool, error) {
	existing, err := tx.GetBalanceForUpdate(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.Balance{}, false, err
	}
	now := s.now()
	balance, err := models.NewBalance(userID, currency, now)
	if err != nil {
		return models.Balance{}, false, err
	}
	if err := tx.CreateBalance(ctx, balance); err != nil {
		return models.Balance{}, false, err
	}
	if err := s.audit(ctx, tx, models.AuditAccountOpened, userID, nil, "", models.Metadata{"currency": balance.Amount.Currency()}); err != nil {
		return models.Balance{}, false, err
	}
	out.add(events.New(events.BalanceCreated, userID, balance.Version, map[string]any{
		"user_id":  userID,
		"currency": balance.Amount.Currency(),
		"balance":  balance.Amount.Format(),
	}, now))
	s.logger.WithField("user_id", userID).Debug("account opened")
	return balance, true, nil
}

// CanAfford is false for unknown users and for amounts in another currency.
func (s *LedgerService) CanAfford(ctx context.Context, userID string, amount money.Money) (bool, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return false, err
	}
	balance, err := s.store.GetBalance(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return balance.Amount.SameCurrency(amount) && balance.Amount.GreaterThanOrEqual(amount), nil
}

func (s *LedgerService) GetHistory(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, models.NewValidationError("pagination", "limit and offset must not be negative")
	}
	if filter.FromDate != nil && filter.ToDate != nil && filter.FromDate.After(*filter.ToDate) {
		return nil, models.NewValidationError("from", "after to")
	}
	return s.store.ListEntries(ctx, userID, filter)
}

// Reconciliation compares the stored balance with the sum of its entries.
type Reconciliation struct {
	UserID     string          `json:"user_id"`
	Currency   string          `json:"currency"`
	Stored     decimal.Decimal `json:"stored"`
	Computed   decimal.Decimal `json:"computed"`
	Difference decimal.Decimal `json:"difference"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
}

func (s *LedgerService) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return Reconciliation{}, err
	}
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	totals, err := s.store.LedgerTotals(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	computed := totals.Credits.Sub(totals.Debits)
	stored := balance.Amount.Amount()
	diff := stored.Sub(computed)
	rec := Reconciliation{
		UserID:     userID,
		Currency:   balance.Amount.Currency(),
		Stored:     stored,
		Computed:   computed,
		Difference: diff,
		Entries:    totals.Count,
		Consistent: diff.IsZero(),
	}
	if !rec.Consistent {
		s.logger.WithFields(logrus.Fields{
			"user_id":    userID,
			"stored":     stored.String(),
			"computed":   computed.String(),
			"difference": diff.String(),
		}).Error("balance does not reconcile with ledger")
	}
	return rec, nil
}
