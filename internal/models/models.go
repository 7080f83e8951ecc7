package models

import (
	"fmt"
	"time"

	"credits/internal/money"
	"credits/internal/validator"
)

type EntryKind string

const (
	EntryCredit EntryKind = "CREDIT"
	EntryDebit  EntryKind = "DEBIT"
)

// Reason is the business cause of a ledger entry.
type Reason string

const (
	ReasonTopup              Reason = "TOPUP"
	ReasonPayment            Reason = "PAYMENT"
	ReasonPromotion          Reason = "PROMOTION"
	ReasonRefund             Reason = "REFUND"
	ReasonAdminAdjustment    Reason = "ADMIN_ADJUSTMENT"
	ReasonOrder              Reason = "ORDER"
	ReasonReservationPayment Reason = "RESERVATION_PAYMENT"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonTopup, ReasonPayment, ReasonPromotion, ReasonRefund,
		ReasonAdminAdjustment, ReasonOrder, ReasonReservationPayment:
		return true
	}
	return false
}

func ParseReason(raw string) (Reason, error) {
	reason := Reason(raw)
	if !reason.Valid() {
		return "", NewValidationError("reason", fmt.Sprintf("unknown reason %q", raw))
	}
	return reason, nil
}

type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Balance is the current credit amount of one user. Amount is never negative
// and Version increases by one on every mutation.
type Balance struct {
	UserID    string      `json:"user_id"`
	Amount    money.Money `json:"amount"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func NewBalance(userID, currency string, now time.Time) (Balance, error) {
	if err := ValidateUserID(userID); err != nil {
		return Balance{}, err
	}
	zero, err := money.Zero(currency)
	if err != nil {
		return Balance{}, NewValidationError("currency", err.Error())
	}
	return Balance{UserID: userID, Amount: zero, Version: 0, CreatedAt: now, UpdatedAt: now}, nil
}

func (b Balance) Credit(amount money.Money, now time.Time) (Balance, error) {
	next, err := b.Amount.Add(amount)
	if err != nil {
		return Balance{}, NewValidationError("currency", err.Error())
	}
	b.Amount = next
	b.Version++
	b.UpdatedAt = now
	return b, nil
}

func (b Balance) Debit(amount money.Money, now time.Time) (Balance, error) {
	if !b.Amount.SameCurrency(amount) {
		return Balance{}, NewValidationError("currency", money.ErrCurrencyMismatch.Error())
	}
	if b.Amount.LessThan(amount) {
		return Balance{}, &InsufficientFundsError{UserID: b.UserID, Available: b.Amount, Requested: amount}
	}
	next, err := b.Amount.Subtract(amount)
	if err != nil {
		return Balance{}, err
	}
	b.Amount = next
	b.Version++
	b.UpdatedAt = now
	return b, nil
}

// LedgerEntry is the immutable record of one balance change.
type LedgerEntry struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Kind           EntryKind   `json:"kind"`
	Amount         money.Money `json:"amount"`
	Reason         Reason      `json:"reason"`
	BalanceBefore  money.Money `json:"balance_before"`
	BalanceAfter   money.Money `json:"balance_after"`
	ReferenceID    *string     `json:"reference_id,omitempty"`
	Metadata       Metadata    `json:"metadata"`
	IdempotencyKey *string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewLedgerEntry builds an entry and checks that before/after reconcile.
func NewLedgerEntry(entry LedgerEntry, now time.Time) (LedgerEntry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.CreatedAt.After(now) {
		return LedgerEntry{}, &InvariantViolationError{Detail: "entry created in the future"}
	}
	entry.Metadata = entry.Metadata.Clone()
	if err := entry.CheckConsistency(); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

func (e LedgerEntry) CheckConsistency() error {
	if !e.Amount.SameCurrency(e.BalanceBefore) || !e.Amount.SameCurrency(e.BalanceAfter) {
		return &InvariantViolationError{Detail: fmt.Sprintf("entry %s mixes currencies", e.ID)}
	}
	var expected money.Money
	var err error
	switch e.Kind {
	case EntryCredit:
		expected, err = e.BalanceBefore.Add(e.Amount)
	case EntryDebit:
		expected, err = e.BalanceBefore.Subtract(e.Amount)
	default:
		return &InvariantViolationError{Detail: fmt.Sprintf("entry %s has unknown kind %q", e.ID, e.Kind)}
	}
	if err != nil {
		return &InvariantViolationError{Detail: fmt.Sprintf("entry %s: %v", e.ID, err)}
	}
	if !expected.Equal(e.BalanceAfter) {
		return &InvariantViolationError{Detail: fmt.Sprintf("entry %s: balance after %s, expected %s", e.ID, e.BalanceAfter, expected)}
	}
	return nil
}

// SameRequest reports whether a replayed request matches the stored entry.
func (e LedgerEntry) SameRequest(userID string, kind EntryKind, amount money.Money, reason Reason, referenceID *string) bool {
	return e.UserID == userID &&
		e.Kind == kind &&
		e.Amount.Equal(amount) &&
		e.Reason == reason &&
		stringPtrEqual(e.ReferenceID, referenceID)
}

type AuditAction string

const (
	AuditCreditsAdded     AuditAction = "credits_added"
	AuditCreditsDeducted  AuditAction = "credits_deducted"
	AuditAccountOpened    AuditAction = "account_opened"
	AuditPromotionApplied AuditAction = "promotion_applied"
	AuditPromotionCreated AuditAction = "promotion_created"
	AuditPromotionStatus  AuditAction = "promotion_status_changed"
)

type AuditRecord struct {
	ID            string       `json:"id"`
	Action        AuditAction  `json:"action"`
	UserID        *string      `json:"user_id,omitempty"`
	Amount        *money.Money `json:"amount,omitempty"`
	TransactionID *string      `json:"transaction_id,omitempty"`
	Metadata      Metadata     `json:"metadata"`
	Timestamp     time.Time    `json:"timestamp"`
}

// HistoryFilter narrows a history listing. Zero values mean "no bound".
type HistoryFilter struct {
	Limit    int
	Offset   int
	FromDate *time.Time
	ToDate   *time.Time
}

func ValidateUserID(id string) error {
	if err := validator.ValidateUserID(id); err != nil {
		return NewValidationError("user_id", "must be 10-50 characters of letters, digits, '-' or '_'")
	}
	return nil
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
