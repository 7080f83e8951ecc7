// Package services holds the ledger core, the promotion use cases and the
// CreditService facade that external callers go through.
package services

import (
	"context"
	"io"
	"strings"
	"time"

	"credits/internal/events"
	"credits/internal/models"
	"credits/internal/money"
	"credits/internal/store"
	"credits/internal/validator"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Option customises a service. Tests use it to pin the clock and ids.
type Option func(*core)

func WithClock(now func() time.Time) Option {
	return func(c *core) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *core) { c.newID = newID }
}

// core is shared by the ledger and promotion services.
type core struct {
	store     store.Store
	publisher events.Publisher
	logger    logrus.FieldLogger
	now       func() time.Time
	newID     func() string
}

func newCore(st store.Store, publisher events.Publisher, logger logrus.FieldLogger, opts []Option) core {
	if publisher == nil {
		publisher = events.Discard{}
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	c := core{
		store:     st,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// outbox collects the events of one unit of work. They are only handed to
// the publisher once the transaction has committed.
type outbox struct {
	events []events.Event
}

func (o *outbox) add(e events.Event) {
	o.events = append(o.events, e)
}

// runTx runs fn in one store transaction. fn may be retried by the store, so
// it gets a fresh outbox per attempt.
func (c core) runTx(ctx context.Context, fn func(tx store.Tx, out *outbox) error) error {
	var out *outbox
	err := c.store.RunInTx(ctx, func(tx store.Tx) error {
		out = &outbox{}
		return fn(tx, out)
	})
	if err != nil {
		return err
	}
	c.publisher.Publish(ctx, out.events...)
	return nil
}

func (c core) audit(ctx context.Context, tx store.Tx, action models.AuditAction, userID string, amount *money.Money, transactionID string, metadata models.Metadata) error {
	record := models.AuditRecord{
		ID:        c.newID(),
		Action:    action,
		Amount:    amount,
		Metadata:  metadata.Clone(),
		Timestamp: c.now(),
	}
	if userID != "" {
		record.UserID = &userID
	}
	if transactionID != "" {
		record.TransactionID = &transactionID
	}
	return tx.InsertAudit(ctx, record)
}

func validateKey(key *string) error {
	if key == nil {
		return nil
	}
	if err := validator.ValidateIdempotencyKey(*key); err != nil {
		return models.NewValidationError("idempotency_key", "must be 1-128 characters of letters, digits, '_', ':', '.', '-'")
	}
	return nil
}

// deriveKey scopes a caller key to one step of a composite flow.
func deriveKey(key *string, parts ...string) *string {
	if key == nil {
		return nil
	}
	derived := strings.Join(append([]string{*key}, parts...), ":")
	return &derived
}

func ptr[T any](v T) *T { return &v }
