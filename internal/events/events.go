// Package events fans committed ledger and promotion changes out to
// subscribers. Publishing happens after commit and never fails the caller.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Type string

const (
	CreditsAdded           Type = "CREDITS_ADDED"
	CreditsDeducted        Type = "CREDITS_DEDUCTED"
	BalanceCreated         Type = "BALANCE_CREATED"
	PromotionApplied       Type = "PROMOTION_APPLIED"
	PromotionStatusChanged Type = "PROMOTION_STATUS_CHANGED"
)

// Event is the envelope handed to subscribers. AggregateID is the user id for
// balance events and the promotion id for promotion events; Version is the
// aggregate version after the change.
type Event struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	Version     int64          `json:"version"`
	Payload     map[string]any `json:"payload"`
	Timestamp   time.Time      `json:"timestamp"`
}

func New(eventType Type, aggregateID string, version int64, payload map[string]any, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Version:     version,
		Payload:     payload,
		Timestamp:   at,
	}
}

type Handler func(ctx context.Context, e Event) error

// Publisher is what the services depend on.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

type subscription struct {
	name    string
	handler Handler
}

// Bus delivers events synchronously, in subscription order. A failing or
// panicking handler is logged and skipped; the remaining handlers still run.
type Bus struct {
	mu        sync.RWMutex
	byType    map[Type][]subscription
	all       []subscription
	logger    logrus.FieldLogger
	onFailure func(e Event, handler string, err error)
}

func NewBus(logger logrus.FieldLogger) *Bus {
	return &Bus{byType: make(map[Type][]subscription), logger: logger}
}

func (b *Bus) Subscribe(eventType Type, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], subscription{name: name, handler: h})
}

func (b *Bus) SubscribeAll(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, subscription{name: name, handler: h})
}

// OnFailure registers a hook called for every handler failure, after it has
// been logged.
func (b *Bus) OnFailure(fn func(e Event, handler string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFailure = fn
}

func (b *Bus) Publish(ctx context.Context, events ...Event) {
	for _, e := range events {
		b.mu.RLock()
		subs := make([]subscription, 0, len(b.byType[e.Type])+len(b.all))
		subs = append(subs, b.byType[e.Type]...)
		subs = append(subs, b.all...)
		onFailure := b.onFailure
		b.mu.RUnlock()

		for _, sub := range subs {
			if err := deliver(ctx, sub.handler, e); err != nil {
				b.logger.WithFields(logrus.Fields{
					"event_type": e.Type,
					"event_id":   e.ID,
					"handler":    sub.name,
				}).WithError(err).Error("event handler failed")
				if onFailure != nil {
					onFailure(e, sub.name, err)
				}
			}
		}
	}
}

func deliver(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, ...Event) {}
