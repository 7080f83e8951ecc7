package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"credits/internal/events"
)

// BalanceUpdate is pushed to every connection of the user after a committed
// credit or debit.
type BalanceUpdate struct {
	UserID   string `json:"user_id"`
	EntryID  string `json:"entry_id"`
	Type     string `json:"type"`
	Amount   string `json:"amount"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
	Version  int64  `json:"version"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Subscribe registers the hub on the bus for balance-changing events.
func (h *Hub) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.CreditsAdded, "websocket", h.HandleEvent)
	bus.Subscribe(events.CreditsDeducted, "websocket", h.HandleEvent)
}

func (h *Hub) HandleEvent(_ context.Context, e events.Event) error {
	update := BalanceUpdate{UserID: e.AggregateID, Type: string(e.Type), Version: e.Version}
	for field, dst := range map[string]*string{
		"entry_id": &update.EntryID,
		"amount":   &update.Amount,
		"balance":  &update.Balance,
		"currency": &update.Currency,
		"reason":   &update.Reason,
	} {
		value, ok := e.Payload[field].(string)
		if !ok {
			return fmt.Errorf("event %s: payload field %q missing", e.ID, field)
		}
		*dst = value
	}
	h.BroadcastBalance(e.AggregateID, update)
	return nil
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// BroadcastBalance never blocks: a client whose buffer is full misses the
// update.
func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
