package wallet

import (
	"sync"

	"github.com/nimbus-wallet/wallet-engine/internal/record"
)

// EventType tags session events delivered to UI and dapp surfaces.
type EventType string

const (
	EventRecordUpdated             EventType = "recordUpdated"
	EventCurrentAddressChange      EventType = "currentAddressChange"
	EventChainChanged              EventType = "chainChanged"
	EventPermissionsUpdated        EventType = "permissionsUpdated"
	EventPendingTransactionCreated EventType = "pendingTransactionCreated"
)

// Event is one session notification. Only the fields relevant to its type are
// set: Addresses for currentAddressChange, ChainID for chainChanged,
// Transaction for pendingTransactionCreated.
type Event struct {
	Type        EventType                 `json:"type"`
	Addresses   []string                  `json:"addresses,omitempty"`
	ChainID     string                    `json:"chainId,omitempty"`
	Transaction *record.StoredTransaction `json:"transaction,omitempty"`
}

// Bus fans events out to subscribers. Handlers run synchronously on the
// emitting goroutine and must not block.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns its disposer.
func (b *Bus) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit delivers the event to every subscriber.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
