// Package approval routes sensitive operations through an explicit user
// decision. A caller opens a prompt and blocks until the UI resumes or
// dismisses it. Only connection prompts coalesce: a transaction or signature
// prompt always gets its own pending entry, so one approval never settles
// more than one payload.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

// ErrDismissed is returned to every waiter when the user closes a prompt
// without approving it.
var ErrDismissed = errors.New("approval dismissed")

// Request describes one pending prompt.
type Request struct {
	ID      uuid.UUID       `json:"id"`
	Route   string          `json:"route"`
	Origin  string          `json:"origin"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Created time.Time       `json:"created"`
}

// Surface is the prompt channel the RPC layer talks to. Open blocks until the
// user decides or the context is cancelled.
type Surface interface {
	Open(ctx context.Context, req *Request) (json.RawMessage, error)
}

type pending struct {
	req     *Request
	key     string
	waiters int
	done    chan struct{}
	payload json.RawMessage
	err     error
}

// Broker is the in-process Surface implementation. The UI lists pending
// requests and settles them by id.
type Broker struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*pending
	// byKey coalesces concurrent connection prompts for the same origin.
	byKey map[string]*pending
}

func NewBroker() *Broker {
	return &Broker{
		byID:  make(map[uuid.UUID]*pending),
		byKey: make(map[string]*pending),
	}
}

// coalesceKey is non-empty only for connection prompts. Payload-carrying
// prompts never share an entry: two transactions must mean two decisions.
func coalesceKey(req *Request) string {
	if req.Route != types.RouteRequestAccounts {
		return ""
	}
	return req.Origin + "\x00" + req.Method
}

// Open registers the request and blocks until Resume, Dismiss, or context
// cancellation. A second connection request from the same origin joins the
// existing prompt instead of surfacing a duplicate.
func (b *Broker) Open(ctx context.Context, req *Request) (json.RawMessage, error) {
	key := coalesceKey(req)

	b.mu.Lock()
	var entry *pending
	if key != "" {
		entry = b.byKey[key]
	}
	if entry == nil {
		if req.ID == uuid.Nil {
			req.ID = uuid.New()
		}
		if req.Created.IsZero() {
			req.Created = time.Now()
		}
		entry = &pending{req: req, key: key, done: make(chan struct{})}
		b.byID[req.ID] = entry
		if key != "" {
			b.byKey[key] = entry
		}
	}
	entry.waiters++
	b.mu.Unlock()

	select {
	case <-entry.done:
		return entry.payload, entry.err
	case <-ctx.Done():
		b.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			b.remove(entry)
		}
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Resume settles a prompt with the UI's response payload and wakes every
// waiter.
func (b *Broker) Resume(id uuid.UUID, payload json.RawMessage) error {
	return b.settle(id, payload, nil)
}

// Dismiss settles a prompt with ErrDismissed.
func (b *Broker) Dismiss(id uuid.UUID) error {
	return b.settle(id, nil, ErrDismissed)
}

func (b *Broker) settle(id uuid.UUID, payload json.RawMessage, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.byID[id]
	if !ok {
		return errors.New("no pending approval with that id")
	}
	entry.payload = payload
	entry.err = err
	b.remove(entry)
	close(entry.done)
	return nil
}

// remove expects b.mu held.
func (b *Broker) remove(entry *pending) {
	delete(b.byID, entry.req.ID)
	if entry.key != "" {
		delete(b.byKey, entry.key)
	}
}

// Pending lists open prompts, oldest first.
func (b *Broker) Pending() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Request, 0, len(b.byID))
	for _, entry := range b.byID {
		out = append(out, entry.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

var _ Surface = (*Broker)(nil)
