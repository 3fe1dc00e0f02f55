package world

import (
	"sync"

	"agentworld.ai/internal/protocol"
)

// Listener receives forwarded world events for one category.
type Listener func(ev protocol.WorldEvent)

// Token identifies one attached listener. Dispose detaches it; calling
// Dispose more than once is a no-op.
type Token struct {
	e        *Emitter
	category string
	id       uint64
	once     sync.Once
}

func (t *Token) Dispose() {
	if t == nil || t.e == nil {
		return
	}
	t.once.Do(func() {
		t.e.mu.Lock()
		defer t.e.mu.Unlock()
		if m := t.e.listeners[t.category]; m != nil {
			delete(m, t.id)
		}
	})
}

// Emitter is the per-world publish/subscribe channel. Each attached listener
// gets its own token so one client's detach never touches another client's
// listeners on the same bus.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]Listener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: map[string]map[uint64]Listener{}}
}

// On attaches a listener for one event category and returns its token.
func (e *Emitter) On(category string, fn Listener) *Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	m := e.listeners[category]
	if m == nil {
		m = map[uint64]Listener{}
		e.listeners[category] = m
	}
	m[e.nextID] = fn
	return &Token{e: e, category: category, id: e.nextID}
}

// Emit delivers the event synchronously to every listener of its category.
// Liveness is re-checked per listener right before the call, so a listener
// disposed mid-emit is skipped: once Dispose returns, that listener fires no
// more.
func (e *Emitter) Emit(ev protocol.WorldEvent) {
	e.mu.Lock()
	m := e.listeners[ev.EventType]
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.mu.Lock()
		fn := e.listeners[ev.EventType][id]
		e.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}
}

// ListenerCount reports attached listeners for a category (tests, metrics).
func (e *Emitter) ListenerCount(category string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[category])
}
