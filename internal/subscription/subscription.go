// Package subscription binds one client connection to one live world and
// keeps the listener bookkeeping honest: attach on subscribe, detach exactly
// once on unsubscribe, swap atomically on refresh.
package subscription

import (
	"fmt"
	"log"
	"sync"

	"agentworld.ai/internal/protocol"
	"agentworld.ai/internal/storage"
	"agentworld.ai/internal/world"
)

// Forwarded event categories, one listener each.
var categories = []string{
	protocol.EventSystem,
	protocol.EventWorld,
	protocol.EventMessage,
	protocol.EventSSE,
}

// Client is the transport-agnostic receiving end of a subscription. Send is
// best-effort: a closed transport drops the event.
type Client interface {
	ID() string
	Send(ev protocol.WorldEvent)
}

// Loader resolves a world id against a storage root. (nil, nil) means not
// found.
type Loader func(root, id string) (*world.World, error)

// Manager creates subscriptions and keeps one live instance per world id, so
// every client subscribed to the same world shares that instance's bus. The
// zero loader is the file-backed store.
type Manager struct {
	loader Loader
	log    *log.Logger

	mu   sync.Mutex
	live map[string]*world.World
}

func NewManager(loader Loader, logger *log.Logger) *Manager {
	if loader == nil {
		loader = storage.GetWorld
	}
	return &Manager{loader: loader, log: logger, live: map[string]*world.World{}}
}

func liveKey(worldID string) string {
	if k := world.ToKebabCase(worldID); k != "" {
		return k
	}
	return worldID
}

// acquire returns the live instance for a world id, loading it on first use.
// With reload set the loader always runs and its result replaces the cached
// entry; a failed reload leaves the previous instance live.
func (m *Manager) acquire(root, worldID string, reload bool) (*world.World, error) {
	key := liveKey(worldID)
	m.mu.Lock()
	if !reload {
		if w := m.live[key]; w != nil {
			m.mu.Unlock()
			return w, nil
		}
	}
	m.mu.Unlock()

	w, err := m.loader(root, worldID)
	if err != nil {
		return nil, fmt.Errorf("load world %s: %w", worldID, err)
	}
	if w == nil {
		return nil, fmt.Errorf("world %q not found", worldID)
	}
	if w.Emitter() == nil {
		return nil, fmt.Errorf("world %s has no event emitter", w.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !reload {
		// Lost a load race; the instance already live wins so both
		// subscribers end up on the same bus.
		if cur := m.live[key]; cur != nil {
			return cur, nil
		}
	}
	m.live[key] = w
	return w, nil
}

// Subscription is the live binding. All methods are safe for concurrent use.
type Subscription struct {
	mgr     *Manager
	client  Client
	worldID string

	mu     sync.Mutex
	world  *world.World
	tokens []*world.Token
	closed bool
}

// Subscribe resolves the live world and attaches one forwarding listener per
// event category. Concurrent subscribers to the same id share one world
// instance and therefore one bus. A failed load attaches nothing.
func (m *Manager) Subscribe(root, worldID string, client Client) (*Subscription, error) {
	w, err := m.acquire(root, worldID, false)
	if err != nil {
		return nil, err
	}
	s := &Subscription{mgr: m, client: client, worldID: w.ID, world: w}
	s.tokens = s.attach(w)
	if m.log != nil {
		m.log.Printf("subscribed client=%s world=%s agents=%d", client.ID(), w.ID, len(w.Agents))
	}
	return s, nil
}

// attach binds the forwarding listeners to one specific world object. The
// echo filter lives here, once, for every category: events sent by the
// subscribing client's own identity are not bounced back to it.
func (s *Subscription) attach(w *world.World) []*world.Token {
	forward := func(ev protocol.WorldEvent) {
		if ev.Sender != "" && ev.Sender == s.client.ID() {
			return
		}
		s.client.Send(ev)
	}
	tokens := make([]*world.Token, 0, len(categories))
	for _, cat := range categories {
		tokens = append(tokens, w.Emitter().On(cat, forward))
	}
	return tokens
}

// World returns the currently bound world.
func (s *Subscription) World() *world.World {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world
}

// WorldID returns the identifier the subscription was opened with.
func (s *Subscription) WorldID() string { return s.worldID }

// Unsubscribe detaches every listener. Safe to call more than once; the
// second call is a no-op. After it returns, no further events are forwarded
// even though the world object (and its bus) may live on.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tokens := s.tokens
	s.tokens = nil
	s.mu.Unlock()
	for _, t := range tokens {
		t.Dispose()
	}
}

// Refresh reloads the world by its id, replaces the manager's live instance,
// and rebinds the listeners to the new world object. The new world is loaded
// first; only on success are the old listeners detached and the new set
// attached, so there is never a window with both sets active, and a failed
// reload leaves the old binding (and the old live instance) intact. The
// caller must switch to the returned world reference.
func (s *Subscription) Refresh(root string) (*world.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("subscription to %s is closed", s.worldID)
	}
	w, err := s.mgr.acquire(root, s.worldID, true)
	if err != nil {
		return nil, err
	}
	for _, t := range s.tokens {
		t.Dispose()
	}
	s.world = w
	s.tokens = s.attach(w)
	return w, nil
}
