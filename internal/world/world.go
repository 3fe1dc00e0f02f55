package world

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"agentworld.ai/internal/protocol"
)

// Sentinel errors callers branch on with errors.Is.
var (
	ErrExists          = errors.New("already exists")
	ErrUnknownProvider = errors.New("unknown provider")
)

// World is the top-level aggregate: a named set of conversational agents
// plus the event bus their activity is published on. Persistence is owned by
// the storage layer, wired in through the saver hook.
type World struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TurnLimit   int    `json:"turn_limit,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	Agents map[string]*Agent `json:"-"`

	emitter *Emitter
	saver   func(*World) error
}

// Config is the creation request for a world.
type Config struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TurnLimit   int    `json:"turn_limit,omitempty"`
}

// Updates carries partial world updates; nil fields are left untouched.
type Updates struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	TurnLimit   *int    `json:"turn_limit,omitempty"`
}

func New(cfg Config) (*World, error) {
	id := ToKebabCase(cfg.Name)
	if id == "" {
		return nil, fmt.Errorf("world name %q yields an empty id", cfg.Name)
	}
	turnLimit := cfg.TurnLimit
	if turnLimit <= 0 {
		turnLimit = 5
	}
	now := time.Now().UTC()
	return &World{
		ID:          id,
		Name:        cfg.Name,
		Description: cfg.Description,
		TurnLimit:   turnLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
		Agents:      map[string]*Agent{},
		emitter:     NewEmitter(),
	}, nil
}

// Emitter returns the world's event bus, or nil when the world was decoded
// without one (a broken collaborator state the router reports explicitly).
func (w *World) Emitter() *Emitter {
	if w == nil {
		return nil
	}
	return w.emitter
}

// SetEmitter is used by the storage layer when rehydrating a world.
func (w *World) SetEmitter(e *Emitter) { w.emitter = e }

// SetSaver wires the persistence hook; Save is a no-op error when unset.
func (w *World) SetSaver(fn func(*World) error) { w.saver = fn }

func (w *World) Save() error {
	if w.saver == nil {
		return fmt.Errorf("world %s has no persistence attached", w.ID)
	}
	w.UpdatedAt = time.Now().UTC()
	return w.saver(w)
}

// Emit publishes an event on the world's bus. Worlds decoded without an
// emitter drop the event.
func (w *World) Emit(ev protocol.WorldEvent) {
	if w == nil || w.emitter == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	w.emitter.Emit(ev)
}

// GetAgent resolves an agent by id or by name (the chat surface lets people
// type either).
func (w *World) GetAgent(idOrName string) *Agent {
	if a := w.Agents[idOrName]; a != nil {
		return a
	}
	return w.Agents[ToKebabCase(idOrName)]
}

// AgentIDs returns the agent ids in stable order.
func (w *World) AgentIDs() []string {
	ids := make([]string, 0, len(w.Agents))
	for id := range w.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CreateAgent adds an agent and persists the world. The derived id must not
// already be taken. "all" is reserved: the clear-memory surface uses it to
// address every agent at once.
func (w *World) CreateAgent(spec AgentSpec) (*Agent, error) {
	id := ToKebabCase(spec.Name)
	if id == "" {
		return nil, fmt.Errorf("agent name %q yields an empty id", spec.Name)
	}
	if id == "all" {
		return nil, fmt.Errorf("agent name %q is reserved", spec.Name)
	}
	if _, exists := w.Agents[id]; exists {
		return nil, fmt.Errorf("agent id %q: %w", id, ErrExists)
	}
	if !IsKnownProvider(spec.Provider) {
		return nil, fmt.Errorf("provider %q: %w", spec.Provider, ErrUnknownProvider)
	}
	if spec.Model == "" {
		return nil, fmt.Errorf("agent %q needs a model", spec.Name)
	}
	now := time.Now().UTC()
	a := &Agent{
		ID:           id,
		Name:         spec.Name,
		Provider:     spec.Provider,
		Model:        spec.Model,
		SystemPrompt: spec.SystemPrompt,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	w.Agents[id] = a
	if err := w.Save(); err != nil {
		delete(w.Agents, id)
		return nil, err
	}
	return a, nil
}

// UpdateAgent applies partial updates and persists. Returns nil when the
// agent does not exist.
func (w *World) UpdateAgent(idOrName string, up AgentUpdates) (*Agent, error) {
	a := w.GetAgent(idOrName)
	if a == nil {
		return nil, nil
	}
	if up.Provider != nil {
		if !IsKnownProvider(*up.Provider) {
			return nil, fmt.Errorf("provider %q: %w", *up.Provider, ErrUnknownProvider)
		}
		a.Provider = *up.Provider
	}
	if up.Model != nil {
		a.Model = *up.Model
	}
	if up.SystemPrompt != nil {
		a.SystemPrompt = *up.SystemPrompt
	}
	if up.Status != nil {
		a.Status = *up.Status
	}
	a.UpdatedAt = time.Now().UTC()
	if err := w.Save(); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateAgentMemory replaces the agent's memory in one atomic swap: the new
// slice is installed only after it is fully built, so a concurrent reader
// sees either the old history or the new one, never a partial write.
func (w *World) UpdateAgentMemory(idOrName string, memory []MemoryMessage) (*Agent, error) {
	a := w.GetAgent(idOrName)
	if a == nil {
		return nil, nil
	}
	prev := a.Memory
	a.Memory = memory
	a.UpdatedAt = time.Now().UTC()
	if err := w.Save(); err != nil {
		a.Memory = prev
		return nil, err
	}
	return a, nil
}

// AppendAgentMemory appends one entry preserving existing order.
func (w *World) AppendAgentMemory(idOrName string, msg MemoryMessage) (*Agent, error) {
	a := w.GetAgent(idOrName)
	if a == nil {
		return nil, nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	next := make([]MemoryMessage, 0, len(a.Memory)+1)
	next = append(next, a.Memory...)
	next = append(next, msg)
	return w.UpdateAgentMemory(a.ID, next)
}

// ClearAgentMemory empties the agent's history. Returns nil when the agent
// does not exist.
func (w *World) ClearAgentMemory(idOrName string) (*Agent, error) {
	a := w.GetAgent(idOrName)
	if a == nil {
		return nil, nil
	}
	return w.UpdateAgentMemory(a.ID, nil)
}
