package command

import (
	"encoding/json"
	"sort"
	"strings"

	"agentworld.ai/internal/world"
)

// Context is what a handler gets to work with: the storage root for global
// commands, the loaded world for context-bound commands, and the optional
// structured payload of the invocation.
type Context struct {
	Root    string
	World   *world.World
	Payload json.RawMessage
}

// Error is a handler failure with a stable protocol code. Refresh marks
// failures that still mutated persisted state (partial clears), so the
// caller knows a reload is warranted despite the error.
type Error struct {
	Code    string
	Message string
	Refresh bool
}

func (e *Error) Error() string { return e.Message }

// Handler executes one validated command. refresh reports whether persisted
// world state changed (the caller should reload).
type Handler func(ctx *Context, args []string) (data any, refresh bool, err *Error)

// Descriptor binds a command name to its handler and preconditions. MinArgs
// counts caller-supplied arguments; the storage root injected for NeedsRoot
// commands is not part of that count.
type Descriptor struct {
	Name          string
	MinArgs       int
	RequiresWorld bool
	NeedsRoot     bool
	Usage         string
	Handler       Handler
}

// Registry is the fixed command table. Lookup is case-insensitive: chat
// users type /clear, /Clear, /CLEAR interchangeably.
type Registry struct {
	byName map[string]Descriptor
	names  []string
}

func NewRegistry() *Registry {
	r := &Registry{byName: map[string]Descriptor{}}
	for _, d := range []Descriptor{
		{Name: "getWorlds", NeedsRoot: true, MinArgs: 0, Usage: "getWorlds", Handler: handleGetWorlds},
		{Name: "getWorld", NeedsRoot: true, MinArgs: 1, Usage: "getWorld <world>", Handler: handleGetWorld},
		{Name: "createWorld", NeedsRoot: true, MinArgs: 1, Usage: "createWorld <name> [description...]", Handler: handleCreateWorld},
		{Name: "updateWorld", NeedsRoot: true, MinArgs: 3, Usage: "updateWorld <world> <name|description|turn-limit> <value...>", Handler: handleUpdateWorld},
		{Name: "createAgent", RequiresWorld: true, MinArgs: 3, Usage: "createAgent <name> <provider> <model> [prompt...]", Handler: handleCreateAgent},
		{Name: "updateAgentConfig", RequiresWorld: true, MinArgs: 3, Usage: "updateAgentConfig <agent> <provider|model|status> <value>", Handler: handleUpdateAgentConfig},
		{Name: "updateAgentPrompt", RequiresWorld: true, MinArgs: 2, Usage: "updateAgentPrompt <agent> <prompt...>", Handler: handleUpdateAgentPrompt},
		{Name: "updateAgentMemory", RequiresWorld: true, MinArgs: 3, Usage: "updateAgentMemory <agent> <role> <content...>", Handler: handleUpdateAgentMemory},
		{Name: "clearAgentMemory", RequiresWorld: true, MinArgs: 1, Usage: "clearAgentMemory <agent|all>", Handler: handleClearAgentMemory},
	} {
		r.register(d)
	}
	// Chat-surface shorthand.
	r.alias("clear", "clearAgentMemory")
	return r
}

func (r *Registry) register(d Descriptor) {
	r.byName[strings.ToLower(d.Name)] = d
	r.names = append(r.names, d.Name)
}

func (r *Registry) alias(name, target string) {
	d, ok := r.byName[strings.ToLower(target)]
	if !ok {
		return
	}
	r.byName[strings.ToLower(name)] = d
	r.names = append(r.names, name)
}

// Lookup resolves a command name case-insensitively.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Names returns every registered name (aliases included), sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	sort.Strings(out)
	return out
}
