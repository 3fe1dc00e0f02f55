package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agentworld.ai/internal/protocol"
	"agentworld.ai/internal/storage"
	"agentworld.ai/internal/world"
)

// AgentSummary is the wire view of an agent inside command responses.
type AgentSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Status     string `json:"status,omitempty"`
	MemorySize int    `json:"memory_size"`
}

// WorldDetail is the wire view of a loaded world.
type WorldDetail struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	TurnLimit   int            `json:"turn_limit"`
	Agents      []AgentSummary `json:"agents"`
}

func summarize(a *world.Agent) AgentSummary {
	return AgentSummary{
		ID:         a.ID,
		Name:       a.Name,
		Provider:   a.Provider,
		Model:      a.Model,
		Status:     a.Status,
		MemorySize: len(a.Memory),
	}
}

func detail(w *world.World) WorldDetail {
	d := WorldDetail{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		TurnLimit:   w.TurnLimit,
		Agents:      []AgentSummary{},
	}
	for _, id := range w.AgentIDs() {
		d.Agents = append(d.Agents, summarize(w.Agents[id]))
	}
	return d
}

func domainErr(err error) *Error {
	switch {
	case errors.Is(err, world.ErrExists):
		return &Error{Code: protocol.ErrConflict, Message: err.Error()}
	case errors.Is(err, world.ErrUnknownProvider):
		return &Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	default:
		return &Error{Code: protocol.ErrDomain, Message: err.Error()}
	}
}

func handleGetWorlds(_ *Context, args []string) (any, bool, *Error) {
	infos, err := storage.ListWorlds(args[0])
	if err != nil {
		return nil, false, domainErr(err)
	}
	if infos == nil {
		infos = []storage.WorldInfo{}
	}
	return infos, false, nil
}

func handleGetWorld(_ *Context, args []string) (any, bool, *Error) {
	w, err := storage.GetWorld(args[0], args[1])
	if err != nil {
		return nil, false, domainErr(err)
	}
	if w == nil {
		return nil, false, &Error{Code: protocol.ErrWorldNotFound, Message: fmt.Sprintf("world %q not found", args[1])}
	}
	return detail(w), false, nil
}

func handleCreateWorld(ctx *Context, args []string) (any, bool, *Error) {
	cfg := world.Config{Name: args[1]}
	if len(args) > 2 {
		cfg.Description = strings.Join(args[2:], " ")
	}
	if len(ctx.Payload) > 0 {
		if err := json.Unmarshal(ctx.Payload, &cfg); err != nil {
			return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("bad payload: %v", err)}
		}
	}
	w, err := storage.CreateWorld(args[0], cfg)
	if err != nil {
		return nil, false, domainErr(err)
	}
	return detail(w), true, nil
}

func handleUpdateWorld(ctx *Context, args []string) (any, bool, *Error) {
	var up world.Updates
	if len(ctx.Payload) > 0 {
		if err := json.Unmarshal(ctx.Payload, &up); err != nil {
			return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("bad payload: %v", err)}
		}
	} else {
		value := strings.Join(args[3:], " ")
		switch args[2] {
		case "name":
			up.Name = &value
		case "description":
			up.Description = &value
		case "turn-limit":
			var n int
			if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n <= 0 {
				return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("turn-limit wants a positive integer, got %q", value)}
			}
			up.TurnLimit = &n
		default:
			return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("unknown field %q (name, description, turn-limit)", args[2])}
		}
	}
	w, err := storage.UpdateWorld(args[0], args[1], up)
	if err != nil {
		return nil, false, domainErr(err)
	}
	if w == nil {
		return nil, false, &Error{Code: protocol.ErrWorldNotFound, Message: fmt.Sprintf("world %q not found", args[1])}
	}
	return detail(w), true, nil
}

func handleCreateAgent(ctx *Context, args []string) (any, bool, *Error) {
	spec := world.AgentSpec{Name: args[0], Provider: args[1], Model: args[2]}
	if len(args) > 3 {
		spec.SystemPrompt = strings.Join(args[3:], " ")
	}
	if len(ctx.Payload) > 0 {
		if err := json.Unmarshal(ctx.Payload, &spec); err != nil {
			return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("bad payload: %v", err)}
		}
	}
	a, err := ctx.World.CreateAgent(spec)
	if err != nil {
		return nil, false, domainErr(err)
	}
	return summarize(a), true, nil
}

func handleUpdateAgentConfig(ctx *Context, args []string) (any, bool, *Error) {
	var up world.AgentUpdates
	if len(ctx.Payload) > 0 {
		if err := json.Unmarshal(ctx.Payload, &up); err != nil {
			return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("bad payload: %v", err)}
		}
	} else {
		value := args[2]
		switch args[1] {
		case "provider":
			up.Provider = &value
		case "model":
			up.Model = &value
		case "status":
			if value != world.StatusActive && value != world.StatusInactive && value != world.StatusError {
				return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("unknown status %q", value)}
			}
			up.Status = &value
		default:
			return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("unknown field %q (provider, model, status)", args[1])}
		}
	}
	a, err := ctx.World.UpdateAgent(args[0], up)
	if err != nil {
		return nil, false, domainErr(err)
	}
	if a == nil {
		return nil, false, agentNotFound(args[0])
	}
	return summarize(a), true, nil
}

func handleUpdateAgentPrompt(ctx *Context, args []string) (any, bool, *Error) {
	prompt := strings.Join(args[1:], " ")
	a, err := ctx.World.UpdateAgent(args[0], world.AgentUpdates{SystemPrompt: &prompt})
	if err != nil {
		return nil, false, domainErr(err)
	}
	if a == nil {
		return nil, false, agentNotFound(args[0])
	}
	return summarize(a), true, nil
}

func handleUpdateAgentMemory(ctx *Context, args []string) (any, bool, *Error) {
	msg := world.MemoryMessage{Role: args[1], Content: strings.Join(args[2:], " ")}
	if len(ctx.Payload) > 0 {
		if err := json.Unmarshal(ctx.Payload, &msg); err != nil {
			return nil, false, &Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("bad payload: %v", err)}
		}
	}
	if msg.Role == "" || msg.Content == "" {
		return nil, false, &Error{Code: protocol.ErrBadRequest, Message: "memory entry needs a role and content"}
	}
	a, err := ctx.World.AppendAgentMemory(args[0], msg)
	if err != nil {
		return nil, false, domainErr(err)
	}
	if a == nil {
		return nil, false, agentNotFound(args[0])
	}
	return summarize(a), true, nil
}

// handleClearAgentMemory clears one agent, or every agent when asked for
// "all". The all-agents form is best-effort: each agent is attempted and the
// failures are reported by name, so nothing is cleared silently or skipped
// silently.
func handleClearAgentMemory(ctx *Context, args []string) (any, bool, *Error) {
	target := args[0]
	if !strings.EqualFold(target, "all") {
		a, err := ctx.World.ClearAgentMemory(target)
		if err != nil {
			return nil, false, domainErr(err)
		}
		if a == nil {
			return nil, false, agentNotFound(target)
		}
		return summarize(a), true, nil
	}

	var cleared []string
	var failed []string
	for _, id := range ctx.World.AgentIDs() {
		if _, err := ctx.World.ClearAgentMemory(id); err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", id, err))
			continue
		}
		cleared = append(cleared, id)
	}
	if len(failed) > 0 {
		return nil, false, &Error{
			Code:    protocol.ErrDomain,
			Message: fmt.Sprintf("cleared %d/%d agents; failed: %s", len(cleared), len(cleared)+len(failed), strings.Join(failed, ", ")),
			Refresh: len(cleared) > 0,
		}
	}
	return map[string]any{"cleared": append([]string{}, cleared...)}, true, nil
}

func agentNotFound(name string) *Error {
	return &Error{Code: protocol.ErrAgentNotFound, Message: fmt.Sprintf("agent %q not found", name)}
}
