package command

import (
	"fmt"
	"log"
	"strings"
	"time"

	"agentworld.ai/internal/protocol"
	"agentworld.ai/internal/world"
)

// Prefix starts a text-form command line.
const Prefix = "/"

// Router turns one invocation into exactly one response envelope. Nothing
// escapes it: validation failures, handler failures, and panics all come
// back as {success:false, error, code}.
type Router struct {
	registry *Registry
	root     string
	log      *log.Logger
}

func NewRouter(registry *Registry, root string, logger *log.Logger) *Router {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Router{registry: registry, root: root, log: logger}
}

func (r *Router) Registry() *Registry { return r.registry }

// ExecuteLine handles the text command surface ("/clear a1").
func (r *Router) ExecuteLine(line string, w *world.World) protocol.ResponseMsg {
	return r.Execute(protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		Text:            line,
	}, w)
}

// Execute validates and dispatches one command against an optionally loaded
// world. Validation order: empty input, invocation shape, name resolution,
// argument count, context requirement. Only then does the handler run.
func (r *Router) Execute(cmd protocol.CommandMsg, w *world.World) (resp protocol.ResponseMsg) {
	name := strings.TrimSpace(cmd.Name)
	args := cmd.Args

	resp = protocol.ResponseMsg{
		Type:            protocol.TypeResponse,
		ProtocolVersion: protocol.Version,
		RequestID:       cmd.RequestID,
	}
	fail := func(code, msg string) protocol.ResponseMsg {
		resp.Success = false
		resp.Error = msg
		resp.Code = code
		resp.Timestamp = time.Now().UTC()
		return resp
	}

	// Handler panics must not escape the router boundary.
	defer func() {
		if rec := recover(); rec != nil {
			if r.log != nil {
				r.log.Printf("command %s panic: %v", name, rec)
			}
			resp = fail(protocol.ErrInternal, fmt.Sprintf("internal error running %s", name))
		}
	}()

	if text := strings.TrimSpace(cmd.Text); text != "" {
		if !strings.HasPrefix(text, Prefix) {
			return fail(protocol.ErrBadRequest, fmt.Sprintf("commands start with %q", Prefix))
		}
		fields := strings.Fields(strings.TrimPrefix(text, Prefix))
		if len(fields) == 0 {
			return fail(protocol.ErrEmptyInput, "empty command")
		}
		name = fields[0]
		args = fields[1:]
	}
	if name == "" {
		return fail(protocol.ErrEmptyInput, "empty command")
	}
	resp.Command = name

	desc, ok := r.registry.Lookup(name)
	if !ok {
		return fail(protocol.ErrUnknownCommand, fmt.Sprintf(
			"unknown command %q (known: %s)", name, strings.Join(r.registry.Names(), ", ")))
	}
	if len(args) < desc.MinArgs {
		return fail(protocol.ErrArgCount, fmt.Sprintf(
			"%s: expected %d argument(s), got %d (usage: %s)", desc.Name, desc.MinArgs, len(args), desc.Usage))
	}
	if desc.RequiresWorld {
		if w == nil {
			return fail(protocol.ErrContextRequired, fmt.Sprintf("%s requires a subscribed world", desc.Name))
		}
		if w.Emitter() == nil {
			return fail(protocol.ErrNoEmitter, fmt.Sprintf("world %s has no event emitter", w.ID))
		}
	}
	if desc.NeedsRoot {
		// The storage root rides in as a plain first argument; handlers see
		// nothing special about it.
		args = append([]string{r.root}, args...)
	}

	data, refresh, herr := desc.Handler(&Context{Root: r.root, World: w, Payload: cmd.Payload}, args)
	if herr != nil {
		code := herr.Code
		if code == "" {
			code = protocol.ErrDomain
		}
		resp.RefreshWorld = herr.Refresh
		return fail(code, herr.Message)
	}
	resp.Success = true
	resp.Data = data
	resp.RefreshWorld = refresh
	resp.Timestamp = time.Now().UTC()
	return resp
}
