package protocol

const (
	// Input shape.
	ErrEmptyInput = "E_EMPTY_INPUT"
	ErrBadRequest = "E_BAD_REQUEST"

	// Command resolution.
	ErrUnknownCommand = "E_UNKNOWN_COMMAND"
	ErrArgCount       = "E_ARG_COUNT"

	// Preconditions.
	ErrContextRequired = "E_CONTEXT_REQUIRED"
	ErrNoEmitter       = "E_NO_EMITTER"

	// Lookup.
	ErrWorldNotFound = "E_WORLD_NOT_FOUND"
	ErrAgentNotFound = "E_AGENT_NOT_FOUND"
	ErrConflict      = "E_CONFLICT"

	// Collaborator / catch-all.
	ErrDomain   = "E_DOMAIN"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrEmptyInput:      {},
	ErrBadRequest:      {},
	ErrUnknownCommand:  {},
	ErrArgCount:        {},
	ErrContextRequired: {},
	ErrNoEmitter:       {},
	ErrWorldNotFound:   {},
	ErrAgentNotFound:   {},
	ErrConflict:        {},
	ErrDomain:          {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
