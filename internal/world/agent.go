package world

import "time"

// Known LLM providers. The reasoning layer behind them is an external
// collaborator; the world only validates and stores the configuration.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderAzure      = "azure"
	ProviderXAI        = "xai"
	ProviderOllama     = "ollama"
	ProviderCompatible = "openai-compatible"
)

var knownProviders = map[string]struct{}{
	ProviderOpenAI:     {},
	ProviderAnthropic:  {},
	ProviderGoogle:     {},
	ProviderAzure:      {},
	ProviderXAI:        {},
	ProviderOllama:     {},
	ProviderCompatible: {},
}

func IsKnownProvider(p string) bool {
	_, ok := knownProviders[p]
	return ok
}

// Agent statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)

// MemoryMessage is one entry of an agent's ordered conversation history.
type MemoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Agent is a named conversational participant. The ID is derived from the
// name via ToKebabCase and never changes after creation.
type Agent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Status       string          `json:"status,omitempty"`
	Memory       []MemoryMessage `json:"memory,omitempty"`
	CreatedAt    time.Time       `json:"created_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
}

// AgentSpec is the creation request for an agent.
type AgentSpec struct {
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// AgentUpdates carries partial updates; nil fields are left untouched.
type AgentUpdates struct {
	Provider     *string `json:"provider,omitempty"`
	Model        *string `json:"model,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	Status       *string `json:"status,omitempty"`
}
