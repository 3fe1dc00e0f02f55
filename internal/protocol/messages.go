package protocol

import (
	"encoding/json"
	"time"
)

// SUBSCRIBE (client -> server): bind this connection to one world's event
// stream. ClientID is the sender identity whose own events are not echoed
// back (defaults to "HUMAN" server-side when empty).
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	ClientID        string `json:"client_id,omitempty"`
}

// SUBSCRIBED (server -> client)
type SubscribedMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	WorldID         string    `json:"world_id"`
	WorldName       string    `json:"world_name,omitempty"`
	AgentCount      int       `json:"agent_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// UNSUBSCRIBE (client -> server)
type UnsubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// REFRESH (client -> server): reload the subscribed world and rebind
// listeners. The server answers with a fresh SUBSCRIBED.
type RefreshMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// COMMAND (client -> server). A single flat shape covers every command
// variant; unused fields stay empty. Text is the chat-style form
// ("/clear a1") and takes precedence over Name/Args when set.
type CommandMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	RequestID       string    `json:"request_id"`
	Timestamp       time.Time `json:"timestamp,omitempty"`

	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Args    []string        `json:"args,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RESPONSE (server -> client). Canonical flat envelope: success implies no
// error, failure implies no data. RefreshWorld hints that a mutation landed
// and the caller should reload world state.
type ResponseMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	RequestID       string    `json:"request_id"`
	Command         string    `json:"command"`
	Success         bool      `json:"success"`
	Data            any       `json:"data,omitempty"`
	Error           string    `json:"error,omitempty"`
	Code            string    `json:"code,omitempty"`
	RefreshWorld    bool      `json:"refresh_world,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// ERROR (server -> client): failures with no request to answer
// (subscription load errors, malformed frames).
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message"`
}
