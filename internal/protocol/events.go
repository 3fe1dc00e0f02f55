package protocol

import (
	"encoding/json"
	"time"
)

// Event categories forwarded to subscribed clients.
const (
	EventSystem  = "system"
	EventWorld   = "world"
	EventMessage = "message"
	EventSSE     = "sse"
)

// SSE sub-types.
const (
	SSEStart = "start"
	SSEChunk = "chunk"
	SSEEnd   = "end"
	SSEError = "error"
)

// WorldEvent is the canonical forwarded event shape. Category selects which
// fields are meaningful: sse events carry StreamType/AgentName/MessageID/
// Content, everything else carries Sender/Message.
type WorldEvent struct {
	Type            string    `json:"type,omitempty"` // TypeEvent on the wire
	ProtocolVersion string    `json:"protocol_version,omitempty"`
	EventType       string    `json:"event_type"`
	Sender          string    `json:"sender,omitempty"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitempty"`

	// sse only
	StreamType string `json:"stream_type,omitempty"`
	AgentName  string `json:"agent_name,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
}

// rawStreamEvent carries every historical field spelling seen from older
// producers. Normalization happens here, once, so nothing past the boundary
// deals with the aliases.
type rawStreamEvent struct {
	EventType  string `json:"event_type"`
	StreamType string `json:"stream_type"`
	SubType    string `json:"type"`
	Sender     string `json:"sender"`
	AgentName  string `json:"agentName"`
	AgentSnake string `json:"agent_name"`
	MessageID  string `json:"message_id"`
	MessageIDC string `json:"messageId"`
	ID         string `json:"id"`
	Content    string `json:"content"`
	Chunk      string `json:"chunk"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// NormalizeStreamEvent decodes an sse-tagged event from any known producer
// version into the canonical WorldEvent shape. Precedence for each canonical
// field follows current-producer spelling first, then the legacy aliases.
func NormalizeStreamEvent(b []byte) (WorldEvent, error) {
	var raw rawStreamEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		return WorldEvent{}, err
	}
	ev := WorldEvent{EventType: EventSSE}

	ev.StreamType = firstNonEmpty(raw.StreamType, raw.SubType)
	ev.AgentName = firstNonEmpty(raw.AgentSnake, raw.AgentName, raw.Sender)
	ev.MessageID = firstNonEmpty(raw.MessageID, raw.MessageIDC, raw.ID)
	ev.Content = firstNonEmpty(raw.Content, raw.Chunk, raw.Message)
	ev.Error = raw.Error
	return ev, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
