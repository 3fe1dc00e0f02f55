// Package stream reconstructs fragmented agent responses from sse-tagged
// world events into whole messages.
//
// Protocol assumption: chunks for one (agent, message id) arrive in emission
// order. The only reordering the assembler recovers from is a dropped start
// event; chunks themselves are concatenated strictly in arrival order.
package stream

import (
	"log"
	"time"

	"agentworld.ai/internal/protocol"
)

// Message is one in-progress or finalized streamed agent reply.
type Message struct {
	AgentName string
	MessageID string
	Text      string
	Streaming bool
	Error     bool
	ErrorText string
	UpdatedAt time.Time
}

type key struct {
	agent string
	msgID string
}

// Assembler consumes sse events and maintains one Message per
// (agent, message id) pair. Not safe for concurrent use; drive it from one
// goroutine, the same way events arrive off a connection.
type Assembler struct {
	open  map[key]*Message
	all   []*Message
	log   *log.Logger
	clock func() time.Time
}

func NewAssembler(logger *log.Logger) *Assembler {
	return &Assembler{
		open:  map[key]*Message{},
		log:   logger,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Messages returns every message seen, in creation order.
func (a *Assembler) Messages() []*Message {
	out := make([]*Message, len(a.all))
	copy(out, a.all)
	return out
}

// Apply feeds one event through the state machine and returns the affected
// message, or nil when the event was ignored (wrong category, unknown
// sub-type, end/error with no matching open message).
func (a *Assembler) Apply(ev protocol.WorldEvent) *Message {
	if ev.EventType != protocol.EventSSE {
		return nil
	}
	switch ev.StreamType {
	case protocol.SSEStart:
		return a.start(ev)
	case protocol.SSEChunk:
		return a.chunk(ev)
	case protocol.SSEEnd:
		return a.finish(ev, "", false)
	case protocol.SSEError:
		return a.finish(ev, ev.Error, true)
	default:
		if a.log != nil {
			a.log.Printf("ignoring unknown sse sub-type %q from %s", ev.StreamType, ev.AgentName)
		}
		return nil
	}
}

func (a *Assembler) start(ev protocol.WorldEvent) *Message {
	m := &Message{
		AgentName: ev.AgentName,
		MessageID: ev.MessageID,
		Streaming: true,
		UpdatedAt: a.clock(),
	}
	a.open[key{ev.AgentName, ev.MessageID}] = m
	a.all = append(a.all, m)
	return m
}

func (a *Assembler) chunk(ev protocol.WorldEvent) *Message {
	m := a.lookup(ev.AgentName, ev.MessageID)
	if m == nil {
		// Start was dropped; recover rather than lose the chunk.
		m = a.start(ev)
	}
	m.Text += ev.Content
	m.UpdatedAt = a.clock()
	return m
}

func (a *Assembler) finish(ev protocol.WorldEvent, errText string, isErr bool) *Message {
	m := a.lookup(ev.AgentName, ev.MessageID)
	if m == nil {
		if a.log != nil {
			a.log.Printf("sse %s for unknown message agent=%s id=%s", ev.StreamType, ev.AgentName, ev.MessageID)
		}
		return nil
	}
	m.Streaming = false
	if isErr {
		m.Error = true
		m.ErrorText = errText
	}
	m.UpdatedAt = a.clock()
	delete(a.open, key{m.AgentName, m.MessageID})
	return m
}

// lookup finds the open message for the exact key, falling back to the most
// recent open message from the same agent when either side is missing a
// message id (degraded producers omit it).
func (a *Assembler) lookup(agent, msgID string) *Message {
	if m := a.open[key{agent, msgID}]; m != nil {
		return m
	}
	if msgID != "" {
		if m := a.open[key{agent, ""}]; m != nil {
			// The open message was created without an id; adopt this one.
			delete(a.open, key{agent, ""})
			m.MessageID = msgID
			a.open[key{agent, msgID}] = m
			return m
		}
		return nil
	}
	// No id on the incoming event: take the newest open message from this
	// agent.
	var newest *Message
	for k, m := range a.open {
		if k.agent != agent {
			continue
		}
		if newest == nil || m.UpdatedAt.After(newest.UpdatedAt) {
			newest = m
		}
	}
	return newest
}
