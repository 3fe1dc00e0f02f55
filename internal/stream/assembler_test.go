package stream

import (
	"testing"
	"time"

	"agentworld.ai/internal/protocol"
)

func newTestAssembler() *Assembler {
	a := NewAssembler(nil)
	// Deterministic, strictly increasing clock.
	tick := time.Unix(0, 0)
	a.clock = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return a
}

func sse(sub, agent, id, content string) protocol.WorldEvent {
	return protocol.WorldEvent{
		EventType:  protocol.EventSSE,
		StreamType: sub,
		AgentName:  agent,
		MessageID:  id,
		Content:    content,
	}
}

func TestApply_AssemblesOneMessage(t *testing.T) {
	a := newTestAssembler()

	m := a.Apply(sse(protocol.SSEStart, "bob", "m1", ""))
	if m == nil || !m.Streaming {
		t.Fatalf("start: %+v", m)
	}
	a.Apply(sse(protocol.SSEChunk, "bob", "m1", "Hello, "))
	a.Apply(sse(protocol.SSEChunk, "bob", "m1", "world."))
	m = a.Apply(sse(protocol.SSEEnd, "bob", "m1", ""))
	if m == nil {
		t.Fatalf("end returned nil")
	}
	if m.Text != "Hello, world." {
		t.Fatalf("text: %q", m.Text)
	}
	if m.Streaming || m.Error {
		t.Fatalf("final state: %+v", m)
	}
	if len(a.Messages()) != 1 {
		t.Fatalf("messages: %d", len(a.Messages()))
	}
}

func TestApply_InterleavedAgents(t *testing.T) {
	a := newTestAssembler()
	a.Apply(sse(protocol.SSEStart, "bob", "m1", ""))
	a.Apply(sse(protocol.SSEStart, "eve", "m2", ""))
	a.Apply(sse(protocol.SSEChunk, "bob", "m1", "one "))
	a.Apply(sse(protocol.SSEChunk, "eve", "m2", "uno "))
	a.Apply(sse(protocol.SSEChunk, "bob", "m1", "two"))
	a.Apply(sse(protocol.SSEChunk, "eve", "m2", "dos"))
	bob := a.Apply(sse(protocol.SSEEnd, "bob", "m1", ""))
	eve := a.Apply(sse(protocol.SSEEnd, "eve", "m2", ""))

	if bob.Text != "one two" {
		t.Fatalf("bob: %q", bob.Text)
	}
	if eve.Text != "uno dos" {
		t.Fatalf("eve: %q", eve.Text)
	}
}

func TestApply_MissingStartRecovery(t *testing.T) {
	a := newTestAssembler()
	m := a.Apply(sse(protocol.SSEChunk, "bob", "m1", "picked up "))
	if m == nil || !m.Streaming {
		t.Fatalf("chunk without start should open a message: %+v", m)
	}
	a.Apply(sse(protocol.SSEChunk, "bob", "m1", "midway"))
	m = a.Apply(sse(protocol.SSEEnd, "bob", "m1", ""))
	if m == nil || m.Text != "picked up midway" {
		t.Fatalf("recovered message: %+v", m)
	}
}

func TestApply_ErrorEvent(t *testing.T) {
	a := newTestAssembler()
	a.Apply(sse(protocol.SSEStart, "bob", "m1", ""))
	a.Apply(sse(protocol.SSEChunk, "bob", "m1", "partial"))
	ev := sse(protocol.SSEError, "bob", "m1", "")
	ev.Error = "rate limited"
	m := a.Apply(ev)
	if m == nil || !m.Error || m.Streaming {
		t.Fatalf("error state: %+v", m)
	}
	if m.ErrorText != "rate limited" || m.Text != "partial" {
		t.Fatalf("error message: %+v", m)
	}
}

func TestApply_IgnoresStrays(t *testing.T) {
	a := newTestAssembler()
	if m := a.Apply(protocol.WorldEvent{EventType: protocol.EventMessage, Message: "plain chat"}); m != nil {
		t.Fatalf("non-sse event applied: %+v", m)
	}
	if m := a.Apply(sse("pause", "bob", "m1", "")); m != nil {
		t.Fatalf("unknown sub-type applied: %+v", m)
	}
	if m := a.Apply(sse(protocol.SSEEnd, "bob", "m9", "")); m != nil {
		t.Fatalf("end without open message applied: %+v", m)
	}
	if len(a.Messages()) != 0 {
		t.Fatalf("stray events created messages")
	}
}

func TestApply_MessageIDAdoption(t *testing.T) {
	a := newTestAssembler()
	// Degraded producer: start carries no id, chunks do.
	a.Apply(sse(protocol.SSEStart, "bob", "", ""))
	m := a.Apply(sse(protocol.SSEChunk, "bob", "m1", "hi"))
	if m == nil || m.MessageID != "m1" {
		t.Fatalf("id not adopted: %+v", m)
	}
	if got := a.Apply(sse(protocol.SSEEnd, "bob", "m1", "")); got != m {
		t.Fatalf("end did not find the adopted message")
	}
	if len(a.Messages()) != 1 {
		t.Fatalf("adoption split the message")
	}
}

func TestApply_NoIDFallsBackToNewestOpen(t *testing.T) {
	a := newTestAssembler()
	a.Apply(sse(protocol.SSEStart, "bob", "m1", ""))
	a.Apply(sse(protocol.SSEStart, "bob", "m2", ""))
	m := a.Apply(sse(protocol.SSEChunk, "bob", "", "latest"))
	if m == nil || m.MessageID != "m2" {
		t.Fatalf("fallback picked %+v, want m2", m)
	}
}
