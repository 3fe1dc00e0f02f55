package world

import (
	"errors"
	"testing"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w, err := New(Config{Name: "Test World", TurnLimit: 3})
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	w.SetSaver(func(*World) error { return nil })
	return w
}

func TestNew_DerivesKebabID(t *testing.T) {
	w := newTestWorld(t)
	if w.ID != "test-world" {
		t.Fatalf("id: %q", w.ID)
	}
	if w.Emitter() == nil {
		t.Fatalf("expected emitter")
	}
	if _, err := New(Config{Name: "???"}); err == nil {
		t.Fatalf("expected error on empty derived id")
	}
}

func TestCreateAgent(t *testing.T) {
	w := newTestWorld(t)
	a, err := w.CreateAgent(AgentSpec{Name: "Research Bot", Provider: ProviderAnthropic, Model: "claude-sonnet"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if a.ID != "research-bot" || a.Status != StatusActive {
		t.Fatalf("agent: %+v", a)
	}

	if _, err := w.CreateAgent(AgentSpec{Name: "research bot", Provider: ProviderAnthropic, Model: "claude-sonnet"}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists on id collision, got %v", err)
	}
	if _, err := w.CreateAgent(AgentSpec{Name: "other", Provider: "madeup", Model: "m"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if _, err := w.CreateAgent(AgentSpec{Name: "no model", Provider: ProviderOpenAI}); err == nil {
		t.Fatalf("expected error on missing model")
	}
	// Reserved by the clear-memory target syntax.
	for _, name := range []string{"all", "All", "ALL"} {
		if _, err := w.CreateAgent(AgentSpec{Name: name, Provider: ProviderOpenAI, Model: "gpt"}); err == nil {
			t.Fatalf("expected %q to be rejected as reserved", name)
		}
	}
}

func TestCreateAgent_FailedSaveRollsBack(t *testing.T) {
	w := newTestWorld(t)
	w.SetSaver(func(*World) error { return errors.New("disk full") })
	if _, err := w.CreateAgent(AgentSpec{Name: "a", Provider: ProviderOpenAI, Model: "gpt"}); err == nil {
		t.Fatalf("expected save error")
	}
	if len(w.Agents) != 0 {
		t.Fatalf("failed create left agent behind")
	}
}

func TestGetAgent_ByIDOrName(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.CreateAgent(AgentSpec{Name: "Research Bot", Provider: ProviderOpenAI, Model: "gpt"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.GetAgent("research-bot") == nil {
		t.Fatalf("lookup by id failed")
	}
	if w.GetAgent("Research Bot") == nil {
		t.Fatalf("lookup by name failed")
	}
	if w.GetAgent("ghost") != nil {
		t.Fatalf("expected nil for unknown agent")
	}
}

func TestAppendAgentMemory_PreservesOrder(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.CreateAgent(AgentSpec{Name: "a", Provider: ProviderOpenAI, Model: "gpt"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, c := range []string{"m1", "m2", "m3"} {
		if _, err := w.AppendAgentMemory("a", MemoryMessage{Role: "user", Content: c}); err != nil {
			t.Fatalf("append %s: %v", c, err)
		}
	}
	a := w.GetAgent("a")
	if len(a.Memory) != 3 {
		t.Fatalf("memory size: %d", len(a.Memory))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if a.Memory[i].Content != want {
			t.Fatalf("memory[%d] = %q, want %q", i, a.Memory[i].Content, want)
		}
	}
}

func TestClearAgentMemory(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.CreateAgent(AgentSpec{Name: "a", Provider: ProviderOpenAI, Model: "gpt"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.AppendAgentMemory("a", MemoryMessage{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	a, err := w.ClearAgentMemory("a")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(a.Memory) != 0 {
		t.Fatalf("memory not cleared: %d", len(a.Memory))
	}
	if a, _ := w.ClearAgentMemory("ghost"); a != nil {
		t.Fatalf("expected nil for unknown agent")
	}
}

func TestUpdateAgent_PartialUpdates(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.CreateAgent(AgentSpec{Name: "a", Provider: ProviderOpenAI, Model: "gpt"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	model := "gpt-4o"
	a, err := w.UpdateAgent("a", AgentUpdates{Model: &model})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if a.Model != "gpt-4o" || a.Provider != ProviderOpenAI {
		t.Fatalf("partial update touched wrong fields: %+v", a)
	}
	bad := "nope"
	if _, err := w.UpdateAgent("a", AgentUpdates{Provider: &bad}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
