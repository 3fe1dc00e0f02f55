package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestResponseRoundTrip(t *testing.T) {
	in := ResponseMsg{
		Type:            TypeResponse,
		ProtocolVersion: Version,
		RequestID:       "req_1",
		Command:         "createAgent",
		Success:         true,
		RefreshWorld:    true,
		Timestamp:       time.Now().UTC().Truncate(time.Millisecond),
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ResponseMsg
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.RequestID != in.RequestID || out.Command != in.Command || out.Success != in.Success {
		t.Fatalf("round trip lost required fields: %+v", out)
	}
	if !out.RefreshWorld {
		t.Fatalf("round trip lost refresh_world")
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("timestamp changed: %v vs %v", out.Timestamp, in.Timestamp)
	}
}

func TestResponseEnvelopeOmitsEmptyOptionals(t *testing.T) {
	b, err := json.Marshal(ResponseMsg{
		Type:            TypeResponse,
		ProtocolVersion: Version,
		RequestID:       "req_2",
		Command:         "getWorlds",
		Success:         true,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"error", "code", "refresh_world", "data"} {
		if _, ok := m[k]; ok {
			t.Fatalf("expected %q omitted, got %v", k, m[k])
		}
	}
}
