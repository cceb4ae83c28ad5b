package openai

import (
	"encoding/json"
	"strings"
	"testing"

	"ragserv/internal/llm"
)

func TestAdaptMessages(t *testing.T) {
	msgs := []llm.Message{
		{Role: "system", Content: ""},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: ""},
		{Role: "assistant", Content: "got it"},
	}
	out := AdaptMessages(msgs)
	if len(out) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(out))
	}

	js0, _ := json.Marshal(out[0])
	if !strings.Contains(string(js0), "You are a helpful assistant.") {
		t.Fatalf("expected default system content in %s", string(js0))
	}
	js1, _ := json.Marshal(out[1])
	if !strings.Contains(string(js1), "hello") {
		t.Fatalf("expected user content in %s", string(js1))
	}
	js2, _ := json.Marshal(out[2])
	if !strings.Contains(string(js2), " ") {
		t.Fatalf("expected assistant content placeholder in %s", string(js2))
	}
	js3, _ := json.Marshal(out[3])
	if !strings.Contains(string(js3), "got it") {
		t.Fatalf("expected assistant content in %s", string(js3))
	}
}

func TestAdaptMessagesSkipsUnknownRoles(t *testing.T) {
	msgs := []llm.Message{{Role: "tool", Content: "unused"}}
	out := AdaptMessages(msgs)
	if len(out) != 0 {
		t.Fatalf("expected unsupported roles to be dropped, got %d", len(out))
	}
}
