package openai

import (
	"testing"

	"github.com/MrWong99/patternlab/pkg/provider/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
	if _, err := New("sk-test", WithBaseURL("http://localhost:8080/v1"), WithOrganization("org"), WithTimeout(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		role  string
		check func(t *testing.T, m llm.Message)
	}{
		{llm.RoleSystem, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfSystem == nil {
				t.Errorf("system: OfSystem not set (err %v)", err)
			}
		}},
		{llm.RoleUser, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfUser == nil {
				t.Errorf("user: OfUser not set (err %v)", err)
			}
		}},
		{llm.RoleAssistant, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfAssistant == nil {
				t.Errorf("assistant: OfAssistant not set (err %v)", err)
			}
		}},
	}
	for _, tt := range tests {
		tt.check(t, llm.Message{Role: tt.role, Content: "hello"})
	}

	if _, err := convertMessage(llm.Message{Role: "tool"}); err == nil {
		t.Error("expected error for unsupported role")
	}
}

func TestBuildParams(t *testing.T) {
	params, err := buildParams(llm.CompletionRequest{
		Model:        "gpt-4o-mini",
		SystemPrompt: "You summarize.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "text"}},
		MaxTokens:    100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(params.Messages))
	}
	if params.MaxCompletionTokens.Value != 100 {
		t.Errorf("MaxCompletionTokens = %v", params.MaxCompletionTokens.Value)
	}
}

func TestBuildParams_Invalid(t *testing.T) {
	if _, err := buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser}}}); err == nil {
		t.Error("expected error for missing model")
	}
	if _, err := buildParams(llm.CompletionRequest{Model: "m"}); err == nil {
		t.Error("expected error for missing messages")
	}
}
