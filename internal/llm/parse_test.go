package llm

import (
	"testing"

	"github.com/ponderer/ponderer/internal/errors"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```\nanything else?", `{"a":1}`, true},
		{"prose around", `Sure! {"skip": true} Hope that helps.`, `{"skip": true}`, true},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, true},
		{"no object", "I could not decide.", "", false},
		{"reversed braces", "} nothing {", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw)
			if tt.ok {
				if err != nil {
					t.Fatalf("ExtractJSON(%q) error: %v", tt.raw, err)
				}
				if got != tt.want {
					t.Errorf("got %q, want %q", got, tt.want)
				}
				return
			}
			if !errors.Is(err, errors.ErrLLMProtocol) {
				t.Errorf("ExtractJSON(%q) = %q, %v; want protocol error", tt.raw, got, err)
			}
		})
	}
}

func TestParseObject(t *testing.T) {
	var out struct {
		Skip   bool   `json:"skip"`
		Reason string `json:"skip_reason"`
	}
	raw := "thinking...\n{\"skip\": true, \"skip_reason\": \"nothing new\"}\ndone"
	if err := ParseObject(raw, &out); err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if !out.Skip || out.Reason != "nothing new" {
		t.Errorf("out = %+v", out)
	}

	err := ParseObject(`{"skip": tru}`, &out)
	if !errors.Is(err, errors.ErrLLMProtocol) {
		t.Errorf("malformed JSON = %v, want protocol error", err)
	}
}
