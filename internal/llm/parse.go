package llm

import (
	"encoding/json"
	"strings"

	"github.com/ponderer/ponderer/internal/errors"
)

// ExtractJSON trims a model response to its outermost JSON object.
// Models wrap output in prose or code fences often enough that the
// callers never see raw responses directly.
func ExtractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", errors.NewLLMProtocol("no JSON object in response", nil)
	}
	return raw[start : end+1], nil
}

// ParseObject extracts the outermost object from raw and unmarshals it
// into v. Anything short of valid JSON is a protocol error; callers
// decide whether to skip or retry.
func ParseObject(raw string, v any) error {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return errors.NewLLMProtocol("malformed JSON in response", err)
	}
	return nil
}
