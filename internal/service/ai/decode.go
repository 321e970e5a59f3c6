package ai

import (
	"encoding/json"
	"strings"
)

// DecodeField extracts the declared output field from a model reply. Models
// asked for a single-key JSON object usually comply but may wrap the object in
// code fences or answer with plain text; in that case the trimmed raw reply is
// returned as the field value.
func DecodeField(raw, field string) string {
	text := strings.TrimSpace(raw)
	if field == "" {
		return text
	}

	candidate := stripCodeFence(text)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		if v, ok := obj[field]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				return s
			}
		}
	}
	return text
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimPrefix(text, "```")
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
