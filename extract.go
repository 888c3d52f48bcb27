package tiller

import (
	"encoding/json"
	"strings"
)

// ExtractPrompt reduces a UserMessage content payload to the prompt string
// handed to the agent loop. Payloads that arrived as JSON follow the
// envelope extraction rules: strings are used directly, objects prefer their
// "text" then "content" fields, arrays join their items' text with
// newlines, and anything else is stringified. Loose text passes through
// trimmed.
func ExtractPrompt(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	if !json.Valid([]byte(trimmed)) {
		return trimmed
	}

	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return strings.TrimSpace(s)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		if t, ok := obj["text"]; ok {
			if err := json.Unmarshal(t, &s); err == nil {
				return strings.TrimSpace(s)
			}
		}
		if c, ok := obj["content"]; ok {
			if err := json.Unmarshal(c, &s); err == nil {
				return strings.TrimSpace(s)
			}
			return strings.TrimSpace(string(c))
		}
		return trimmed
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			var io map[string]json.RawMessage
			if err := json.Unmarshal(item, &io); err == nil {
				if t, ok := io["text"]; ok {
					if err := json.Unmarshal(t, &s); err == nil {
						parts = append(parts, s)
						continue
					}
				}
			}
			parts = append(parts, strings.Trim(string(item), `"`))
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}

	// Scalar (number, bool, null): stringify, trimming any quotes.
	return strings.Trim(trimmed, `"`)
}
