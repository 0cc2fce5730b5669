package transport

import (
	"encoding/json"
	"net/url"
	"strings"
)

const errorDetailLimit = 1200

// Query parameters that commonly carry credentials. Matching is
// case-insensitive on the key.
var redactedQueryKeys = map[string]struct{}{
	"apikey":        {},
	"api_key":       {},
	"access_token":  {},
	"auth":          {},
	"authorization": {},
	"key":           {},
	"token":         {},
}

// RedactURL replaces secret-looking query parameter values with a fixed
// placeholder. Callers should still prefer sending secrets via headers;
// this is the backstop for the ones that end up in URLs anyway.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.RawQuery == "" {
		return raw
	}
	values, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return raw
	}

	changed := false
	for key := range values {
		if _, secret := redactedQueryKeys[strings.ToLower(key)]; secret {
			values[key] = []string{"REDACTED"}
			changed = true
		}
	}
	if !changed {
		return raw
	}

	parsed.RawQuery = values.Encode()
	return parsed.String()
}

// extractErrorDetail pulls a human-readable message out of the two JSON
// error shapes upstreams use, falling back to the raw (truncated) body.
//
//	{"error": {"message": "...", "code"|"type": "..."}}
//	{"message": "...", "code": "..."}
func extractErrorDetail(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return truncateForError(text)
	}

	if errObj, ok := payload["error"].(map[string]any); ok {
		if message, ok := errObj["message"].(string); ok && strings.TrimSpace(message) != "" {
			code, _ := errObj["code"].(string)
			if strings.TrimSpace(code) == "" {
				code, _ = errObj["type"].(string)
			}
			if strings.TrimSpace(code) != "" {
				return truncateForError(strings.TrimSpace(message) + " (" + strings.TrimSpace(code) + ")")
			}
			return truncateForError(strings.TrimSpace(message))
		}
	}

	if message, ok := payload["message"].(string); ok && strings.TrimSpace(message) != "" {
		if code, ok := payload["code"].(string); ok && strings.TrimSpace(code) != "" {
			return truncateForError(strings.TrimSpace(message) + " (" + strings.TrimSpace(code) + ")")
		}
		return truncateForError(strings.TrimSpace(message))
	}

	return truncateForError(text)
}

// truncateForError collapses whitespace to a single line and bounds length.
func truncateForError(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	runes := []rune(cleaned)
	if len(runes) <= errorDetailLimit {
		return cleaned
	}
	return strings.TrimRight(string(runes[:errorDetailLimit-1]), " ") + "…"
}
