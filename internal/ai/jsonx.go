package ai

import (
	"encoding/json"
	"strings"
)

// decodeModelJSON parses the first JSON object in a model response. Models
// sometimes wrap it in markdown fences or chatter even in JSON mode.
func decodeModelJSON(resp string, out any) error {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	if obj, ok := firstJSONObject(cleaned); ok {
		cleaned = obj
	}
	return json.Unmarshal([]byte(cleaned), out)
}

// firstJSONObject finds the first outermost balanced {...}.
func firstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
