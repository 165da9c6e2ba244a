package prompts

import (
	"encoding/json"
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/models"
)

type llmReply struct {
	Intent   any            `json:"intent"`
	Entities map[string]any `json:"entities"`
	Response *string        `json:"response"`
}

// ParseReply turns raw model output into a GatewayResult. It accepts a bare
// JSON object, a JSON object wrapped in prose or code fences, and plain text,
// which becomes the response with no intent.
func ParseReply(raw string) *models.GatewayResult {
	content := strings.TrimSpace(raw)

	reply, ok := decodeReply(content)
	if !ok {
		for _, candidate := range jsonObjects(content) {
			if reply, ok = decodeReply(candidate); ok {
				break
			}
		}
	}

	if !ok {
		return &models.GatewayResult{
			Entities: map[string]any{},
			Response: content,
		}
	}

	result := &models.GatewayResult{Entities: reply.Entities}
	if result.Entities == nil {
		result.Entities = map[string]any{}
	}
	if reply.Response != nil {
		result.Response = *reply.Response
	}
	if name, isString := reply.Intent.(string); isString {
		name = strings.TrimSpace(name)
		if name != "null" {
			result.Intent = name
		}
	}
	return result
}

func decodeReply(s string) (*llmReply, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var reply llmReply
	if err := json.Unmarshal([]byte(s), &reply); err != nil {
		return nil, false
	}
	return &reply, true
}

// jsonObjects returns every balanced {...} span in s, in order of their
// opening brace. Braces inside string literals are ignored.
func jsonObjects(s string) []string {
	var objects []string

	for start := strings.IndexByte(s, '{'); start != -1; {
		if end := matchBrace(s, start); end != -1 {
			objects = append(objects, s[start:end+1])
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}

	return objects
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
