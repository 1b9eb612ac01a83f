package tool

import (
	"strings"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	"github.com/tidwall/gjson"
)

// ExtractRequests finds the first JSON object in text that carries a
// "tool_requests" array and returns its requests together with the text that
// surrounds the object.
func ExtractRequests(text string) ([]contractx.ToolRequest, string) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := matchingBrace(text, start)
		if end < 0 {
			break
		}
		candidate := text[start : end+1]
		if gjson.Valid(candidate) {
			list := gjson.Get(candidate, "tool_requests")
			if list.IsArray() {
				remaining := strings.TrimSpace(stripFence(text[:start]) + " " + stripFence(text[end+1:]))
				return parseRequests(list), strings.TrimSpace(remaining)
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, strings.TrimSpace(text)
}

func parseRequests(list gjson.Result) []contractx.ToolRequest {
	var out []contractx.ToolRequest
	list.ForEach(func(_, item gjson.Result) bool {
		name := strings.TrimSpace(item.Get("tool").String())
		if name == "" {
			return true
		}
		req := contractx.ToolRequest{Tool: name}
		if args, ok := item.Get("args").Value().(map[string]any); ok {
			req.Args = args
		}
		out = append(out, req)
		return true
	})
	return out
}

// matchingBrace returns the index of the brace closing text[open], honouring JSON strings.
func matchingBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
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

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```json")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSpace(s)
}
