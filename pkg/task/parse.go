package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mozilla/pilo-sub005/pkg/llm"
	"github.com/mozilla/pilo-sub005/pkg/types"
)

// ParseAction decodes a tool call into an action. Models occasionally wrap
// the argument object in prose or markdown fences, or emit the same object
// concatenated several times, so a failed decode gets one recovery pass
// that extracts the first balanced JSON object before giving up. recovered
// is true when that pass was needed, so the caller can append corrective
// feedback to the conversation.
func ParseAction(call *llm.ToolCall) (action *types.Action, recovered bool, err error) {
	if call == nil {
		return nil, false, NewMalformedActionError(fmt.Errorf("response contained no tool call"))
	}

	var parsed types.Action
	if err := json.Unmarshal([]byte(call.Arguments), &parsed); err != nil {
		first, ok := extractJSONObject(call.Arguments)
		if !ok {
			return nil, false, NewMalformedActionError(err)
		}
		if err := json.Unmarshal([]byte(first), &parsed); err != nil {
			return nil, false, NewMalformedActionError(err)
		}
		recovered = true
	}

	parsed.Kind = types.ActionKind(strings.ToLower(strings.TrimSpace(string(parsed.Kind))))
	return &parsed, recovered, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s.
// Brace counting skips braces inside string literals and escape sequences,
// so values containing "{" do not break extraction.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
