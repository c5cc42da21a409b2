package toolloop

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the first balanced JSON object embedded in text.
// Prose and code fences around the object are ignored. Braces inside JSON
// strings do not count towards the depth.
func ExtractJSON(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := balancedEnd(text, start); ok {
			candidate := text[start : end+1]
			if isObject(candidate) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func balancedEnd(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return i, true
			}
		}
	}
	return 0, false
}

func isObject(candidate string) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(candidate), &obj) == nil
}
