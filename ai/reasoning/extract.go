package reasoning

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/teranos/qaflow/errors"
)

// ErrNoJSON is returned when no JSON object can be found in a reply
var ErrNoJSON = errors.New("no JSON object in response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractJSON finds the JSON object in a loosely formatted model reply.
// Candidates are tried in order: a fenced code block, the first balanced
// brace span that parses, then the whole trimmed text.
func ExtractJSON(text string) (json.RawMessage, error) {
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if obj, ok := asObject(m[1]); ok {
			return obj, nil
		}
		if obj, ok := firstObject(m[1]); ok {
			return obj, nil
		}
	}

	if obj, ok := firstObject(text); ok {
		return obj, nil
	}

	if obj, ok := asObject(text); ok {
		return obj, nil
	}
	return nil, ErrNoJSON
}

func asObject(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// firstObject tries each balanced {...} span in order of its opening brace
// and returns the first that parses as an object.
func firstObject(s string) (json.RawMessage, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if span, ok := balancedFrom(s, start); ok {
			if obj, ok := asObject(span); ok {
				return obj, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// balancedFrom returns the span opened at s[start] once its braces balance,
// ignoring braces inside JSON strings.
func balancedFrom(s string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
