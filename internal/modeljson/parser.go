// Package modeljson recovers structured records from text returned by a
// generative model. Model output is frequently wrapped in markdown fences,
// annotated with search citation markers, surrounded by prose, or truncated
// mid-object; Parse repairs what it can and never fails.
package modeljson

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	// fenceRegex matches an opening fence with an optional language tag, or a closing fence.
	fenceRegex = regexp.MustCompile("```[a-zA-Z0-9_-]*")

	// citationRegex matches markers such as [1], [2, 3] or [4-6].
	citationRegex = regexp.MustCompile(`\[\d+(?:\s*[,\-–]\s*\d+)*\]`)
)

// Parse turns model output into a JSON object. Each repair step is applied
// only while the text is still not a valid object. The result is never nil;
// unrecoverable input yields an empty map.
func Parse(text string) map[string]any {
	s := strings.TrimSpace(text)
	if rec, ok := decodeObject(s); ok {
		return rec
	}

	s = stripFences(s)
	if rec, ok := decodeObject(s); ok {
		return rec
	}

	s = stripCitations(s)
	if rec, ok := decodeObject(s); ok {
		return rec
	}

	s = truncateToObject(s)
	if rec, ok := decodeObject(s); ok {
		return rec
	}

	s = stripTrailingCommas(s)
	s = balance(s)
	if rec, ok := decodeObject(s); ok {
		return rec
	}

	return map[string]any{}
}

// ParseInto recovers a record from text and decodes it into v.
// It reports whether any field could be recovered.
func ParseInto(text string, v any) bool {
	rec := Parse(text)
	if len(rec) == 0 {
		return false
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(s), &rec); err != nil || rec == nil {
		return nil, false
	}
	return rec, true
}

func stripFences(s string) string {
	return strings.TrimSpace(fenceRegex.ReplaceAllString(s, ""))
}

// stripCitations removes citation markers. A bracketed number that follows
// ':' '[' or ',' is a JSON array value and is kept.
func stripCitations(s string) string {
	matches := citationRegex.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		if isArrayValue(s[:m[0]]) {
			continue
		}
		b.WriteString(s[last:m[0]])
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func isArrayValue(prefix string) bool {
	prefix = strings.TrimRight(prefix, " \t\r\n")
	if prefix == "" {
		return false
	}
	switch prefix[len(prefix)-1] {
	case ':', '[', ',':
		return true
	}
	return false
}

// truncateToObject discards prose before the first '{' and after the last '}'.
// Text with an opening brace but no closing one keeps everything after the
// opening brace so balance can repair it.
func truncateToObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return strings.TrimSpace(s[start:])
	}
	return s[start : end+1]
}

// balance closes an unterminated string and appends closers for every
// unmatched '{' or '[' outside string literals, innermost first.
func balance(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(stack) + 1)
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	// A dangling comma before the appended closers is common in truncated output.
	return stripTrailingCommas(b.String())
}

// stripTrailingCommas drops commas that directly precede '}' or ']', ignoring
// anything inside string literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
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
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' && closesNext(s[i+1:]) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func closesNext(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	return rest != "" && (rest[0] == '}' || rest[0] == ']')
}
