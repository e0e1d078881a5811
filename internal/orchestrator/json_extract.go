package orchestrator

import "strings"

// extractJSON implements the coordinator-output extraction order from
// §4.8: the trimmed output as-is, else a fenced ```json/``` code block,
// else the first balanced {…} substring. Returns ("", false) if none of
// those yield a parseable-looking candidate.
func extractJSON(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if looksLikeObject(trimmed) {
		return trimmed, true
	}

	if fenced, ok := extractFenced(raw); ok {
		return fenced, true
	}

	if balanced, ok := extractBalancedBraces(raw); ok {
		return balanced, true
	}

	return "", false
}

func looksLikeObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// extractFenced looks for the first ```json or ``` fenced code block and
// returns its trimmed contents.
func extractFenced(raw string) (string, bool) {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(raw, marker)
		if start == -1 {
			continue
		}
		bodyStart := start + len(marker)
		end := strings.Index(raw[bodyStart:], "```")
		if end == -1 {
			continue
		}
		body := strings.TrimSpace(raw[bodyStart : bodyStart+end])
		if body != "" {
			return body, true
		}
	}
	return "", false
}

// extractBalancedBraces scans for the first '{' and returns the substring
// up to its matching '}', tracking nesting depth and skipping braces
// inside string literals.
func extractBalancedBraces(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
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
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
