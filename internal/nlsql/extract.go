package nlsql

import (
	"regexp"
	"strings"
)

// extractSQL pulls SQL from model output using 3 strategies in order:
// 1. ```sql ... ``` code block (preferred)
// 2. ``` ... ``` generic code block starting with SELECT/WITH
// 3. Bare SELECT/WITH statement in the prose
var (
	reCTEBlock    = regexp.MustCompile(`(?is)(WITH\s+\w+\s+AS\s*\(.+?(?:LIMIT\s+\d+|;\s*$|\z))`)
	reSelectBlock = regexp.MustCompile(`(?is)(SELECT\s+.+?FROM\s+.+?(?:LIMIT\s+\d+|;\s*$|\z))`)
)

func extractSQL(text string) string {
	lower := strings.ToLower(text)
	if idx := strings.Index(lower, "```sql"); idx != -1 {
		body := text[idx+len("```sql"):]
		if len(body) > 0 && body[0] == '\n' {
			body = body[1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			if sql := strings.TrimSpace(body[:end]); sql != "" {
				return strings.TrimSuffix(sql, ";")
			}
		}
	}

	parts := strings.Split(text, "```")
	for i := 1; i < len(parts); i += 2 {
		candidate := strings.TrimSpace(parts[i])
		if nl := strings.Index(candidate, "\n"); nl != -1 {
			firstLine := strings.ToUpper(strings.TrimSpace(candidate[:nl]))
			if !strings.HasPrefix(firstLine, "SELECT") && !strings.HasPrefix(firstLine, "WITH") {
				candidate = strings.TrimSpace(candidate[nl:])
			}
		}
		up := strings.ToUpper(candidate)
		if strings.HasPrefix(up, "SELECT") || strings.HasPrefix(up, "WITH") {
			return strings.TrimSuffix(candidate, ";")
		}
	}

	if m := reCTEBlock.FindString(text); m != "" {
		return strings.TrimSuffix(strings.TrimSpace(m), ";")
	}
	if m := reSelectBlock.FindString(text); m != "" {
		return strings.TrimSuffix(strings.TrimSpace(m), ";")
	}
	return ""
}
