package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loglens/loglens/internal/domain"
)

var (
	reSQLFence     = regexp.MustCompile("(?s)```sql\\s*(.*?)```")
	reGenericFence = regexp.MustCompile("(?s)```\\s*(.*?)```")
	reSelectStmt   = regexp.MustCompile(`(?is)(SELECT\b.*?;)`)

	reFocusService = regexp.MustCompile(`(?i)service\s*=\s*'([^']+)'`)
	reFocusError   = regexp.MustCompile(`(?i)error_type\s*=\s*'([^']+)'`)
	reFocusTime    = regexp.MustCompile(`(?i)INTERVAL\s*'(\d+\s*\w+)'`)

	reToken = regexp.MustCompile(`[A-Za-z_]+`)
)

// dangerousKeywords are rejected anywhere in a generated statement.
var dangerousKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "EXEC", "EXECUTE", "DECLARE", "CURSOR",
}

// ExtractSQL pulls the SQL statement out of an LLM completion: first a
// ```sql fence, then any fenced block, then a trailing "SELECT ...;" match.
func ExtractSQL(completion string) string {
	if m := reSQLFence.FindStringSubmatch(completion); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := reGenericFence.FindStringSubmatch(completion); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := reSelectStmt.FindStringSubmatch(completion); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(completion)
}

// ValidateSQLSafety enforces the read-only policy: the statement must start
// with SELECT, must not contain any mutating keyword, and must reference the
// soft-delete flag.
func ValidateSQLSafety(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("op=agent.validate_safety: empty statement: %w", domain.ErrSQLUnsafe)
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("op=agent.validate_safety: only SELECT queries are allowed: %w", domain.ErrSQLUnsafe)
	}
	tokens := map[string]bool{}
	for _, t := range reToken.FindAllString(upper, -1) {
		tokens[t] = true
	}
	for _, kw := range dangerousKeywords {
		if tokens[kw] {
			return fmt.Errorf("op=agent.validate_safety: dangerous keyword %s: %w", kw, domain.ErrSQLUnsafe)
		}
	}
	if !tokens["DELETED"] {
		return fmt.Errorf("op=agent.validate_safety: missing deleted = FALSE filter: %w", domain.ErrSQLUnsafe)
	}
	return nil
}

// ValidateSQLSyntax performs a lexical single-statement check: balanced
// quotes and parentheses, and no second statement after the terminator.
func ValidateSQLSyntax(sql string) error {
	const op = "agent.validate_syntax"
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("op=%s: empty statement: %w", op, domain.ErrSQLUnsafe)
	}
	depth := 0
	inString := false
	body := strings.TrimSuffix(trimmed, ";")
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\'':
			// doubled quote inside a string is an escaped quote
			if inString && i+1 < len(body) && body[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case inString:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("op=%s: unbalanced parentheses: %w", op, domain.ErrSQLUnsafe)
			}
		case c == ';':
			return fmt.Errorf("op=%s: multiple statements: %w", op, domain.ErrSQLUnsafe)
		}
	}
	if inString {
		return fmt.Errorf("op=%s: unterminated string literal: %w", op, domain.ErrSQLUnsafe)
	}
	if depth != 0 {
		return fmt.Errorf("op=%s: unbalanced parentheses: %w", op, domain.ErrSQLUnsafe)
	}
	return nil
}

// FormatResults shapes raw rows for display, truncating to limit.
func FormatResults(rows []map[string]any, limit int) *FormattedResults {
	if limit <= 0 {
		limit = 100
	}
	displayed := rows
	truncated := false
	if len(rows) > limit {
		displayed = rows[:limit]
		truncated = true
	}
	return &FormattedResults{
		Rows:      displayed,
		Count:     len(rows),
		Displayed: len(displayed),
		Truncated: truncated,
	}
}

// ExtractFocus parses the executed SQL for the conversation focus: the
// first service equality, error_type equality, and INTERVAL literal.
func ExtractFocus(sql string) domain.Focus {
	var f domain.Focus
	if m := reFocusService.FindStringSubmatch(sql); m != nil {
		f.Service = m[1]
	}
	if m := reFocusError.FindStringSubmatch(sql); m != nil {
		f.ErrorType = m[1]
	}
	if m := reFocusTime.FindStringSubmatch(sql); m != nil {
		f.TimeRange = m[1]
	}
	return f
}

// ParseShortRange converts extractor output like "6h" or "7d" into a
// validated TimeRange; malformed or out-of-bounds values are discarded.
func ParseShortRange(s string) *domain.TimeRange {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return nil
	}
	unit, err := domain.ParseUnit(s[len(s)-1:])
	if err != nil {
		return nil
	}
	var value int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &value); err != nil {
		return nil
	}
	tr := domain.TimeRange{Relative: &domain.RelativeRange{Value: value, Unit: unit}}
	if tr.Validate(timeNow()) != nil {
		return nil
	}
	return &tr
}
