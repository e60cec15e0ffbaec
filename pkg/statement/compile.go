package statement

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// compiled is the output of compileTemplate.
type compiled struct {
	sql   string
	order []string
}

// compileTemplate rewrites :name and #{name} placeholders into $n positions.
// A name used twice reuses its position. Quoted literals, quoted
// identifiers, dollar-quoted bodies, comments and :: casts are copied
// through untouched.
func compileTemplate(tmpl string) (*compiled, error) {
	var (
		out       strings.Builder
		order     []string
		positions = make(map[string]int)
	)

	bind := func(name string) {
		pos, ok := positions[name]
		if !ok {
			order = append(order, name)
			pos = len(order)
			positions[name] = pos
		}
		out.WriteString("$")
		out.WriteString(strconv.Itoa(pos))
	}

	n := len(tmpl)
	for i := 0; i < n; {
		c := tmpl[i]
		switch {
		case c == '\'' || c == '"':
			end, err := skipQuoted(tmpl, i, c)
			if err != nil {
				return nil, err
			}
			out.WriteString(tmpl[i:end])
			i = end

		case c == '-' && i+1 < n && tmpl[i+1] == '-':
			end := strings.IndexByte(tmpl[i:], '\n')
			if end < 0 {
				end = n - i
			}
			out.WriteString(tmpl[i : i+end])
			i += end

		case c == '/' && i+1 < n && tmpl[i+1] == '*':
			end := strings.Index(tmpl[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			stop := i + 2 + end + 2
			out.WriteString(tmpl[i:stop])
			i = stop

		case c == '$' && i+1 < n && tmpl[i+1] == '{':
			return nil, fmt.Errorf("string substitution ${...} at offset %d is not supported, use #{...}", i)

		case c == '$' && i+1 < n && isDigit(tmpl[i+1]):
			return nil, fmt.Errorf("positional placeholder at offset %d, use named parameters", i)

		case c == '$':
			end, ok, err := skipDollarQuoted(tmpl, i)
			if err != nil {
				return nil, err
			}
			if !ok {
				out.WriteByte(c)
				i++
				continue
			}
			out.WriteString(tmpl[i:end])
			i = end

		case c == '#' && i+1 < n && tmpl[i+1] == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated #{ at offset %d", i)
			}
			inner := tmpl[i+2 : i+end]
			// #{id,jdbcType=INTEGER} carries type hints after the name.
			if comma := strings.IndexByte(inner, ','); comma >= 0 {
				inner = inner[:comma]
			}
			name := strings.TrimSpace(inner)
			if !isIdent(name) {
				return nil, fmt.Errorf("invalid parameter name %q at offset %d", name, i)
			}
			bind(name)
			i += end + 1

		case c == ':' && i+1 < n && tmpl[i+1] == ':':
			out.WriteString("::")
			i += 2

		case c == ':' && i+1 < n && isIdentStart(tmpl[i+1]) && (i == 0 || !isIdentPart(tmpl[i-1])):
			j := i + 1
			for j < n && isIdentPart(tmpl[j]) {
				j++
			}
			bind(tmpl[i+1 : j])
			i = j

		default:
			out.WriteByte(c)
			i++
		}
	}

	return &compiled{sql: out.String(), order: order}, nil
}

// skipQuoted returns the offset just past the literal or identifier starting
// at i. A doubled quote is an escaped quote.
func skipQuoted(s string, i int, q byte) (int, error) {
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1, nil
	}
	if q == '\'' {
		return 0, fmt.Errorf("unterminated string literal at offset %d", i)
	}
	return 0, fmt.Errorf("unterminated quoted identifier at offset %d", i)
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ bodies. ok is false
// when the $ does not open a dollar quote.
func skipDollarQuoted(s string, i int) (end int, ok bool, err error) {
	j := i + 1
	for j < len(s) && isIdentPart(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	stop := strings.Index(s[j+1:], tag)
	if stop < 0 {
		return 0, false, fmt.Errorf("unterminated dollar-quoted string at offset %d", i)
	}
	return j + 1 + stop + len(tag), true, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

var (
	leadingComments = regexp.MustCompile(`^(\s+|--[^\n]*\n?|/\*(?s:.*?)\*/)*`)
	returningClause = regexp.MustCompile(`(?i)\breturning\b`)
)

// inferKind guesses the statement kind from its leading keyword.
func inferKind(sql string) Kind {
	body := leadingComments.ReplaceAllString(sql, "")
	word := strings.ToLower(strings.TrimLeft(firstWord(body), "("))

	switch word {
	case "select", "with", "values", "show", "table", "explain":
		return KindSelect
	}
	if returningClause.MatchString(body) {
		return KindSelect
	}
	switch word {
	case "insert":
		return KindInsert
	case "update":
		return KindUpdate
	case "delete":
		return KindDelete
	default:
		return KindExec
	}
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '\r' }); i >= 0 {
		return s[:i]
	}
	return s
}

// checkSyntax parses the positional SQL with the PostgreSQL parser.
func checkSyntax(sql string) error {
	_, err := pg_query.Parse(sql)
	return err
}
