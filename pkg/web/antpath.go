package web

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled Ant-style path pattern.
//
//	?          one character except /
//	*          zero or more characters within a segment
//	**         zero or more whole segments
//	{name}     a path variable spanning part of one segment
//	{name:re}  a path variable that must match re
type Pattern struct {
	raw      string
	segments []segment
	vars     int
	wilds    int
	globs    int // number of ** segments
}

type segment struct {
	literal string
	re      *regexp.Regexp
	names   []string
	globAll bool
}

// CompilePattern compiles an Ant-style pattern. Patterns must start with /.
func CompilePattern(p string) (*Pattern, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("pattern %q must start with /", p)
	}
	pat := &Pattern{raw: p}
	for _, s := range splitPath(p) {
		seg, err := compileSegment(s)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		switch {
		case seg.globAll:
			pat.globs++
		case seg.re != nil:
			pat.vars += len(seg.names)
			pat.wilds += strings.Count(s, "*") + strings.Count(s, "?")
		}
		pat.segments = append(pat.segments, seg)
	}
	return pat, nil
}

// MustCompilePattern is CompilePattern that panics on error.
func MustCompilePattern(p string) *Pattern {
	pat, err := CompilePattern(p)
	if err != nil {
		panic(err)
	}
	return pat
}

// String returns the source pattern.
func (p *Pattern) String() string { return p.raw }

func compileSegment(s string) (segment, error) {
	if s == "**" {
		return segment{globAll: true}, nil
	}
	if !strings.ContainsAny(s, "*?{") {
		return segment{literal: s}, nil
	}

	var (
		b     strings.Builder
		names []string
	)
	b.WriteString("^")
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '*':
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '{':
			end := closingBrace(s, i)
			if end < 0 {
				return segment{}, fmt.Errorf("unterminated { in segment %q", s)
			}
			name, expr, hasExpr := strings.Cut(s[i+1:end], ":")
			if name == "" {
				return segment{}, fmt.Errorf("empty variable name in segment %q", s)
			}
			if !hasExpr {
				expr = "[^/]+"
			}
			if _, err := regexp.Compile(expr); err != nil {
				return segment{}, fmt.Errorf("variable %s: %w", name, err)
			}
			fmt.Fprintf(&b, "(?P<v%d>%s)", len(names), expr)
			names = append(names, name)
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return segment{}, err
	}
	return segment{re: re, names: names}, nil
}

// closingBrace finds the brace closing the one at i, allowing nested
// braces inside a variable regexp such as {id:[0-9]{2}}.
func closingBrace(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// Match reports whether path matches and returns the path variables.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	vars := make(map[string]string, p.vars)
	if !matchSegments(p.segments, splitPath(path), vars) {
		return nil, false
	}
	return vars, true
}

// Matches reports whether path matches.
func (p *Pattern) Matches(path string) bool {
	_, ok := p.Match(path)
	return ok
}

func matchSegments(pattern []segment, path []string, vars map[string]string) bool {
	for len(pattern) > 0 {
		seg := pattern[0]
		if seg.globAll {
			rest := pattern[1:]
			for i := 0; i <= len(path); i++ {
				if matchSegments(rest, path[i:], vars) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 || !seg.match(path[0], vars) {
			return false
		}
		pattern, path = pattern[1:], path[1:]
	}
	return len(path) == 0
}

func (s segment) match(part string, vars map[string]string) bool {
	if s.re == nil {
		return s.literal == part
	}
	m := s.re.FindStringSubmatch(part)
	if m == nil {
		return false
	}
	for i, name := range s.names {
		vars[name] = m[s.re.SubexpIndex(fmt.Sprintf("v%d", i))]
	}
	return true
}

// moreSpecific orders patterns the way the best match is picked: fewer **
// segments first, then fewer variables and wildcards in total, then the
// longer pattern, then fewer wildcards.
func moreSpecific(a, b *Pattern) bool {
	if a.globs != b.globs {
		return a.globs < b.globs
	}
	if ta, tb := a.vars+a.wilds, b.vars+b.wilds; ta != tb {
		return ta < tb
	}
	if len(a.raw) != len(b.raw) {
		return len(a.raw) > len(b.raw)
	}
	return a.wilds < b.wilds
}

// splitPath splits on / and drops empty segments, so "/a//b/" is [a b].
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
