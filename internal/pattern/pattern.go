// Package pattern matches selector patterns against full command lines.
package pattern

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

var compiled sync.Map // pattern -> glob.Glob

// Match is case-sensitive. A pattern containing * or ? is a glob that must
// cover the whole command line (* also crosses '/'); anything else is a
// substring test.
func Match(pattern, cmdline string) bool {
	if pattern == "" {
		return false
	}
	if !IsGlob(pattern) {
		return strings.Contains(cmdline, pattern)
	}
	g := compile(pattern)
	return g != nil && g.Match(cmdline)
}

// MatchAny reports whether any pattern matches the command line.
func MatchAny(patterns []string, cmdline string) bool {
	for _, p := range patterns {
		if Match(p, cmdline) {
			return true
		}
	}
	return false
}

// IsGlob reports whether the pattern uses wildcards.
func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

func compile(pattern string) glob.Glob {
	if g, ok := compiled.Load(pattern); ok {
		return g.(glob.Glob)
	}

	// only * and ? are wildcards; everything else, brackets included, is literal
	var b, literal strings.Builder
	for _, r := range pattern {
		if r == '*' || r == '?' {
			b.WriteString(glob.QuoteMeta(literal.String()))
			literal.Reset()
			b.WriteRune(r)
			continue
		}
		literal.WriteRune(r)
	}
	b.WriteString(glob.QuoteMeta(literal.String()))

	// no separators: * crosses '/'
	g, err := glob.Compile(b.String())
	if err != nil {
		return nil
	}
	compiled.Store(pattern, g)
	return g
}
