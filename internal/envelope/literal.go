package envelope

import (
	"regexp"
	"strings"
)

// boxedNumericRe matches boxed numeric literals like Decimal('12.50') that a
// legacy serializer emits for currency fields. The inner literal is kept.
var boxedNumericRe = regexp.MustCompile(`Decimal\(\s*['"]([^'"]*)['"]\s*\)`)

// normalizeLiteral rewrites a legacy dict-literal string into strict JSON:
// single-quoted strings become double-quoted, True/False/None become
// true/false/null, and boxed numerics are unboxed. Existing double-quoted
// strings pass through untouched.
func normalizeLiteral(s string) string {
	s = boxedNumericRe.ReplaceAllString(s, "$1")

	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		switch s[i] {
		case '\'':
			i = writeSingleQuoted(&b, s, i)
		case '"':
			i = copyDoubleQuoted(&b, s, i)
		default:
			if tok, repl := bareToken(s, i); tok != "" {
				b.WriteString(repl)
				i += len(tok)
				continue
			}
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// writeSingleQuoted converts one single-quoted string starting at i into a
// double-quoted JSON string, returning the index after the closing quote.
func writeSingleQuoted(b *strings.Builder, s string, i int) int {
	b.WriteByte('"')
	i++ // opening quote
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			if s[i+1] == '\'' {
				// \' has no meaning in JSON; emit the bare quote.
				b.WriteByte('\'')
			} else {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		if c == '\'' {
			i++
			break
		}
		if c == '"' {
			b.WriteString(`\"`)
			i++
			continue
		}
		b.WriteByte(c)
		i++
	}
	b.WriteByte('"')
	return i
}

// copyDoubleQuoted copies one double-quoted string verbatim, returning the
// index after the closing quote.
func copyDoubleQuoted(b *strings.Builder, s string, i int) int {
	b.WriteByte(s[i])
	i++ // opening quote
	for i < len(s) {
		c := s[i]
		b.WriteByte(c)
		i++
		if c == '\\' && i < len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		if c == '"' {
			break
		}
	}
	return i
}

// bareToken reports a True/False/None keyword at position i, word-bounded.
func bareToken(s string, i int) (token, replacement string) {
	for _, kw := range [...]struct{ from, to string }{
		{"True", "true"},
		{"False", "false"},
		{"None", "null"},
	} {
		if strings.HasPrefix(s[i:], kw.from) && wordBoundary(s, i, len(kw.from)) {
			return kw.from, kw.to
		}
	}
	return "", ""
}

func wordBoundary(s string, i, n int) bool {
	if i > 0 && isWordByte(s[i-1]) {
		return false
	}
	if i+n < len(s) && isWordByte(s[i+n]) {
		return false
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
