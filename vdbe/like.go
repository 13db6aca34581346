package vdbe

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// ----------------------------------------------------------------------------
//
// SQL LIKE operator. The pattern is translated into a regular expression and
// cached, the wildcards are
//
// 1. %, represents zero, one or more sequences of any characters
// 2. _, represents exactly one character
// 3. an optional escape character makes the next character literal
//
// Matching is case insensitive, as the default LIKE of most SQL engines.
//
// ----------------------------------------------------------------------------

func LikeToRegex(
	input string,
	escape rune,
) string {
	buf := strings.Builder{}
	buf.WriteString("(?is)^")

	l := len(input)
	for i := 0; i < l; {
		c, sz := utf8.DecodeRuneInString(input[i:])
		if c == utf8.RuneError {
			i++
			continue // skip it
		}
		i += sz

		switch {
		case escape != 0 && c == escape:
			if i < l {
				n, nsz := utf8.DecodeRuneInString(input[i:])
				buf.WriteString(regexp.QuoteMeta(string(n)))
				i += nsz
			}
		case c == '%':
			buf.WriteString(".*")
		case c == '_':
			buf.WriteString(".")
		default:
			buf.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	buf.WriteString("$")
	return buf.String()
}

var likeCache = struct {
	sync.Mutex
	m map[string]*regexp.Regexp
}{
	m: make(map[string]*regexp.Regexp),
}

func likeMatch(pattern, value string, escape rune) bool {
	key := string(escape) + "\x00" + pattern

	likeCache.Lock()
	re, ok := likeCache.m[key]
	if !ok {
		re = regexp.MustCompile(LikeToRegex(pattern, escape))
		likeCache.m[key] = re
	}
	likeCache.Unlock()

	return re.MatchString(value)
}
