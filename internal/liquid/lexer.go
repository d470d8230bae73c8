package liquid

import (
	"regexp"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenVariable
	tokenTag
)

type token struct {
	kind  tokenKind
	value string
	line  int
}

var endRawPattern = regexp.MustCompile(`\{%\s*endraw\s*%\}`)

// tokenize splits source into text, {{ variable }} and {% tag %} tokens.
// The body of a {% raw %} tag is emitted as a single text token.
func tokenize(source string) ([]token, error) {
	tokens := make([]token, 0, 16)
	line := 1
	pos := 0

	for pos < len(source) {
		start := nextDelimiter(source, pos)
		if start < 0 {
			tokens = append(tokens, token{kind: tokenText, value: source[pos:], line: line})
			break
		}

		if start > pos {
			text := source[pos:start]
			tokens = append(tokens, token{kind: tokenText, value: text, line: line})
			line += strings.Count(text, "\n")
		}

		if strings.HasPrefix(source[start:], "{{") {
			end := strings.Index(source[start+2:], "}}")
			if end < 0 {
				return nil, syntaxErrorf(line, "Variable '{{' was not properly terminated with '}}'")
			}
			inner := source[start+2 : start+2+end]
			tokens = append(tokens, token{kind: tokenVariable, value: strings.TrimSpace(inner), line: line})
			line += strings.Count(inner, "\n")
			pos = start + 2 + end + 2
			continue
		}

		end := strings.Index(source[start+2:], "%}")
		if end < 0 {
			return nil, syntaxErrorf(line, "Tag '{%%' was not properly terminated with '%%}'")
		}
		inner := source[start+2 : start+2+end]
		tagLine := line
		line += strings.Count(inner, "\n")
		pos = start + 2 + end + 2

		trimmed := strings.TrimSpace(inner)
		if trimmed == "raw" {
			loc := endRawPattern.FindStringIndex(source[pos:])
			if loc == nil {
				return nil, syntaxErrorf(tagLine, "'raw' tag was never closed")
			}
			raw := source[pos : pos+loc[0]]
			if raw != "" {
				tokens = append(tokens, token{kind: tokenText, value: raw, line: line})
			}
			line += strings.Count(source[pos:pos+loc[1]], "\n")
			pos += loc[1]
			continue
		}

		tokens = append(tokens, token{kind: tokenTag, value: trimmed, line: tagLine})
	}

	return tokens, nil
}

func nextDelimiter(source string, from int) int {
	rest := source[from:]
	v := strings.Index(rest, "{{")
	t := strings.Index(rest, "{%")
	switch {
	case v < 0 && t < 0:
		return -1
	case v < 0:
		return from + t
	case t < 0:
		return from + v
	case v < t:
		return from + v
	default:
		return from + t
	}
}

// splitTag separates the tag name from its markup at the first whitespace.
func splitTag(value string) (string, string) {
	i := strings.IndexFunc(value, unicode.IsSpace)
	if i < 0 {
		return value, ""
	}
	return value[:i], strings.TrimSpace(value[i:])
}

// unquote accepts 'value' or "value" and returns the inner text.
func unquote(markup string) (string, bool) {
	if len(markup) < 2 {
		return "", false
	}
	q := markup[0]
	if (q != '\'' && q != '"') || markup[len(markup)-1] != q {
		return "", false
	}
	inner := markup[1 : len(markup)-1]
	if inner == "" || strings.ContainsRune(inner, rune(q)) {
		return "", false
	}
	return inner, true
}
