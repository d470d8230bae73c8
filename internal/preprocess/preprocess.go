// Package preprocess transforms author-facing template text before it is
// compiled. A site opts in with its preprocess switch; the page keeps its
// original source either way.
package preprocess

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Preprocessor rewrites template text.
type Preprocessor interface {
	Preprocess(text string) (string, error)
}

// Func adapts a plain function to the Preprocessor interface.
type Func func(text string) (string, error)

// Preprocess calls f.
func (f Func) Preprocess(text string) (string, error) {
	return f(text)
}

// Chain runs preprocessors in order, feeding each the previous output.
// An empty chain returns its input unchanged.
type Chain []Preprocessor

// Preprocess implements Preprocessor.
func (c Chain) Preprocess(text string) (string, error) {
	out := text
	for i, p := range c {
		var err error
		out, err = p.Preprocess(out)
		if err != nil {
			return "", fmt.Errorf("preprocessor %d: %w", i, err)
		}
	}
	return out, nil
}

// Default is the preprocessor used when a site enables preprocessing.
func Default() Preprocessor {
	return Chain{Normalize(), FrontMatter()}
}

// Normalize converts text to Unicode NFC and unifies line endings to "\n".
func Normalize() Preprocessor {
	return Func(func(text string) (string, error) {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
		return norm.NFC.String(text), nil
	})
}

const frontMatterDelim = "---"

// FrontMatter strips a leading YAML front matter block. Malformed YAML is an
// error so that it surfaces as a compile failure instead of page content.
func FrontMatter() Preprocessor {
	return Func(func(text string) (string, error) {
		_, body, err := ParseFrontMatter(text)
		return body, err
	})
}

// ParseFrontMatter splits text into its YAML front matter and body. Text
// without front matter yields a nil map and the text unchanged.
func ParseFrontMatter(text string) (map[string]interface{}, string, error) {
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, text, nil
	}

	rest := text[len(frontMatterDelim)+1:]
	var header, body string
	switch {
	case strings.HasPrefix(rest, frontMatterDelim+"\n"):
		body = rest[len(frontMatterDelim)+1:]
	case rest == frontMatterDelim:
	default:
		end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
		if end < 0 {
			if !strings.HasSuffix(rest, "\n"+frontMatterDelim) {
				return nil, "", fmt.Errorf("front matter is not closed with %q", frontMatterDelim)
			}
			header = strings.TrimSuffix(rest, "\n"+frontMatterDelim)
		} else {
			header = rest[:end]
			body = rest[end+len(frontMatterDelim)+2:]
		}
	}

	meta := map[string]interface{}{}
	if strings.TrimSpace(header) != "" {
		if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
			return nil, "", fmt.Errorf("invalid front matter: %w", err)
		}
	}
	return meta, body, nil
}
