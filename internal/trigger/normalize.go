package trigger

import (
	"fmt"
	"strings"
)

// Normalizer cleans a captured field value.
type Normalizer func(string) string

const quoteChars = "\"'`“”‘’«»"

var normalizers = map[string]Normalizer{
	"collapse_whitespace": func(s string) string {
		return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	},
	"trim_quotes": func(s string) string {
		return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), quoteChars))
	},
	"strip_markdown": func(s string) string {
		return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*_"))
	},
	"strip_dollar": func(s string) string {
		return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// defaultPipeline applies to every field before its own normalizers.
var defaultPipeline = []string{"collapse_whitespace", "strip_markdown", "trim_quotes"}

// Chain composes the default pipeline with the named normalizers.
func Chain(names ...string) (Normalizer, error) {
	steps := make([]Normalizer, 0, len(defaultPipeline)+len(names))
	for _, name := range append(append([]string(nil), defaultPipeline...), names...) {
		n, ok := normalizers[name]
		if !ok {
			return nil, fmt.Errorf("unknown normalizer %q", name)
		}
		steps = append(steps, n)
	}
	return func(s string) string {
		for _, step := range steps {
			s = step(s)
		}
		return s
	}, nil
}
