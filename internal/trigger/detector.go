// Package trigger detects in-band side-effect intents in generated text.
//
// Detectors are data: a Definition lists the trigger phrases (or patterns)
// and the labeled fields to extract, so new side-effect kinds need no code.
package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/backroom/internal/domain"
)

// FieldSpec declares one labeled field of a side-effect request.
type FieldSpec struct {
	Key       string   `yaml:"key" json:"key"`
	Labels    []string `yaml:"labels" json:"labels"`
	Required  bool     `yaml:"required" json:"required"`
	Normalize []string `yaml:"normalize,omitempty" json:"normalize,omitempty"`
}

// Definition describes a detector.
type Definition struct {
	Kind         string      `yaml:"kind" json:"kind"`
	Phrases      []string    `yaml:"phrases" json:"phrases"`
	Patterns     []string    `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Instructions string      `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Fields       []FieldSpec `yaml:"fields" json:"fields"`
}

type compiledField struct {
	spec       FieldSpec
	labels     map[string]struct{}
	normalizer Normalizer
}

// Detector matches trigger phrases and extracts labeled fields.
type Detector struct {
	def      Definition
	matchers []*regexp.Regexp
	fields   []compiledField
}

// labelLine matches "Label: value" with optional list markers and bold markup.
var labelLine = regexp.MustCompile(`^\s*(?:[-*•>#]+\s*)*(?:\*\*|__)?\s*([\p{L}][\p{L}\p{N} _-]*?)\s*(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.*)$`)

var spaceRun = regexp.MustCompile(`\s+`)

// New compiles a definition.
func New(def Definition) (*Detector, error) {
	if strings.TrimSpace(def.Kind) == "" {
		return nil, fmt.Errorf("trigger definition: kind is required")
	}
	if len(def.Phrases) == 0 && len(def.Patterns) == 0 {
		return nil, fmt.Errorf("trigger %q: at least one phrase or pattern is required", def.Kind)
	}

	d := &Detector{def: def}
	for _, phrase := range def.Phrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		parts := strings.Fields(phrase)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		d.matchers = append(d.matchers, regexp.MustCompile(`(?i)`+strings.Join(parts, `\s+`)))
	}
	for _, pattern := range def.Patterns {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: compile pattern %q: %w", def.Kind, pattern, err)
		}
		d.matchers = append(d.matchers, re)
	}
	if len(d.matchers) == 0 {
		return nil, fmt.Errorf("trigger %q: no usable phrase or pattern", def.Kind)
	}

	seen := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if f.Key == "" || len(f.Labels) == 0 {
			return nil, fmt.Errorf("trigger %q: field needs a key and at least one label", def.Kind)
		}
		if seen[f.Key] {
			return nil, fmt.Errorf("trigger %q: duplicate field %q", def.Kind, f.Key)
		}
		seen[f.Key] = true

		norm, err := Chain(f.Normalize...)
		if err != nil {
			return nil, fmt.Errorf("trigger %q field %q: %w", def.Kind, f.Key, err)
		}
		cf := compiledField{spec: f, labels: make(map[string]struct{}, len(f.Labels)), normalizer: norm}
		for _, l := range f.Labels {
			cf.labels[canonicalLabel(l)] = struct{}{}
		}
		d.fields = append(d.fields, cf)
	}
	return d, nil
}

// Kind returns the side-effect kind handled by the detector.
func (d *Detector) Kind() string { return d.def.Kind }

// Instructions returns the prompt text appended when side effects are enabled.
func (d *Detector) Instructions() string { return d.def.Instructions }

// Match reports whether text contains any trigger phrase.
func (d *Detector) Match(text string) bool {
	for _, re := range d.matchers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Extract scans text line by line for labeled fields. The first occurrence
// of a label wins. Required fields that end up empty are listed in Missing.
func (d *Detector) Extract(text string) domain.SideEffectRequest {
	req := domain.SideEffectRequest{Kind: d.def.Kind, Fields: make(map[string]string)}

	for _, line := range strings.Split(text, "\n") {
		m := labelLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := canonicalLabel(m[1])
		for _, f := range d.fields {
			if _, ok := f.labels[label]; !ok {
				continue
			}
			if _, done := req.Fields[f.spec.Key]; done {
				break
			}
			if v := f.normalizer(m[2]); v != "" {
				req.Fields[f.spec.Key] = v
			}
			break
		}
	}

	for _, f := range d.fields {
		if f.spec.Required && req.Fields[f.spec.Key] == "" {
			req.Missing = append(req.Missing, f.spec.Key)
		}
	}
	return req
}

// Detect runs Match and, on a hit, Extract.
func (d *Detector) Detect(text string) (domain.SideEffectRequest, bool) {
	if !d.Match(text) {
		return domain.SideEffectRequest{}, false
	}
	return d.Extract(text), true
}

func canonicalLabel(label string) string {
	return strings.ToLower(spaceRun.ReplaceAllString(strings.TrimSpace(label), " "))
}
