package trigger

// DefaultKind is the detector used when a scenario names none.
const DefaultKind = "asset"

// Registry holds one detector per scenario category.
type Registry struct {
	detectors map[string]*Detector
}

// NewRegistry compiles defs. Later definitions replace earlier ones of the same kind.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{detectors: make(map[string]*Detector, len(defs))}
	for _, def := range defs {
		d, err := New(def)
		if err != nil {
			return nil, err
		}
		r.detectors[d.Kind()] = d
	}
	return r, nil
}

// For returns the detector for kind, or the default detector when kind is empty.
func (r *Registry) For(kind string) (*Detector, bool) {
	if kind == "" {
		kind = DefaultKind
	}
	d, ok := r.detectors[kind]
	return d, ok
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.detectors))
	for k := range r.detectors {
		out = append(out, k)
	}
	return out
}

// DefaultDefinitions returns the built-in asset creation detector.
func DefaultDefinitions() []Definition {
	return []Definition{{
		Kind: DefaultKind,
		Phrases: []string{
			"I am going to create this token",
			"[[CREATE_TOKEN]]",
		},
		Instructions: "If you decide to launch a token, write the exact sentence " +
			"\"I am going to create this token\" followed by these lines:\n" +
			"Name: <token name>\nTicker: <ticker symbol>\nDescription: <one paragraph>\n" +
			"Image Description: <optional description of the token image>",
		Fields: []FieldSpec{
			{Key: "name", Labels: []string{"Name", "Token Name", "Coin Name"}, Required: true},
			{Key: "ticker", Labels: []string{"Ticker", "Symbol"}, Required: true, Normalize: []string{"strip_dollar", "upper"}},
			{Key: "description", Labels: []string{"Description"}, Required: true},
			{Key: "image_description", Labels: []string{"Image Description", "Image"}},
		},
	}}
}
