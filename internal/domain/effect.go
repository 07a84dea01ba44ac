package domain

// SideEffectRequest is the structured data extracted from a triggering turn.
// It lives only for the duration of one dispatch.
type SideEffectRequest struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields"`
	// Missing lists required fields that were absent after normalization.
	Missing []string `json:"missing,omitempty"`
}

// Get returns the normalized value of a field.
func (r *SideEffectRequest) Get(key string) (string, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// WellFormed reports whether every required field was present.
func (r *SideEffectRequest) WellFormed() bool {
	return len(r.Missing) == 0
}
