package normalize

import "vendorbox/internal/codec"

// FlatView is a single-level mapping of vendor attributes and field
// identifiers to coerced values.
type FlatView map[string]interface{}

// Missing marks a required field that has no value in formData. It is
// distinct from every coerced default.
type Missing struct{}

// MissingValue is the marker stored in flat views.
var MissingValue = Missing{}

const missingKey = "$missing"

var missingJSON = []byte(`{"` + missingKey + `":true}`)

func (Missing) MarshalJSON() ([]byte, error) {
	return missingJSON, nil
}

// IsMissing reports whether v is the missing marker, either as the Go value
// or in its decoded JSON form.
func IsMissing(v interface{}) bool {
	switch m := v.(type) {
	case Missing:
		return true
	case *Missing:
		return m != nil
	case map[string]interface{}:
		flag, ok := m[missingKey].(bool)
		return ok && flag && len(m) == 1
	}
	return false
}

// UnmarshalJSON decodes a flat view, turning encoded markers back into
// MissingValue. Numbers keep float64 form.
func (f *FlatView) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := codec.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FlatView, len(raw))
	for k, v := range raw {
		if IsMissing(v) {
			out[k] = MissingValue
			continue
		}
		out[k] = v
	}
	*f = out
	return nil
}
