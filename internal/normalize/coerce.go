package normalize

import (
	"fmt"
	"math"
	"strings"

	"vendorbox/internal/model"

	"github.com/spf13/cast"
)

// ListKeys are formData keys that always hold an ordered list of strings,
// whether or not the schema declares them.
var ListKeys = map[string]bool{
	"categories": true,
	"services":   true,
}

// imageURLKeys are the properties an uploaded-image object may carry its
// canonical URL under, in order of preference.
var imageURLKeys = []string{"secure_url", "secureUrl", "url"}

// lenient coerces a raw stored value to the display shape of t. The second
// return is a non-empty reason when a default had to be substituted.
func lenient(t model.FieldType, raw interface{}) (interface{}, string) {
	switch t {
	case model.FieldNumber, model.FieldGeo:
		f, err := toFloat(raw)
		if err != nil {
			return float64(0), err.Error()
		}
		return f, ""
	case model.FieldCurrency:
		f, err := toFloat(raw)
		if err != nil {
			return float64(0), err.Error()
		}
		return roundCents(f), ""
	case model.FieldBoolean:
		b, err := toBool(raw)
		if err != nil {
			return false, err.Error()
		}
		return b, ""
	case model.FieldMultiEnum:
		return toList(raw)
	case model.FieldImage:
		s, err := toImageURL(raw)
		if err != nil {
			return "", err.Error()
		}
		return s, ""
	default:
		s, err := toText(raw)
		if err != nil {
			return "", err.Error()
		}
		return s, ""
	}
}

// defaultFor is the value an optional field takes when it is absent.
func defaultFor(t model.FieldType) interface{} {
	switch t {
	case model.FieldNumber, model.FieldGeo, model.FieldCurrency:
		return float64(0)
	case model.FieldBoolean:
		return false
	case model.FieldMultiEnum:
		return []string{}
	default:
		return ""
	}
}

func toFloat(raw interface{}) (float64, error) {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		raw = s
	}
	switch raw.(type) {
	case map[string]interface{}, []interface{}:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected a finite number, got %v", f)
	}
	return f, nil
}

func toBool(raw interface{}) (bool, error) {
	if s, ok := raw.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off", "":
			return false, nil
		}
	}
	return cast.ToBoolE(raw)
}

func toText(raw interface{}) (string, error) {
	switch raw.(type) {
	case map[string]interface{}, []interface{}:
		return "", fmt.Errorf("expected text, got %T", raw)
	}
	return cast.ToStringE(raw)
}

func toImageURL(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		for _, k := range imageURLKeys {
			if s, ok := v[k].(string); ok && s != "" {
				return s, nil
			}
		}
		return "", fmt.Errorf("image object has no url property")
	default:
		return "", fmt.Errorf("expected an image url, got %T", raw)
	}
}

// toList accepts any array of scalars; non-scalar items are dropped. Anything
// else yields an empty list.
func toList(raw interface{}) ([]string, string) {
	var items []interface{}
	switch v := raw.(type) {
	case nil:
		return []string{}, ""
	case []string:
		return append([]string{}, v...), ""
	case []interface{}:
		items = v
	default:
		return []string{}, fmt.Sprintf("expected a list, got %T", raw)
	}

	out := make([]string, 0, len(items))
	dropped := 0
	for _, item := range items {
		s, err := toText(item)
		if err != nil || item == nil {
			dropped++
			continue
		}
		out = append(out, s)
	}
	if dropped > 0 {
		return out, fmt.Sprintf("dropped %d non-scalar list items", dropped)
	}
	return out, ""
}

func roundCents(f float64) float64 {
	return math.Round(f*100) / 100
}
