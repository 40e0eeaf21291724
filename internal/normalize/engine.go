// Package normalize reconciles vendor formData against a schema snapshot.
//
// Normalize flattens a vendor record into a FlatView with one coerced value
// per applicable field; it never fails, degrading unparseable values to
// type defaults and reporting each substitution to an Observer.
// Denormalize is the inverse: it reduces an edited FlatView to the minimal
// PartialUpdate against the original formData, or a ValidationError that
// lists every violated rule.
package normalize

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"vendorbox/internal/model"
	"vendorbox/internal/schema"
)

// Event describes a value that could not be parsed to its declared type
// and was replaced by a default.
type Event struct {
	VendorID string
	Field    string
	Type     model.FieldType
	Raw      interface{}
	Reason   string
}

// Observer receives coercion events. Implementations must be safe for
// concurrent use.
type Observer interface {
	CoercionDefaulted(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) CoercionDefaulted(e Event) { f(e) }

// Observers fans an event out to several observers
type Observers []Observer

func (o Observers) CoercionDefaulted(e Event) {
	for _, obs := range o {
		obs.CoercionDefaulted(e)
	}
}

// Engine is stateless apart from its observer and may be shared.
type Engine struct {
	observer Observer
}

// NewEngine creates an engine. A nil observer discards events.
func NewEngine(observer Observer) *Engine {
	return &Engine{observer: observer}
}

func (e *Engine) report(ev Event) {
	if e.observer != nil {
		e.observer.CoercionDefaulted(ev)
	}
}

// Normalize flattens a vendor record against one snapshot.
func (e *Engine) Normalize(snap *schema.Snapshot, v model.Vendor) FlatView {
	flat := make(FlatView, len(v.FormData)+len(schema.ReservedKeys))

	// Unknown keys pass through untouched; schema fields are overwritten below.
	for k, raw := range v.FormData {
		if schema.ReservedKeys[k] {
			e.report(Event{VendorID: v.ID, Field: k, Raw: raw, Reason: "shadowed by vendor attribute"})
			continue
		}
		if ListKeys[k] {
			list, reason := toList(raw)
			if reason != "" {
				e.report(Event{VendorID: v.ID, Field: k, Type: model.FieldMultiEnum, Raw: raw, Reason: reason})
			}
			flat[k] = list
			continue
		}
		flat[k] = raw
	}
	for k := range ListKeys {
		if _, ok := flat[k]; !ok {
			flat[k] = []string{}
		}
	}

	for _, f := range snap.ApplicableFields(v.VendorType) {
		flat[f.ID] = e.current(f, v)
	}

	flat["id"] = v.ID
	flat["vendorType"] = v.VendorType
	flat["status"] = string(v.Status)
	flat["latitude"] = v.Latitude
	flat["longitude"] = v.Longitude
	flat["agentId"] = v.AgentID
	flat["createdAt"] = formatTime(v.CreatedAt)
	flat["updatedAt"] = formatTime(v.UpdatedAt)
	return flat
}

// current is the normalized value of one field in a record.
func (e *Engine) current(f model.Field, v model.Vendor) interface{} {
	raw, present := v.FormData[f.ID]
	if !present || raw == nil {
		if f.Required && f.Type != model.FieldMultiEnum {
			return MissingValue
		}
		return defaultFor(f.Type)
	}
	val, reason := lenient(f.Type, raw)
	if reason != "" {
		e.report(Event{VendorID: v.ID, Field: f.ID, Type: f.Type, Raw: raw, Reason: reason})
	}
	return val
}

// Denormalize reduces an edited flat view to the fields whose coerced value
// differs from the original record, in storage shape. Keys absent from the
// view, missing markers, vendor attributes and non-schema keys are treated
// as unchanged. Nothing is returned unless every edited field is valid.
func (e *Engine) Denormalize(snap *schema.Snapshot, flat FlatView, original model.Vendor) (model.PartialUpdate, error) {
	update := model.PartialUpdate{}
	verr := &model.ValidationError{}

	quiet := &Engine{}
	for _, f := range snap.ApplicableFields(original.VendorType) {
		edited, ok := flat[f.ID]
		if !ok || IsMissing(edited) {
			continue
		}
		cur := quiet.current(f, original)
		if sameValue(edited, cur) {
			continue
		}
		stored, violations := strict(f, edited)
		if len(violations) > 0 {
			verr.Violations = append(verr.Violations, violations...)
			continue
		}

		cmp := stored
		if cmp == nil {
			cmp = defaultFor(f.Type)
		}
		if reflect.DeepEqual(cmp, cur) {
			continue
		}
		update[f.ID] = stored
	}

	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return update, nil
}

// Revalidate re-checks stored changes against a newer snapshot, required
// rules included. Fields that no longer apply to the vendor type are
// skipped.
func (e *Engine) Revalidate(snap *schema.Snapshot, changes model.PartialUpdate, vendorType string) error {
	verr := &model.ValidationError{}
	for _, f := range snap.ApplicableFields(vendorType) {
		stored, ok := changes[f.ID]
		if !ok {
			continue
		}
		if _, violations := strict(f, stored); len(violations) > 0 {
			verr.Violations = append(verr.Violations, violations...)
		}
	}
	if len(verr.Violations) > 0 {
		return verr
	}
	return nil
}

// strict coerces an edited value to its storage shape and checks the
// field's rules. A nil result with no violations clears an optional field.
func strict(f model.Field, edited interface{}) (interface{}, []model.Violation) {
	violation := func(rule, msg string) model.Violation {
		return model.Violation{Field: f.ID, Rule: rule, Value: edited, Message: msg}
	}

	if isEmpty(edited) {
		if f.Required {
			return nil, []model.Violation{violation("required", "is required")}
		}
		if f.Type == model.FieldMultiEnum {
			return []string{}, nil
		}
		return nil, nil
	}

	r := f.Rules
	var out []model.Violation
	switch f.Type {
	case model.FieldNumber, model.FieldGeo, model.FieldCurrency:
		if _, ok := edited.(bool); ok {
			return nil, []model.Violation{violation("type", "must be a number")}
		}
		n, err := toFloat(edited)
		if err != nil {
			return nil, []model.Violation{violation("type", "must be a number")}
		}
		if f.Type == model.FieldCurrency {
			n = roundCents(n)
		}
		if r.Min != nil && n < *r.Min {
			out = append(out, violation("min", fmt.Sprintf("must be at least %v", *r.Min)))
		}
		if r.Max != nil && n > *r.Max {
			out = append(out, violation("max", fmt.Sprintf("must be at most %v", *r.Max)))
		}
		return n, out

	case model.FieldBoolean:
		switch edited.(type) {
		case bool, string:
		default:
			return nil, []model.Violation{violation("type", "must be true or false")}
		}
		b, err := toBool(edited)
		if err != nil {
			return nil, []model.Violation{violation("type", "must be true or false")}
		}
		return b, nil

	case model.FieldMultiEnum:
		var items []interface{}
		switch v := edited.(type) {
		case []interface{}:
			items = v
		case []string:
			for _, s := range v {
				items = append(items, s)
			}
		default:
			return nil, []model.Violation{violation("type", "must be a list")}
		}
		list := make([]string, 0, len(items))
		var bad []string
		for _, item := range items {
			s, err := toText(item)
			if err != nil || item == nil {
				return nil, []model.Violation{violation("type", "must be a list of strings")}
			}
			if len(r.Options) > 0 && !contains(r.Options, s) {
				bad = append(bad, s)
			}
			list = append(list, s)
		}
		if len(bad) > 0 {
			out = append(out, violation("enum", fmt.Sprintf("%s not in %s", strings.Join(bad, ", "), strings.Join(r.Options, ", "))))
		}
		return list, out

	default:
		var s string
		var err error
		if f.Type == model.FieldImage {
			s, err = toImageURL(edited)
		} else {
			s, err = toText(edited)
		}
		if err != nil {
			return nil, []model.Violation{violation("type", "must be text")}
		}
		n := utf8.RuneCountInString(s)
		if r.MinLength != nil && n < *r.MinLength {
			out = append(out, violation("minLength", fmt.Sprintf("must be at least %d characters", *r.MinLength)))
		}
		if r.MaxLength != nil && n > *r.MaxLength {
			out = append(out, violation("maxLength", fmt.Sprintf("must be at most %d characters", *r.MaxLength)))
		}
		if r.Pattern != "" {
			if re, err := regexp.Compile(r.Pattern); err == nil && !re.MatchString(s) {
				out = append(out, violation("pattern", "does not match "+r.Pattern))
			}
		}
		if f.Type == model.FieldEnum && len(r.Options) > 0 && !contains(r.Options, s) {
			out = append(out, violation("enum", "must be one of "+strings.Join(r.Options, ", ")))
		}
		return s, out
	}
}

// sameValue compares an edited value with a normalized one, treating a
// decoded JSON list of strings as equal to the same []string.
func sameValue(edited, cur interface{}) bool {
	if reflect.DeepEqual(edited, cur) {
		return true
	}
	curList, ok := cur.([]string)
	if !ok {
		return false
	}
	items, ok := edited.([]interface{})
	if !ok || len(items) != len(curList) {
		return false
	}
	for i, item := range items {
		if s, ok := item.(string); !ok || s != curList[i] {
			return false
		}
	}
	return true
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []interface{}:
		return len(x) == 0
	case []string:
		return len(x) == 0
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
