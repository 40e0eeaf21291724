package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"vendorbox/internal/codec"
	"vendorbox/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiler turns snapshots into JSON Schemas describing the storage shape
// of formData values and validates partial updates against them.
type Compiler struct {
	cache *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a new compiler with cache
func NewCompilerWithCache(maxSize int) *Compiler {
	return &Compiler{
		cache: expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}
}

// StorageSchema returns the JSON Schema of a formData partial update for the
// snapshot. No property is required; unknown keys are allowed.
func StorageSchema(snap *Snapshot) map[string]interface{} {
	props := make(map[string]interface{}, len(snap.byID))
	for _, f := range snap.AllFields() {
		props[f.ID] = fieldSchema(f)
	}
	return map[string]interface{}{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"title":                fmt.Sprintf("formData v%d", snap.Version()),
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
}

func fieldSchema(f model.Field) map[string]interface{} {
	out := map[string]interface{}{"title": f.Label}
	r := f.Rules
	switch f.Type {
	case model.FieldNumber, model.FieldCurrency, model.FieldGeo:
		out["type"] = []string{"number", "null"}
		if r.Min != nil {
			out["minimum"] = *r.Min
		}
		if r.Max != nil {
			out["maximum"] = *r.Max
		}
	case model.FieldBoolean:
		out["type"] = []string{"boolean", "null"}
	case model.FieldMultiEnum:
		items := map[string]interface{}{"type": "string"}
		if len(r.Options) > 0 {
			items["enum"] = r.Options
		}
		out["type"] = []string{"array", "null"}
		out["items"] = items
	default:
		out["type"] = []string{"string", "null"}
		if r.MinLength != nil {
			out["minLength"] = *r.MinLength
		}
		if r.MaxLength != nil {
			out["maxLength"] = *r.MaxLength
		}
		if r.Pattern != "" {
			out["pattern"] = r.Pattern
		}
		if f.Type == model.FieldEnum && len(r.Options) > 0 {
			enum := make([]interface{}, 0, len(r.Options)+1)
			for _, o := range r.Options {
				enum = append(enum, o)
			}
			out["enum"] = append(enum, nil)
		}
	}
	return out
}

// Prepare compiles and caches the storage schema of a snapshot
func (c *Compiler) Prepare(ctx context.Context, snap *Snapshot) (*js.Schema, error) {
	doc := StorageSchema(snap)
	schemaBytes, err := codec.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	key := string(schemaBytes)
	if compiled, ok := c.cache.Get(key); ok {
		return compiled, nil
	}

	hash := sha256.Sum256(schemaBytes)
	resourceURL := fmt.Sprintf("mem://formdata/%d-%x.json", snap.Version(), hash[:8])
	compiler := js.NewCompiler()
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schemaBytes)); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(key, compiled)
	return compiled, nil
}

// ValidateUpdate checks a partial update against the snapshot's storage
// schema. Rule failures are reported as a *model.ValidationError listing
// every offending field.
func (c *Compiler) ValidateUpdate(ctx context.Context, snap *Snapshot, update model.PartialUpdate) error {
	compiled, err := c.Prepare(ctx, snap)
	if err != nil {
		return err
	}

	// Round-trip through JSON so Go slices and ints take their JSON shapes
	valueBytes, err := codec.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	var valueRaw interface{}
	if err := codec.Unmarshal(valueBytes, &valueRaw); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	err = compiled.Validate(valueRaw)
	if err == nil {
		return nil
	}
	var ve *js.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validation failed: %w", err)
	}

	verr := &model.ValidationError{}
	seen := make(map[string]bool)
	for _, leaf := range leaves(ve) {
		field := strings.SplitN(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", 2)[0]
		rule := leaf.KeywordLocation[strings.LastIndex(leaf.KeywordLocation, "/")+1:]
		if seen[field+"/"+rule] {
			continue
		}
		seen[field+"/"+rule] = true
		verr.Violations = append(verr.Violations, model.Violation{
			Field:   field,
			Rule:    rule,
			Value:   update[field],
			Message: leaf.Message,
		})
	}
	return verr
}

func leaves(ve *js.ValidationError) []*js.ValidationError {
	if len(ve.Causes) == 0 {
		return []*js.ValidationError{ve}
	}
	var out []*js.ValidationError
	for _, cause := range ve.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}
