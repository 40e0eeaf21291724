package schema

import (
	"fmt"
	"regexp"

	"vendorbox/internal/model"

	"github.com/oklog/ulid/v2"
)

var fieldIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// SectionInput carries the mutable attributes of a section
type SectionInput struct {
	Label       string       `json:"label"`
	VisibleTo   []model.Role `json:"visibleTo,omitempty"`
	VendorTypes []string     `json:"vendorTypes,omitempty"`
}

// FieldInput carries the attributes of a field. ID is only read on create;
// an empty SectionID on update keeps the field where it is.
type FieldInput struct {
	ID          string          `json:"id"`
	SectionID   string          `json:"sectionId,omitempty"`
	Label       string          `json:"label"`
	Type        model.FieldType `json:"type"`
	Required    bool            `json:"required"`
	Rules       model.Rules     `json:"rules"`
	VendorTypes []string        `json:"vendorTypes,omitempty"`
}

// CreateSection appends a section after the current last one.
func (s *Snapshot) CreateSection(in SectionInput) (*Snapshot, model.Section, error) {
	if in.Label == "" {
		return nil, model.Section{}, fmt.Errorf("%w: section label is required", model.ErrInvalidInput)
	}
	sec := model.Section{
		ID:          ulid.Make().String(),
		Label:       in.Label,
		Order:       s.nextSectionOrder(),
		VisibleTo:   in.VisibleTo,
		VendorTypes: in.VendorTypes,
	}
	next, err := s.rebuild(append(s.Sections(), sec), s.AllFields())
	if err != nil {
		return nil, model.Section{}, err
	}
	return next, sec, nil
}

// UpdateSection replaces a section's label, visibility and vendor types.
func (s *Snapshot) UpdateSection(id string, in SectionInput) (*Snapshot, error) {
	if in.Label == "" {
		return nil, fmt.Errorf("%w: section label is required", model.ErrInvalidInput)
	}
	sections := s.Sections()
	idx := indexOfSection(sections, id)
	if idx < 0 {
		return nil, fmt.Errorf("section %s: %w", id, model.ErrNotFound)
	}
	sections[idx].Label = in.Label
	sections[idx].VisibleTo = in.VisibleTo
	sections[idx].VendorTypes = in.VendorTypes
	return s.rebuild(sections, s.AllFields())
}

// DeleteSection removes a section after explicitly removing its fields.
// It returns the identifiers of the removed fields; formData entries keyed
// by them become passthrough data.
func (s *Snapshot) DeleteSection(id string) (*Snapshot, []string, error) {
	if _, ok := s.Section(id); !ok {
		return nil, nil, fmt.Errorf("section %s: %w", id, model.ErrNotFound)
	}

	removed := make([]string, 0, len(s.fields[id]))
	fields := s.AllFields()
	kept := fields[:0]
	for _, f := range fields {
		if f.SectionID == id {
			removed = append(removed, f.ID)
			continue
		}
		kept = append(kept, f)
	}

	sections := s.Sections()
	idx := indexOfSection(sections, id)
	sections = append(sections[:idx], sections[idx+1:]...)

	next, err := s.rebuild(sections, kept)
	if err != nil {
		return nil, nil, err
	}
	return next, removed, nil
}

// ReorderSections assigns order = position (1-based) to the given complete
// list of section identifiers.
func (s *Snapshot) ReorderSections(ids []string) (*Snapshot, error) {
	sections := s.Sections()
	current := make([]string, 0, len(sections))
	for _, sec := range sections {
		current = append(current, sec.ID)
	}
	if err := checkPermutation(current, ids); err != nil {
		return nil, fmt.Errorf("reorder sections: %w", err)
	}

	pos := positions(ids)
	for i := range sections {
		sections[i].Order = pos[sections[i].ID]
	}
	return s.rebuild(sections, s.AllFields())
}

// CreateField appends a field to the end of a section.
func (s *Snapshot) CreateField(sectionID string, in FieldInput) (*Snapshot, model.Field, error) {
	if _, ok := s.Section(sectionID); !ok {
		return nil, model.Field{}, fmt.Errorf("section %s: %w", sectionID, model.ErrNotFound)
	}
	if !fieldIDPattern.MatchString(in.ID) {
		return nil, model.Field{}, fmt.Errorf("%w: field id %q must start with a letter and contain only letters, digits and underscores", model.ErrInvalidInput, in.ID)
	}
	if ReservedKeys[in.ID] {
		return nil, model.Field{}, fmt.Errorf("%w: field id %q is a reserved vendor attribute", model.ErrInvalidInput, in.ID)
	}
	if _, dup := s.byID[in.ID]; dup {
		return nil, model.Field{}, fmt.Errorf("%w: field %s already exists", model.ErrInvalidInput, in.ID)
	}
	if err := checkFieldInput(in); err != nil {
		return nil, model.Field{}, err
	}

	f := model.Field{
		ID:          in.ID,
		SectionID:   sectionID,
		Label:       in.Label,
		Type:        in.Type,
		Order:       s.nextFieldOrder(sectionID),
		Required:    in.Required,
		Rules:       in.Rules,
		VendorTypes: in.VendorTypes,
	}
	next, err := s.rebuild(s.Sections(), append(s.AllFields(), f))
	if err != nil {
		return nil, model.Field{}, err
	}
	return next, f, nil
}

// UpdateField replaces a field's mutable attributes. Moving it to another
// section appends it there.
func (s *Snapshot) UpdateField(id string, in FieldInput) (*Snapshot, error) {
	if _, ok := s.byID[id]; !ok {
		return nil, fmt.Errorf("field %s: %w", id, model.ErrNotFound)
	}
	if err := checkFieldInput(in); err != nil {
		return nil, err
	}

	fields := s.AllFields()
	for i := range fields {
		if fields[i].ID != id {
			continue
		}
		if in.SectionID != "" && in.SectionID != fields[i].SectionID {
			if _, ok := s.Section(in.SectionID); !ok {
				return nil, fmt.Errorf("section %s: %w", in.SectionID, model.ErrNotFound)
			}
			fields[i].SectionID = in.SectionID
			fields[i].Order = s.nextFieldOrder(in.SectionID)
		}
		fields[i].Label = in.Label
		fields[i].Type = in.Type
		fields[i].Required = in.Required
		fields[i].Rules = in.Rules
		fields[i].VendorTypes = in.VendorTypes
	}
	return s.rebuild(s.Sections(), fields)
}

// DeleteField removes a single field.
func (s *Snapshot) DeleteField(id string) (*Snapshot, error) {
	if _, ok := s.byID[id]; !ok {
		return nil, fmt.Errorf("field %s: %w", id, model.ErrNotFound)
	}
	fields := s.AllFields()
	kept := fields[:0]
	for _, f := range fields {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	return s.rebuild(s.Sections(), kept)
}

// ReorderFields assigns order = position to the complete list of field
// identifiers of one section.
func (s *Snapshot) ReorderFields(sectionID string, ids []string) (*Snapshot, error) {
	if _, ok := s.Section(sectionID); !ok {
		return nil, fmt.Errorf("section %s: %w", sectionID, model.ErrNotFound)
	}
	current := make([]string, 0, len(s.fields[sectionID]))
	for _, f := range s.fields[sectionID] {
		current = append(current, f.ID)
	}
	if err := checkPermutation(current, ids); err != nil {
		return nil, fmt.Errorf("reorder fields of %s: %w", sectionID, err)
	}

	pos := positions(ids)
	fields := s.AllFields()
	for i := range fields {
		if fields[i].SectionID == sectionID {
			fields[i].Order = pos[fields[i].ID]
		}
	}
	return s.rebuild(s.Sections(), fields)
}

func (s *Snapshot) rebuild(sections []model.Section, fields []model.Field) (*Snapshot, error) {
	return NewSnapshot(s.version+1, sections, fields)
}

func (s *Snapshot) nextSectionOrder() int {
	if len(s.sections) == 0 {
		return 1
	}
	return s.sections[len(s.sections)-1].Order + 1
}

func (s *Snapshot) nextFieldOrder(sectionID string) int {
	list := s.fields[sectionID]
	if len(list) == 0 {
		return 1
	}
	return list[len(list)-1].Order + 1
}

func checkFieldInput(in FieldInput) error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown field type %q", model.ErrInvalidInput, in.Type)
	}
	if in.Label == "" {
		return fmt.Errorf("%w: field label is required", model.ErrInvalidInput)
	}
	r := in.Rules
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("%w: min %v exceeds max %v", model.ErrInvalidInput, *r.Min, *r.Max)
	}
	if r.MinLength != nil && r.MaxLength != nil && *r.MinLength > *r.MaxLength {
		return fmt.Errorf("%w: minLength %d exceeds maxLength %d", model.ErrInvalidInput, *r.MinLength, *r.MaxLength)
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("%w: pattern: %v", model.ErrInvalidInput, err)
		}
	}
	if (in.Type == model.FieldEnum || in.Type == model.FieldMultiEnum) && len(r.Options) == 0 {
		return fmt.Errorf("%w: %s field needs options", model.ErrInvalidInput, in.Type)
	}
	return nil
}

func checkPermutation(current, ids []string) error {
	if len(current) != len(ids) {
		return fmt.Errorf("%w: expected %d identifiers, got %d", model.ErrInvalidInput, len(current), len(ids))
	}
	want := make(map[string]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	for _, id := range ids {
		if !want[id] {
			return fmt.Errorf("%w: unknown or repeated identifier %s", model.ErrInvalidInput, id)
		}
		delete(want, id)
	}
	return nil
}

func positions(ids []string) map[string]int {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i + 1
	}
	return pos
}

func indexOfSection(sections []model.Section, id string) int {
	for i, sec := range sections {
		if sec.ID == id {
			return i
		}
	}
	return -1
}
