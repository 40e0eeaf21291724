package schema

import (
	"fmt"
	"sort"

	"vendorbox/internal/model"
)

// ReservedKeys are the fixed vendor attributes. Schema fields may not use
// them and formData entries under them never reach the flat view.
var ReservedKeys = map[string]bool{
	"id":         true,
	"_id":        true,
	"vendorType": true,
	"status":     true,
	"latitude":   true,
	"longitude":  true,
	"agentId":    true,
	"createdAt":  true,
	"updatedAt":  true,
}

// Snapshot is an immutable, versioned view of the form schema. All methods
// return copies; mutations produce a new Snapshot.
type Snapshot struct {
	version  int64
	sections []model.Section
	fields   map[string][]model.Field
	byID     map[string]model.Field
}

// Document is the persisted form of a snapshot
type Document struct {
	Version  int64             `json:"version"`
	Sections []SectionDocument `json:"sections"`
}

// SectionDocument is a section together with its ordered fields
type SectionDocument struct {
	model.Section
	Fields []model.Field `json:"fields"`
}

// Empty returns the version 0 snapshot with no sections.
func Empty() *Snapshot {
	return &Snapshot{
		fields: make(map[string][]model.Field),
		byID:   make(map[string]model.Field),
	}
}

// NewSnapshot builds a snapshot and checks its invariants: section ids and
// orders are unique, field ids are unique across the whole schema, field
// orders are unique within their section and every field's section exists.
func NewSnapshot(version int64, sections []model.Section, fields []model.Field) (*Snapshot, error) {
	s := &Snapshot{
		version:  version,
		sections: make([]model.Section, 0, len(sections)),
		fields:   make(map[string][]model.Field, len(sections)),
		byID:     make(map[string]model.Field, len(fields)),
	}

	orders := make(map[int]string, len(sections))
	for _, sec := range sections {
		if sec.ID == "" {
			return nil, fmt.Errorf("%w: section without id", model.ErrInvalidInput)
		}
		if _, dup := s.fields[sec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate section %s", model.ErrInvalidInput, sec.ID)
		}
		if other, dup := orders[sec.Order]; dup {
			return nil, fmt.Errorf("%w: sections %s and %s share order %d", model.ErrInvalidInput, other, sec.ID, sec.Order)
		}
		orders[sec.Order] = sec.ID
		s.sections = append(s.sections, cloneSection(sec))
		s.fields[sec.ID] = nil
	}
	sort.Slice(s.sections, func(i, j int) bool { return s.sections[i].Order < s.sections[j].Order })

	fieldOrders := make(map[string]map[int]string, len(sections))
	for _, f := range fields {
		if _, ok := s.fields[f.SectionID]; !ok {
			return nil, fmt.Errorf("%w: field %s references unknown section %s", model.ErrInvalidInput, f.ID, f.SectionID)
		}
		if _, dup := s.byID[f.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate field %s", model.ErrInvalidInput, f.ID)
		}
		if fieldOrders[f.SectionID] == nil {
			fieldOrders[f.SectionID] = make(map[int]string)
		}
		if other, dup := fieldOrders[f.SectionID][f.Order]; dup {
			return nil, fmt.Errorf("%w: fields %s and %s share order %d", model.ErrInvalidInput, other, f.ID, f.Order)
		}
		fieldOrders[f.SectionID][f.Order] = f.ID
		f = cloneField(f)
		s.byID[f.ID] = f
		s.fields[f.SectionID] = append(s.fields[f.SectionID], f)
	}
	for id := range s.fields {
		list := s.fields[id]
		sort.Slice(list, func(i, j int) bool { return list[i].Order < list[j].Order })
	}
	return s, nil
}

// FromDocument rebuilds a snapshot from its persisted form.
func FromDocument(doc Document) (*Snapshot, error) {
	sections := make([]model.Section, 0, len(doc.Sections))
	var fields []model.Field
	for _, sd := range doc.Sections {
		sections = append(sections, sd.Section)
		fields = append(fields, sd.Fields...)
	}
	return NewSnapshot(doc.Version, sections, fields)
}

// Document returns the persisted form of the snapshot.
func (s *Snapshot) Document() Document {
	doc := Document{
		Version:  s.version,
		Sections: make([]SectionDocument, 0, len(s.sections)),
	}
	for _, sec := range s.sections {
		doc.Sections = append(doc.Sections, SectionDocument{
			Section: cloneSection(sec),
			Fields:  s.Fields(sec.ID),
		})
	}
	return doc
}

func (s *Snapshot) Version() int64 {
	return s.version
}

// Sections returns all sections in render order.
func (s *Snapshot) Sections() []model.Section {
	out := make([]model.Section, 0, len(s.sections))
	for _, sec := range s.sections {
		out = append(out, cloneSection(sec))
	}
	return out
}

// Section looks up a section by id.
func (s *Snapshot) Section(id string) (model.Section, bool) {
	for _, sec := range s.sections {
		if sec.ID == id {
			return cloneSection(sec), true
		}
	}
	return model.Section{}, false
}

// Fields returns the fields of one section in render order.
func (s *Snapshot) Fields(sectionID string) []model.Field {
	list := s.fields[sectionID]
	out := make([]model.Field, 0, len(list))
	for _, f := range list {
		out = append(out, cloneField(f))
	}
	return out
}

// Field looks up a field by its identifier.
func (s *Snapshot) Field(id string) (model.Field, bool) {
	f, ok := s.byID[id]
	if !ok {
		return model.Field{}, false
	}
	return cloneField(f), true
}

// AllFields returns every field ordered by section then field order.
func (s *Snapshot) AllFields() []model.Field {
	out := make([]model.Field, 0, len(s.byID))
	for _, sec := range s.sections {
		out = append(out, s.Fields(sec.ID)...)
	}
	return out
}

// ApplicableFields returns, in validation order, the fields that apply to
// vendors of the given type. A field applies when both it and its section
// either list no vendor types or list this one.
func (s *Snapshot) ApplicableFields(vendorType string) []model.Field {
	var out []model.Field
	for _, sec := range s.sections {
		if !appliesTo(sec.VendorTypes, vendorType) {
			continue
		}
		for _, f := range s.fields[sec.ID] {
			if appliesTo(f.VendorTypes, vendorType) {
				out = append(out, cloneField(f))
			}
		}
	}
	return out
}

// Applicable reports whether a field applies to the vendor type.
func (s *Snapshot) Applicable(fieldID, vendorType string) bool {
	f, ok := s.byID[fieldID]
	if !ok || !appliesTo(f.VendorTypes, vendorType) {
		return false
	}
	sec, _ := s.Section(f.SectionID)
	return appliesTo(sec.VendorTypes, vendorType)
}

// VisibleSections returns the sections a role may see for a vendor type.
func (s *Snapshot) VisibleSections(role model.Role, vendorType string) []model.Section {
	var out []model.Section
	for _, sec := range s.sections {
		if !appliesTo(sec.VendorTypes, vendorType) {
			continue
		}
		if len(sec.VisibleTo) > 0 && !hasRole(sec.VisibleTo, role) {
			continue
		}
		out = append(out, cloneSection(sec))
	}
	return out
}

// VisibleFieldIDs returns the ids of the applicable fields whose section
// the role may see.
func (s *Snapshot) VisibleFieldIDs(role model.Role, vendorType string) map[string]bool {
	out := make(map[string]bool)
	for _, sec := range s.VisibleSections(role, vendorType) {
		for _, f := range s.fields[sec.ID] {
			if appliesTo(f.VendorTypes, vendorType) {
				out[f.ID] = true
			}
		}
	}
	return out
}

func appliesTo(types []string, vendorType string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == vendorType {
			return true
		}
	}
	return false
}

func hasRole(roles []model.Role, role model.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func cloneSection(s model.Section) model.Section {
	s.VisibleTo = append([]model.Role(nil), s.VisibleTo...)
	s.VendorTypes = append([]string(nil), s.VendorTypes...)
	return s
}

func cloneField(f model.Field) model.Field {
	f.VendorTypes = append([]string(nil), f.VendorTypes...)
	f.Rules.Options = append([]string(nil), f.Rules.Options...)
	if f.Rules.Min != nil {
		v := *f.Rules.Min
		f.Rules.Min = &v
	}
	if f.Rules.Max != nil {
		v := *f.Rules.Max
		f.Rules.Max = &v
	}
	if f.Rules.MinLength != nil {
		v := *f.Rules.MinLength
		f.Rules.MinLength = &v
	}
	if f.Rules.MaxLength != nil {
		v := *f.Rules.MaxLength
		f.Rules.MaxLength = &v
	}
	return f
}
