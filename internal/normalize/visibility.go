package normalize

import (
	"vendorbox/internal/model"
	"vendorbox/internal/schema"
)

// Restrict drops what a role may not read from a flat view. Admins see
// everything; other roles keep the vendor attributes and the fields of
// the sections visible to them.
func Restrict(snap *schema.Snapshot, flat FlatView, role model.Role, vendorType string) FlatView {
	if role == model.RoleAdmin {
		return flat
	}
	visible := snap.VisibleFieldIDs(role, vendorType)
	out := make(FlatView, len(visible)+len(schema.ReservedKeys))
	for k, v := range flat {
		if visible[k] || schema.ReservedKeys[k] {
			out[k] = v
		}
	}
	return out
}

// CheckWritable rejects edits to schema fields in sections the role may
// not see. Keys that are not applicable fields are left to Denormalize.
func CheckWritable(snap *schema.Snapshot, diff FlatView, role model.Role, vendorType string) error {
	if role == model.RoleAdmin {
		return nil
	}
	visible := snap.VisibleFieldIDs(role, vendorType)
	verr := &model.ValidationError{}
	for _, f := range snap.ApplicableFields(vendorType) {
		edited, ok := diff[f.ID]
		if !ok || visible[f.ID] {
			continue
		}
		verr.Violations = append(verr.Violations, model.Violation{
			Field:   f.ID,
			Rule:    "visibility",
			Value:   edited,
			Message: "is not editable by " + string(role),
		})
	}
	if len(verr.Violations) > 0 {
		return verr
	}
	return nil
}
