package normalize

import (
	"strings"

	"vendorbox/internal/model"
	"vendorbox/internal/schema"

	"github.com/spf13/cast"
)

// IdentityKeys are the key names a record identifier may arrive under, in
// order of precedence.
var IdentityKeys = []string{"_id", "id"}

// CanonicalID extracts the record identifier from a raw document. Extended
// JSON object ids ({"$oid": "..."}) are unwrapped.
func CanonicalID(doc map[string]interface{}) string {
	for _, k := range IdentityKeys {
		raw, ok := doc[k]
		if !ok || raw == nil {
			continue
		}
		if m, ok := raw.(map[string]interface{}); ok {
			raw = m["$oid"]
		}
		if s, err := cast.ToStringE(raw); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// DecodeVendor builds a vendor record from a raw submitted document. Fixed
// attributes are read from their conventional keys; everything else,
// including an explicit "formData" object, becomes formData.
func DecodeVendor(doc map[string]interface{}) model.Vendor {
	v := model.Vendor{
		ID:       CanonicalID(doc),
		FormData: make(map[string]interface{}, len(doc)),
	}

	v.VendorType, _ = toText(first(doc, "vendorType", "type"))
	v.AgentID, _ = toText(first(doc, "agentId", "agent"))
	v.Latitude, _ = toFloat(doc["latitude"])
	v.Longitude, _ = toFloat(doc["longitude"])

	status, _ := toText(first(doc, "status", "restaurantStatus"))
	switch s := model.VendorStatus(strings.ToLower(status)); s {
	case model.VendorApproved, model.VendorRejected:
		v.Status = s
	default:
		v.Status = model.VendorPending
	}

	if t, err := cast.ToTimeE(doc["createdAt"]); err == nil {
		v.CreatedAt = t
	}
	if t, err := cast.ToTimeE(doc["updatedAt"]); err == nil {
		v.UpdatedAt = t
	}

	consumed := map[string]bool{
		"type": true, "agent": true, "restaurantStatus": true, "formData": true,
	}
	for k, raw := range doc {
		if consumed[k] || schema.ReservedKeys[k] {
			continue
		}
		v.FormData[k] = raw
	}
	if nested, ok := doc["formData"].(map[string]interface{}); ok {
		for k, raw := range nested {
			if !schema.ReservedKeys[k] {
				v.FormData[k] = raw
			}
		}
	}
	return v
}

func first(doc map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := doc[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
