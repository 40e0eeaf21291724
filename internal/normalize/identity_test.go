package normalize

import (
	"testing"
	"time"

	"vendorbox/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]interface{}
		want string
	}{
		{"underscore id wins", map[string]interface{}{"_id": "a", "id": "b"}, "a"},
		{"plain id", map[string]interface{}{"id": "b"}, "b"},
		{"object id", map[string]interface{}{"_id": map[string]interface{}{"$oid": "65f0c0ffee"}}, "65f0c0ffee"},
		{"null underscore id", map[string]interface{}{"_id": nil, "id": "b"}, "b"},
		{"numeric id", map[string]interface{}{"id": 42}, "42"},
		{"none", map[string]interface{}{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalID(tt.doc))
		})
	}
}

func TestDecodeVendor(t *testing.T) {
	doc := map[string]interface{}{
		"_id":               "v-1",
		"type":              "restaurant",
		"restaurantStatus":  "APPROVED",
		"agent":             "agent-7",
		"latitude":          "12.97",
		"longitude":         77.59,
		"createdAt":         "2025-01-02T03:04:05Z",
		"restaurantName":    "Spice Hub",
		"restaurantImage":   map[string]interface{}{"secure_url": "https://cdn/x.png"},
		"formData":          map[string]interface{}{"fullAddress": "MG Road", "status": "ignored"},
		"minimumOrderPrice": 99,
	}

	v := DecodeVendor(doc)

	assert.Equal(t, "v-1", v.ID)
	assert.Equal(t, "restaurant", v.VendorType)
	assert.Equal(t, model.VendorApproved, v.Status)
	assert.Equal(t, "agent-7", v.AgentID)
	assert.Equal(t, 12.97, v.Latitude)
	assert.Equal(t, 77.59, v.Longitude)
	assert.True(t, v.CreatedAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.True(t, v.UpdatedAt.IsZero())

	assert.Equal(t, map[string]interface{}{
		"restaurantName":    "Spice Hub",
		"restaurantImage":   map[string]interface{}{"secure_url": "https://cdn/x.png"},
		"fullAddress":       "MG Road",
		"minimumOrderPrice": 99,
	}, v.FormData)
}

func TestDecodeVendor_UnknownStatusIsPending(t *testing.T) {
	v := DecodeVendor(map[string]interface{}{"id": "x", "status": "archived"})
	assert.Equal(t, model.VendorPending, v.Status)
	assert.Empty(t, v.FormData)
}

func TestDecodeVendor_NormalizesImageObject(t *testing.T) {
	snap := testSnapshot(t)
	v := DecodeVendor(map[string]interface{}{
		"_id":             "v-2",
		"restaurantImage": map[string]interface{}{"secure_url": "https://cdn/y.png"},
	})

	flat := NewEngine(nil).Normalize(snap, v)
	assert.Equal(t, "v-2", flat["id"])
	assert.Equal(t, "https://cdn/y.png", flat["restaurantImage"])
}
