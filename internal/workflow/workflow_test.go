package workflow

import (
	"testing"
	"time"

	"vendorbox/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending() model.EditRequest {
	return model.EditRequest{
		ID:       "er-1",
		VendorID: "v-1",
		Changes:  model.PartialUpdate{"fullAddress": "221B Baker St"},
		Status:   model.ReviewPending,
		Seen:     true,
	}
}

func TestDecide_Approve(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := pending()

	out, err := Decide(req, model.DecisionApprove, "ok", "admin-1", at)
	require.NoError(t, err)

	assert.Equal(t, model.ReviewApproved, out.Status)
	require.NotNil(t, out.Remark)
	assert.Equal(t, "ok", *out.Remark)
	require.NotNil(t, out.ReviewedBy)
	assert.Equal(t, "admin-1", *out.ReviewedBy)
	assert.Equal(t, at, *out.ReviewedAt)
	assert.True(t, out.Seen, "seen is left as it was")
	assert.Equal(t, model.ReviewPending, req.Status, "input is not modified")
}

func TestDecide_Reject(t *testing.T) {
	out, err := Decide(pending(), model.DecisionReject, "incomplete", "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.ReviewRejected, out.Status)
	assert.Nil(t, out.ReviewedBy)
}

func TestDecide_TerminalStatesReject(t *testing.T) {
	for _, from := range []model.ReviewState{model.ReviewApproved, model.ReviewRejected} {
		for _, d := range []model.Decision{model.DecisionApprove, model.DecisionReject} {
			req := pending()
			req.Status = from

			_, err := Decide(req, d, "again", "admin-2", time.Now())

			var terr *model.InvalidStateTransitionError
			require.ErrorAs(t, err, &terr, "%s -> %s", from, d)
			assert.Equal(t, from, terr.From)
			assert.Equal(t, d.Target(), terr.To)
			assert.True(t, Terminal(from))
		}
	}
	assert.False(t, Terminal(model.ReviewPending))
}

func TestDecide_UnknownDecision(t *testing.T) {
	_, err := Decide(pending(), model.Decision("escalate"), "", "", time.Now())
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestMerge_OverwritesKeyWise(t *testing.T) {
	formData := map[string]interface{}{"fullAddress": "old", "restaurantName": "Spice Hub"}

	merged := Merge(formData, model.PartialUpdate{"fullAddress": "221B Baker St", "pincode": "560001"})

	assert.Equal(t, map[string]interface{}{
		"fullAddress":    "221B Baker St",
		"restaurantName": "Spice Hub",
		"pincode":        "560001",
	}, merged)
	assert.Equal(t, "old", formData["fullAddress"])
	assert.Equal(t, merged, Merge(merged, model.PartialUpdate{"fullAddress": "221B Baker St"}), "reapplying is a no-op")
}

func TestMarkSeen_Idempotent(t *testing.T) {
	req := pending()
	req.Seen = false

	first, changed := MarkSeen(req)
	assert.True(t, changed)
	assert.True(t, first.Seen)
	assert.Equal(t, model.ReviewPending, first.Status)

	second, changed := MarkSeen(first)
	assert.False(t, changed)
	assert.True(t, second.Seen)
}

func TestUnreadCount(t *testing.T) {
	a, b, c := pending(), pending(), pending()
	a.Seen = false
	c.Seen = false
	c.Status = model.ReviewApproved

	assert.Equal(t, 2, UnreadCount([]model.EditRequest{a, b, c}))
	assert.Equal(t, 0, UnreadCount(nil))
}
