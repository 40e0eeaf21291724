// Package workflow holds the edit-request state machine.
//
// Review state and the seen flag are independent: review state moves once
// from pending to a terminal state, seen flips false to true any number of
// times without effect after the first.
package workflow

import (
	"fmt"
	"time"

	"vendorbox/internal/model"
)

// Terminal reports whether no further review transition is possible.
func Terminal(s model.ReviewState) bool {
	return s == model.ReviewApproved || s == model.ReviewRejected
}

// Decide applies an approve or reject decision to a pending request and
// returns the reviewed copy. The input is not modified.
func Decide(req model.EditRequest, d model.Decision, remark, reviewer string, at time.Time) (model.EditRequest, error) {
	target := d.Target()
	if target == "" {
		return model.EditRequest{}, fmt.Errorf("%w: unknown decision %q", model.ErrInvalidInput, d)
	}
	if req.Status != model.ReviewPending {
		return model.EditRequest{}, &model.InvalidStateTransitionError{ID: req.ID, From: req.Status, To: target}
	}

	out := req
	out.Changes = clone(req.Changes)
	out.Status = target
	out.Remark = &remark
	if reviewer != "" {
		out.ReviewedBy = &reviewer
	}
	at = at.UTC()
	out.ReviewedAt = &at
	return out, nil
}

// Merge overwrites formData key-wise with the changes and returns the new
// map. The inputs are not modified.
func Merge(formData map[string]interface{}, changes model.PartialUpdate) map[string]interface{} {
	out := make(map[string]interface{}, len(formData)+len(changes))
	for k, v := range formData {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}

// MarkSeen sets the seen flag. The second return is false when the request
// was already seen.
func MarkSeen(req model.EditRequest) (model.EditRequest, bool) {
	if req.Seen {
		return req, false
	}
	req.Seen = true
	return req, true
}

// UnreadCount counts requests the admin has not looked at yet.
func UnreadCount(reqs []model.EditRequest) int {
	n := 0
	for _, r := range reqs {
		if !r.Seen {
			n++
		}
	}
	return n
}

func clone(u model.PartialUpdate) model.PartialUpdate {
	if u == nil {
		return nil
	}
	out := make(model.PartialUpdate, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}
