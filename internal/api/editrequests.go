package api

import (
	"net/http"

	"vendorbox/internal/model"
	"vendorbox/internal/normalize"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) submitEditRequest(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "id")
	if !ownsVendor(r, vendorID) {
		WriteError(w, http.StatusForbidden, "forbidden", "vendors may only edit their own record", d.Log)
		return
	}
	var diff normalize.FlatView
	if err := decodeBody(r, &diff); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "body must be a flat view object", d.Log)
		return
	}

	req, err := d.Requests.Submit(r.Context(), vendorID, principal(r).Role, diff)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (d Dependencies) listEditRequests(w http.ResponseWriter, r *http.Request) {
	status := model.ReviewState(r.URL.Query().Get("status"))
	switch status {
	case "", model.ReviewPending, model.ReviewApproved, model.ReviewRejected:
	default:
		WriteError(w, http.StatusBadRequest, "invalid_input", "unknown status "+string(status), d.Log)
		return
	}
	reqs, err := d.Requests.List(r.Context(), status)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"editRequests": reqs})
}

func (d Dependencies) getEditRequest(w http.ResponseWriter, r *http.Request) {
	req, err := d.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (d Dependencies) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := d.Requests.UnreadCount(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

type seenRequest struct {
	IDs []string `json:"ids"`
}

func (d Dependencies) markSeen(w http.ResponseWriter, r *http.Request) {
	var req seenRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	n, err := d.Requests.MarkSeen(r.Context(), req.IDs)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

type decisionRequest struct {
	Remark string `json:"remark"`
}

func (d Dependencies) approveEditRequest(w http.ResponseWriter, r *http.Request) {
	d.decide(w, r, model.DecisionApprove)
}

func (d Dependencies) rejectEditRequest(w http.ResponseWriter, r *http.Request) {
	d.decide(w, r, model.DecisionReject)
}

func (d Dependencies) decide(w http.ResponseWriter, r *http.Request, decision model.Decision) {
	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	decided, err := d.Requests.Decide(r.Context(), chi.URLParam(r, "id"), decision, req.Remark, principal(r).UserID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}
