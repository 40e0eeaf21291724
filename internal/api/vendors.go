package api

import (
	"net/http"

	"vendorbox/internal/model"
	"vendorbox/internal/normalize"
	"vendorbox/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"
)

// ownsVendor reports whether a vendor-role caller is acting on its own
// record. Other roles are not restricted here.
func ownsVendor(r *http.Request, vendorID string) bool {
	p := principal(r)
	return p.Role != model.RoleVendor || p.VendorID == vendorID
}

func (d Dependencies) createVendor(w http.ResponseWriter, r *http.Request) {
	var req service.CreateVendorInput
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if p := principal(r); p.Role.FieldStaff() {
		req.AgentID = p.UserID
	}

	v, err := d.Vendors.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (d Dependencies) importVendors(w http.ResponseWriter, r *http.Request) {
	var docs []map[string]interface{}
	if err := decodeBody(r, &docs); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "body must be an array of vendor documents", d.Log)
		return
	}
	vendors, err := d.Vendors.Import(r.Context(), docs)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"imported": len(vendors),
		"vendors":  vendors,
	})
}

func (d Dependencies) listVendors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.VendorFilter{
		Status:     model.VendorStatus(q.Get("status")),
		City:       q.Get("city"),
		Search:     q.Get("search"),
		AgentID:    q.Get("agentId"),
		VendorType: q.Get("vendorType"),
	}
	for key, dst := range map[string]*int{"page": &filter.Page, "limit": &filter.Limit} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := cast.ToIntE(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "invalid_input", key+" must be a positive integer", d.Log)
			return
		}
		*dst = n
	}
	if p := principal(r); p.Role.FieldStaff() {
		filter.AgentID = p.UserID
	}

	vendors, page, err := d.Vendors.List(r.Context(), filter, principal(r).Role)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vendors":    vendors,
		"pagination": page,
	})
}

func (d Dependencies) vendorSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := d.Vendors.Summary(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (d Dependencies) getVendor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ownsVendor(r, id) {
		WriteError(w, http.StatusForbidden, "forbidden", "vendors may only read their own record", d.Log)
		return
	}
	view, err := d.Vendors.Get(r.Context(), id, principal(r).Role)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (d Dependencies) updateVendor(w http.ResponseWriter, r *http.Request) {
	var diff normalize.FlatView
	if err := decodeBody(r, &diff); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "body must be a flat view object", d.Log)
		return
	}
	view, update, err := d.Vendors.Update(r.Context(), chi.URLParam(r, "id"), diff)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vendor":  view,
		"applied": update,
	})
}

type statusRequest struct {
	Status model.VendorStatus `json:"status"`
}

func (d Dependencies) setVendorStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	v, err := d.Vendors.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
