package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vendorbox/internal/model"
	"vendorbox/internal/schema"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"
)

// expectedVersion reads the optimistic concurrency token from the body's
// expectedVersion or, failing that, the If-Match header.
func expectedVersion(r *http.Request, body *int64) (int64, error) {
	if body != nil {
		return *body, nil
	}
	tag := strings.TrimSpace(r.Header.Get("If-Match"))
	tag = strings.TrimPrefix(tag, "W/")
	tag = strings.Trim(tag, `"`)
	if tag == "" {
		return 0, fmt.Errorf("%w: expectedVersion or If-Match is required", model.ErrInvalidInput)
	}
	v, err := cast.ToInt64E(tag)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid If-Match %q", model.ErrInvalidInput, tag)
	}
	return v, nil
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

func (d Dependencies) writeSnapshot(w http.ResponseWriter, code int, snap *schema.Snapshot, extra map[string]interface{}) {
	w.Header().Set("ETag", etag(snap.Version()))
	if extra == nil {
		writeJSON(w, code, snap.Document())
		return
	}
	extra["schema"] = snap.Document()
	writeJSON(w, code, extra)
}

func (d Dependencies) getSchema(w http.ResponseWriter, r *http.Request) {
	snap, err := d.Schemas.Current(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, nil)
}

func (d Dependencies) getSchemaVersion(w http.ResponseWriter, r *http.Request) {
	version, err := cast.ToInt64E(chi.URLParam(r, "version"))
	if err != nil || version < 0 {
		WriteError(w, http.StatusBadRequest, "invalid_input", "version must be a non-negative integer", d.Log)
		return
	}
	snap, err := d.Schemas.Version(r.Context(), version)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, nil)
}

func (d Dependencies) getJSONSchema(w http.ResponseWriter, r *http.Request) {
	doc, err := d.Schemas.JSONSchema(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type sectionRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion"`
	schema.SectionInput
}

type fieldRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion"`
	schema.FieldInput
}

type orderRequest struct {
	ExpectedVersion *int64   `json:"expectedVersion"`
	IDs             []string `json:"ids"`
}

type versionRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion"`
}

func (d Dependencies) createSection(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, sec, err := d.Schemas.CreateSection(r.Context(), expected, req.SectionInput)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusCreated, snap, map[string]interface{}{"section": sec})
}

func (d Dependencies) updateSection(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, err := d.Schemas.UpdateSection(r.Context(), expected, chi.URLParam(r, "id"), req.SectionInput)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, nil)
}

func (d Dependencies) deleteSection(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, removed, err := d.Schemas.DeleteSection(r.Context(), expected, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, map[string]interface{}{"removedFields": removed})
}

func (d Dependencies) reorderSections(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, err := d.Schemas.ReorderSections(r.Context(), expected, req.IDs)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, nil)
}

func (d Dependencies) createField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, field, err := d.Schemas.CreateField(r.Context(), expected, chi.URLParam(r, "id"), req.FieldInput)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusCreated, snap, map[string]interface{}{"field": field})
}

func (d Dependencies) updateField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, err := d.Schemas.UpdateField(r.Context(), expected, chi.URLParam(r, "id"), req.FieldInput)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, nil)
}

func (d Dependencies) deleteField(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, err := d.Schemas.DeleteField(r.Context(), expected, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, nil)
}

func (d Dependencies) reorderFields(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	snap, err := d.Schemas.ReorderFields(r.Context(), expected, chi.URLParam(r, "id"), req.IDs)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	d.writeSnapshot(w, http.StatusOK, snap, nil)
}
