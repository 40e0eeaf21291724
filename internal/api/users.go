package api

import (
	"net/http"
	"time"

	"vendorbox/internal/auth"
	"vendorbox/internal/model"
	"vendorbox/internal/service"

	"github.com/go-chi/chi/v5"
)

const defaultTokenTTL = 24 * time.Hour

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login exchanges field staff credentials for a signed token
func (d Dependencies) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil || req.Username == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required", d.Log)
		return
	}
	u, err := d.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	ttl := d.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	token, err := d.Auth.Issue(auth.Principal{UserID: u.ID, Role: u.Role}, ttl)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresIn": int64(ttl.Seconds()),
		"user":      u,
	})
}

func (d Dependencies) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := d.Users.List(r.Context(), model.Role(q.Get("role")), q.Get("search"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (d Dependencies) createUser(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserInput
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	u, err := d.Users.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (d Dependencies) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := d.Users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (d Dependencies) updateUser(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateUserInput
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	u, err := d.Users.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (d Dependencies) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := d.Users.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// userVendors lists the vendors an account onboarded
func (d Dependencies) userVendors(w http.ResponseWriter, r *http.Request) {
	u, err := d.Users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	vendors, page, err := d.Vendors.List(r.Context(), model.VendorFilter{AgentID: u.ID, Limit: model.MaxPageLimit}, model.RoleAdmin)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       u,
		"vendors":    vendors,
		"pagination": page,
	})
}
