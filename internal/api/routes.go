package api

import (
	"context"
	"net/http"
	"time"

	"vendorbox/internal/auth"
	"vendorbox/internal/metrics"
	"vendorbox/internal/model"
	"vendorbox/internal/service"
	"vendorbox/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Dependencies struct {
	Schemas  *service.SchemaService
	Vendors  *service.VendorService
	Requests *service.EditRequestService
	Users    *service.UserService
	Hub      *ws.Hub
	Auth     *auth.JWTConfig
	// TokenTTL is the lifetime of tokens issued at login
	TokenTTL time.Duration
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
	// Ready reports whether backing stores are reachable
	Ready func(ctx context.Context) error
}

var (
	anyRole    = []model.Role{model.RoleAdmin, model.RoleAgent, model.RoleEmployee, model.RoleVendor}
	adminOnly  = []model.Role{model.RoleAdmin}
	fieldStaff = []model.Role{model.RoleAdmin, model.RoleAgent, model.RoleEmployee}
)

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", d.healthz)
	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Get("/ws", d.wsHandler)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		// Schema
		r.With(auth.RequireRole(anyRole...)).Get("/schema", d.getSchema)
		r.With(auth.RequireRole(anyRole...)).Get("/schema/versions/{version}", d.getSchemaVersion)
		r.With(auth.RequireRole(anyRole...)).Get("/schema/jsonschema", d.getJSONSchema)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(adminOnly...))
			r.Post("/schema/sections", d.createSection)
			r.Put("/schema/sections/order", d.reorderSections)
			r.Patch("/schema/sections/{id}", d.updateSection)
			r.Delete("/schema/sections/{id}", d.deleteSection)
			r.Post("/schema/sections/{id}/fields", d.createField)
			r.Put("/schema/sections/{id}/fields/order", d.reorderFields)
			r.Patch("/schema/fields/{id}", d.updateField)
			r.Delete("/schema/fields/{id}", d.deleteField)
		})

		// Vendors
		r.With(auth.RequireRole(fieldStaff...)).Post("/vendors", d.createVendor)
		r.With(auth.RequireRole(fieldStaff...)).Get("/vendors", d.listVendors)
		r.With(auth.RequireRole(anyRole...)).Get("/vendors/{id}", d.getVendor)
		r.With(auth.RequireRole(anyRole...)).Post("/vendors/{id}/edit-requests", d.submitEditRequest)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(adminOnly...))
			r.Post("/vendors/import", d.importVendors)
			r.Get("/vendors/summary", d.vendorSummary)
			r.Patch("/vendors/{id}", d.updateVendor)
			r.Post("/vendors/{id}/status", d.setVendorStatus)
		})

		// Field staff accounts
		r.Post("/auth/login", d.login)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(adminOnly...))
			r.Get("/users", d.listUsers)
			r.Post("/users", d.createUser)
			r.Get("/users/{id}", d.getUser)
			r.Patch("/users/{id}", d.updateUser)
			r.Delete("/users/{id}", d.deleteUser)
			r.Get("/users/{id}/vendors", d.userVendors)
		})

		// Edit requests
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(adminOnly...))
			r.Get("/edit-requests", d.listEditRequests)
			r.Get("/edit-requests/unread-count", d.unreadCount)
			r.Post("/edit-requests/seen", d.markSeen)
			r.Get("/edit-requests/{id}", d.getEditRequest)
			r.Post("/edit-requests/{id}/approve", d.approveEditRequest)
			r.Post("/edit-requests/{id}/reject", d.rejectEditRequest)
		})
	})

	return r
}

func (d Dependencies) healthz(w http.ResponseWriter, r *http.Request) {
	if d.Ready != nil {
		if err := d.Ready(r.Context()); err != nil {
			d.Log.Warn("Health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// principal is only called behind RequireRole
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
