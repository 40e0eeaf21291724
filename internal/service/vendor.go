package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vendorbox/internal/model"
	"vendorbox/internal/normalize"
	"vendorbox/internal/schema"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// VendorView is a vendor record flattened against one snapshot
type VendorView struct {
	SchemaVersion int64              `json:"schemaVersion"`
	Sections      []model.Section    `json:"sections,omitempty"`
	Data          normalize.FlatView `json:"data"`
}

type VendorService struct {
	store   Store
	schemas *SchemaService
	engine  *normalize.Engine
	bus     EventBus
	jobs    JobClient
	log     *zap.Logger
}

func NewVendorService(store Store, schemas *SchemaService, engine *normalize.Engine, bus EventBus, log *zap.Logger) *VendorService {
	return &VendorService{
		store:   store,
		schemas: schemas,
		engine:  engine,
		bus:     busOrNop(bus),
		log:     log,
	}
}

// SetJobClient sets the job client for scheduling background jobs
func (s *VendorService) SetJobClient(client JobClient) {
	s.jobs = client
}

type CreateVendorInput struct {
	VendorType string                 `json:"vendorType"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	AgentID    string                 `json:"agentId,omitempty"`
	FormData   map[string]interface{} `json:"formData"`
}

// Create stores a new vendor submission as pending. formData is kept as
// submitted; it is reconciled against the schema on read.
func (s *VendorService) Create(ctx context.Context, in CreateVendorInput) (model.Vendor, error) {
	now := time.Now().UTC()
	v := model.Vendor{
		ID:         ulid.Make().String(),
		VendorType: in.VendorType,
		Status:     model.VendorPending,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		AgentID:    in.AgentID,
		FormData:   in.FormData,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.create(ctx, v)
}

// Import stores raw vendor documents whose identifier may arrive as _id or
// id. Documents without an identifier get a fresh one.
func (s *VendorService) Import(ctx context.Context, docs []map[string]interface{}) ([]model.Vendor, error) {
	out := make([]model.Vendor, 0, len(docs))
	for i, doc := range docs {
		v := normalize.DecodeVendor(doc)
		if v.ID == "" {
			v.ID = ulid.Make().String()
		}
		now := time.Now().UTC()
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		if v.UpdatedAt.IsZero() {
			v.UpdatedAt = v.CreatedAt
		}
		created, err := s.create(ctx, v)
		if err != nil {
			return out, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, created)
	}
	return out, nil
}

func (s *VendorService) create(ctx context.Context, v model.Vendor) (model.Vendor, error) {
	if v.FormData == nil {
		v.FormData = make(map[string]interface{})
	}
	created, err := s.store.CreateVendor(ctx, v)
	if err != nil {
		return model.Vendor{}, fmt.Errorf("failed to create vendor: %w", err)
	}

	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":     "vendor.created",
		"vendorId": created.ID,
	})
	if s.jobs != nil {
		if err := s.jobs.ScheduleVendorAudit(created.ID); err != nil {
			s.log.Warn("Failed to schedule vendor audit", zap.String("vendor_id", created.ID), zap.Error(err))
		}
	}
	return created, nil
}

func (s *VendorService) load(ctx context.Context, id string) (model.Vendor, error) {
	var v model.Vendor
	err := retryRead(ctx, func() error {
		var err error
		v, err = s.store.LoadVendor(ctx, id)
		return err
	})
	if err != nil {
		return model.Vendor{}, fmt.Errorf("failed to load vendor %s: %w", id, err)
	}
	return v, nil
}

// Get flattens a vendor against the latest snapshot. Sections and data are
// limited to what the role may see.
func (s *VendorService) Get(ctx context.Context, id string, role model.Role) (*VendorView, error) {
	snap, err := s.schemas.Current(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(snap, v, role), nil
}

func (s *VendorService) view(snap *schema.Snapshot, v model.Vendor, role model.Role) *VendorView {
	return &VendorView{
		SchemaVersion: snap.Version(),
		Sections:      snap.VisibleSections(role, v.VendorType),
		Data:          normalize.Restrict(snap, s.engine.Normalize(snap, v), role, v.VendorType),
	}
}

// List returns one page of vendors, each flattened against the latest snapshot
// and restricted to what the role may see.
func (s *VendorService) List(ctx context.Context, filter model.VendorFilter, role model.Role) ([]normalize.FlatView, model.Pagination, error) {
	snap, err := s.schemas.Current(ctx)
	if err != nil {
		return nil, model.Pagination{}, err
	}

	var vendors []model.Vendor
	var page model.Pagination
	err = retryRead(ctx, func() error {
		var err error
		vendors, page, err = s.store.ListVendors(ctx, filter)
		return err
	})
	if err != nil {
		return nil, model.Pagination{}, fmt.Errorf("failed to list vendors: %w", err)
	}

	out := make([]normalize.FlatView, 0, len(vendors))
	for _, v := range vendors {
		out = append(out, normalize.Restrict(snap, s.engine.Normalize(snap, v), role, v.VendorType))
	}
	return out, page, nil
}

// Update applies an admin edit directly. The edit is a flat view diff; only
// fields whose value changes are written.
func (s *VendorService) Update(ctx context.Context, id string, diff normalize.FlatView) (*VendorView, model.PartialUpdate, error) {
	snap, err := s.schemas.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	update, err := s.engine.Denormalize(snap, diff, v)
	if err != nil {
		return nil, nil, err
	}
	if len(update) == 0 {
		return s.view(snap, v, model.RoleAdmin), update, nil
	}

	updated, err := s.store.SaveVendorPartial(ctx, id, update)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save vendor %s: %w", id, err)
	}

	_ = s.bus.PublishVendor(id, map[string]interface{}{
		"type":     "vendor.updated",
		"vendorId": id,
		"fields":   fieldIDs(update),
	})
	return s.view(snap, updated, model.RoleAdmin), update, nil
}

// SetStatus records the admin decision on a vendor application
func (s *VendorService) SetStatus(ctx context.Context, id string, status model.VendorStatus) (model.Vendor, error) {
	switch status {
	case model.VendorPending, model.VendorApproved, model.VendorRejected:
	default:
		return model.Vendor{}, fmt.Errorf("%w: unknown vendor status %q", model.ErrInvalidInput, status)
	}
	v, err := s.store.SetVendorStatus(ctx, id, status)
	if err != nil {
		return model.Vendor{}, fmt.Errorf("failed to set vendor status: %w", err)
	}

	event := map[string]interface{}{
		"type":     "vendor.status_changed",
		"vendorId": id,
		"status":   string(status),
	}
	_ = s.bus.PublishVendor(id, event)
	_ = s.bus.PublishAdmin(event)
	return v, nil
}

// Summary returns dashboard counts
func (s *VendorService) Summary(ctx context.Context) (model.VendorSummary, error) {
	var sum model.VendorSummary
	err := retryRead(ctx, func() error {
		var err error
		sum, err = s.store.VendorSummary(ctx)
		return err
	})
	if err != nil {
		return model.VendorSummary{}, fmt.Errorf("failed to summarize vendors: %w", err)
	}
	return sum, nil
}

// AuditVendor reports required fields a vendor has not filled in yet.
func (s *VendorService) AuditVendor(ctx context.Context, id string) error {
	snap, err := s.schemas.Current(ctx)
	if err != nil {
		return err
	}
	v, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	flat := s.engine.Normalize(snap, v)
	var missing []string
	for _, f := range snap.ApplicableFields(v.VendorType) {
		if f.Required && normalize.IsMissing(flat[f.ID]) {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":          "vendor.incomplete",
		"vendorId":      id,
		"missing":       missing,
		"schemaVersion": snap.Version(),
	})
	s.log.Info("Vendor incomplete", zap.String("vendor_id", id), zap.Strings("missing", missing))
	return nil
}

func fieldIDs(update model.PartialUpdate) []string {
	out := make([]string, 0, len(update))
	for k := range update {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
