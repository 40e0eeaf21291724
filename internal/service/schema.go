package service

import (
	"context"
	"fmt"

	"vendorbox/internal/model"
	"vendorbox/internal/schema"

	"go.uber.org/zap"
)

// SchemaService applies versioned mutations to the form schema
type SchemaService struct {
	store    Store
	compiler *schema.Compiler
	bus      EventBus
	log      *zap.Logger
}

func NewSchemaService(store Store, compiler *schema.Compiler, bus EventBus, log *zap.Logger) *SchemaService {
	return &SchemaService{
		store:    store,
		compiler: compiler,
		bus:      busOrNop(bus),
		log:      log,
	}
}

// Current returns the latest snapshot
func (s *SchemaService) Current(ctx context.Context) (*schema.Snapshot, error) {
	var snap *schema.Snapshot
	err := retryRead(ctx, func() error {
		var err error
		snap, err = s.store.LoadSchema(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return snap, nil
}

// Version returns a historical snapshot
func (s *SchemaService) Version(ctx context.Context, version int64) (*schema.Snapshot, error) {
	var snap *schema.Snapshot
	err := retryRead(ctx, func() error {
		var err error
		snap, err = s.store.LoadSchemaVersion(ctx, version)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schema version %d: %w", version, err)
	}
	return snap, nil
}

// JSONSchema returns the storage-shape JSON Schema of the latest snapshot
func (s *SchemaService) JSONSchema(ctx context.Context) (map[string]interface{}, error) {
	snap, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return schema.StorageSchema(snap), nil
}

// ValidateUpdate checks raw storage values against the latest snapshot
func (s *SchemaService) ValidateUpdate(ctx context.Context, snap *schema.Snapshot, update model.PartialUpdate) error {
	return s.compiler.ValidateUpdate(ctx, snap, update)
}

func (s *SchemaService) CreateSection(ctx context.Context, expected int64, in schema.SectionInput) (*schema.Snapshot, model.Section, error) {
	var created model.Section
	next, err := s.mutate(ctx, expected, "section.created", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		next, sec, err := cur.CreateSection(in)
		created = sec
		return next, err
	})
	return next, created, err
}

func (s *SchemaService) UpdateSection(ctx context.Context, expected int64, id string, in schema.SectionInput) (*schema.Snapshot, error) {
	return s.mutate(ctx, expected, "section.updated", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		return cur.UpdateSection(id, in)
	})
}

// DeleteSection removes a section and its fields. Vendor formData entries
// keyed by the removed fields are kept as passthrough data.
func (s *SchemaService) DeleteSection(ctx context.Context, expected int64, id string) (*schema.Snapshot, []string, error) {
	var removed []string
	next, err := s.mutate(ctx, expected, "section.deleted", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		next, fields, err := cur.DeleteSection(id)
		removed = fields
		return next, err
	})
	if err != nil {
		return nil, nil, err
	}
	if len(removed) > 0 {
		s.log.Info("Section deleted with fields",
			zap.String("section_id", id),
			zap.Strings("field_ids", removed),
			zap.Int64("version", next.Version()),
		)
	}
	return next, removed, nil
}

func (s *SchemaService) ReorderSections(ctx context.Context, expected int64, ids []string) (*schema.Snapshot, error) {
	return s.mutate(ctx, expected, "sections.reordered", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		return cur.ReorderSections(ids)
	})
}

func (s *SchemaService) CreateField(ctx context.Context, expected int64, sectionID string, in schema.FieldInput) (*schema.Snapshot, model.Field, error) {
	var created model.Field
	next, err := s.mutate(ctx, expected, "field.created", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		next, f, err := cur.CreateField(sectionID, in)
		created = f
		return next, err
	})
	return next, created, err
}

func (s *SchemaService) UpdateField(ctx context.Context, expected int64, id string, in schema.FieldInput) (*schema.Snapshot, error) {
	return s.mutate(ctx, expected, "field.updated", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		return cur.UpdateField(id, in)
	})
}

func (s *SchemaService) DeleteField(ctx context.Context, expected int64, id string) (*schema.Snapshot, error) {
	return s.mutate(ctx, expected, "field.deleted", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		return cur.DeleteField(id)
	})
}

func (s *SchemaService) ReorderFields(ctx context.Context, expected int64, sectionID string, ids []string) (*schema.Snapshot, error) {
	return s.mutate(ctx, expected, "fields.reordered", func(cur *schema.Snapshot) (*schema.Snapshot, error) {
		return cur.ReorderFields(sectionID, ids)
	})
}

// mutate applies fn to the snapshot at version expected and stores the
// result as expected+1. Mutations are never retried; a lost race surfaces as
// *model.StaleSchemaError for the caller to reload.
func (s *SchemaService) mutate(ctx context.Context, expected int64, event string, fn func(*schema.Snapshot) (*schema.Snapshot, error)) (*schema.Snapshot, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur.Version() != expected {
		return nil, &model.StaleSchemaError{Expected: expected, Actual: cur.Version()}
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSchema(ctx, expected, next); err != nil {
		return nil, fmt.Errorf("failed to save schema: %w", err)
	}

	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":    "schema." + event,
		"version": next.Version(),
	})
	s.log.Debug("Schema mutated", zap.String("event", event), zap.Int64("version", next.Version()))
	return next, nil
}
