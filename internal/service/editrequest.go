package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vendorbox/internal/model"
	"vendorbox/internal/normalize"
	"vendorbox/internal/workflow"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// EditRequestService runs the edit-approval workflow for approved vendors
type EditRequestService struct {
	store         Store
	schemas       *SchemaService
	engine        *normalize.Engine
	bus           EventBus
	jobs          JobClient
	reminderDelay time.Duration
	log           *zap.Logger
}

func NewEditRequestService(store Store, schemas *SchemaService, engine *normalize.Engine, bus EventBus, log *zap.Logger) *EditRequestService {
	return &EditRequestService{
		store:   store,
		schemas: schemas,
		engine:  engine,
		bus:     busOrNop(bus),
		log:     log,
	}
}

// SetJobClient enables reminders for requests left unseen after delay
func (s *EditRequestService) SetJobClient(client JobClient, delay time.Duration) {
	s.jobs = client
	s.reminderDelay = delay
}

// Submit records a proposed edit made by role. The edit is a flat view diff;
// it is validated against the latest snapshot and stored as the minimal
// partial update. Fields in sections hidden from the role are rejected.
func (s *EditRequestService) Submit(ctx context.Context, vendorID string, role model.Role, diff normalize.FlatView) (model.EditRequest, error) {
	snap, err := s.schemas.Current(ctx)
	if err != nil {
		return model.EditRequest{}, err
	}
	v, err := s.store.LoadVendor(ctx, vendorID)
	if err != nil {
		return model.EditRequest{}, fmt.Errorf("failed to load vendor %s: %w", vendorID, err)
	}
	if v.Status != model.VendorApproved {
		return model.EditRequest{}, fmt.Errorf("%w: vendor %s is %s, edit requests need an approved vendor", model.ErrInvalidInput, vendorID, v.Status)
	}

	if err := normalize.CheckWritable(snap, diff, role, v.VendorType); err != nil {
		return model.EditRequest{}, err
	}
	changes, err := s.engine.Denormalize(snap, diff, v)
	if err != nil {
		return model.EditRequest{}, err
	}
	if len(changes) == 0 {
		return model.EditRequest{}, fmt.Errorf("%w: edit changes nothing", model.ErrInvalidInput)
	}

	req, err := s.store.CreateEditRequest(ctx, model.EditRequest{
		ID:          ulid.Make().String(),
		VendorID:    vendorID,
		Changes:     changes,
		SubmittedAt: time.Now().UTC(),
		Status:      model.ReviewPending,
	})
	if err != nil {
		return model.EditRequest{}, fmt.Errorf("failed to create edit request: %w", err)
	}

	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":          "editrequest.submitted",
		"editRequestId": req.ID,
		"vendorId":      vendorID,
		"fields":        fieldIDs(changes),
	})

	if s.jobs != nil && s.reminderDelay > 0 {
		if err := s.jobs.ScheduleEditRequestReminder(req.ID, req.SubmittedAt.Add(s.reminderDelay)); err != nil {
			s.log.Warn("Failed to schedule reminder", zap.String("edit_request_id", req.ID), zap.Error(err))
		}
	}
	return req, nil
}

func (s *EditRequestService) Get(ctx context.Context, id string) (model.EditRequest, error) {
	var req model.EditRequest
	err := retryRead(ctx, func() error {
		var err error
		req, err = s.store.GetEditRequest(ctx, id)
		return err
	})
	if err != nil {
		return model.EditRequest{}, fmt.Errorf("failed to load edit request %s: %w", id, err)
	}
	return req, nil
}

// List returns edit requests, optionally narrowed to one review state.
func (s *EditRequestService) List(ctx context.Context, status model.ReviewState) ([]model.EditRequest, error) {
	var reqs []model.EditRequest
	err := retryRead(ctx, func() error {
		var err error
		if status == model.ReviewPending {
			reqs, err = s.store.LoadPendingEditRequests(ctx)
		} else {
			reqs, err = s.store.ListEditRequests(ctx, status)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list edit requests: %w", err)
	}
	return reqs, nil
}

func (s *EditRequestService) Approve(ctx context.Context, id, remark, reviewer string) (model.EditRequest, error) {
	return s.Decide(ctx, id, model.DecisionApprove, remark, reviewer)
}

func (s *EditRequestService) Reject(ctx context.Context, id, remark, reviewer string) (model.EditRequest, error) {
	return s.Decide(ctx, id, model.DecisionReject, remark, reviewer)
}

// Decide approves or rejects a pending request. Approval re-validates the
// stored changes against the latest snapshot before merging them; a failure
// leaves the request pending. The store performs the transition and merge as
// one guarded step, so a racing second decision fails with
// *model.InvalidStateTransitionError and the merge happens once.
func (s *EditRequestService) Decide(ctx context.Context, id string, d model.Decision, remark, reviewer string) (model.EditRequest, error) {
	target := d.Target()
	if target == "" {
		return model.EditRequest{}, fmt.Errorf("%w: unknown decision %q", model.ErrInvalidInput, d)
	}

	req, err := s.store.GetEditRequest(ctx, id)
	if err != nil {
		return model.EditRequest{}, fmt.Errorf("failed to load edit request %s: %w", id, err)
	}
	if workflow.Terminal(req.Status) {
		return model.EditRequest{}, &model.InvalidStateTransitionError{ID: id, From: req.Status, To: target}
	}

	if d == model.DecisionApprove {
		snap, err := s.schemas.Current(ctx)
		if err != nil {
			return model.EditRequest{}, err
		}
		v, err := s.store.LoadVendor(ctx, req.VendorID)
		if err != nil {
			return model.EditRequest{}, fmt.Errorf("failed to load vendor %s: %w", req.VendorID, err)
		}
		if err := s.engine.Revalidate(snap, req.Changes, v.VendorType); err != nil {
			return model.EditRequest{}, err
		}
		if err := s.schemas.ValidateUpdate(ctx, snap, req.Changes); err != nil {
			return model.EditRequest{}, err
		}
	}

	decided, err := s.store.SaveEditRequestTransition(ctx, id, d, remark, reviewer)
	if err != nil {
		var terr *model.InvalidStateTransitionError
		if errors.As(err, &terr) {
			return model.EditRequest{}, err
		}
		return model.EditRequest{}, fmt.Errorf("failed to save edit request %s: %w", id, err)
	}

	event := map[string]interface{}{
		"type":          "editrequest." + string(decided.Status),
		"editRequestId": id,
		"vendorId":      decided.VendorID,
	}
	_ = s.bus.PublishEditRequest(id, event)
	_ = s.bus.PublishVendor(decided.VendorID, event)
	_ = s.bus.PublishAdmin(event)

	s.log.Info("Edit request decided",
		zap.String("edit_request_id", id),
		zap.String("status", string(decided.Status)),
		zap.String("reviewer", reviewer),
	)
	return decided, nil
}

// MarkSeen records that the admin has looked at the requests. Only requests
// that were unseen are counted; re-marking is a no-op.
func (s *EditRequestService) MarkSeen(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.store.MarkEditRequestsSeen(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark edit requests seen: %w", err)
	}
	if n > 0 {
		_ = s.bus.PublishAdmin(map[string]interface{}{
			"type":  "editrequest.seen",
			"count": n,
		})
	}
	return n, nil
}

func (s *EditRequestService) UnreadCount(ctx context.Context) (int, error) {
	var n int
	err := retryRead(ctx, func() error {
		var err error
		n, err = s.store.CountUnseenEditRequests(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unseen edit requests: %w", err)
	}
	return n, nil
}

// RemindEditRequest nudges admins about a request that is still pending and
// unseen. Anything else is left alone.
func (s *EditRequestService) RemindEditRequest(ctx context.Context, id string) error {
	req, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != model.ReviewPending || req.Seen {
		return nil
	}

	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":          "editrequest.reminder",
		"editRequestId": id,
		"vendorId":      req.VendorID,
		"submittedAt":   req.SubmittedAt.Format(time.RFC3339),
	})
	s.log.Info("Edit request reminder sent", zap.String("edit_request_id", id))
	return nil
}
