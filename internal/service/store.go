package service

import (
	"context"
	"errors"
	"time"

	"vendorbox/internal/model"
	"vendorbox/internal/schema"

	"github.com/cenkalti/backoff/v4"
)

// Store is the persistence collaborator. Every method is atomic per record;
// implementations return errors wrapping model.ErrNotFound for unknown ids.
type Store interface {
	// LoadSchema returns the latest snapshot, or schema.Empty() when none
	// has been saved.
	LoadSchema(ctx context.Context) (*schema.Snapshot, error)
	LoadSchemaVersion(ctx context.Context, version int64) (*schema.Snapshot, error)
	// SaveSchema stores next as version expected+1. It fails with
	// *model.StaleSchemaError when the latest stored version is not expected.
	SaveSchema(ctx context.Context, expected int64, next *schema.Snapshot) error

	LoadVendor(ctx context.Context, id string) (model.Vendor, error)
	CreateVendor(ctx context.Context, v model.Vendor) (model.Vendor, error)
	ListVendors(ctx context.Context, filter model.VendorFilter) ([]model.Vendor, model.Pagination, error)
	SaveVendorPartial(ctx context.Context, id string, update model.PartialUpdate) (model.Vendor, error)
	SetVendorStatus(ctx context.Context, id string, status model.VendorStatus) (model.Vendor, error)
	VendorSummary(ctx context.Context) (model.VendorSummary, error)

	CreateEditRequest(ctx context.Context, req model.EditRequest) (model.EditRequest, error)
	GetEditRequest(ctx context.Context, id string) (model.EditRequest, error)
	LoadPendingEditRequests(ctx context.Context) ([]model.EditRequest, error)
	ListEditRequests(ctx context.Context, status model.ReviewState) ([]model.EditRequest, error)
	// SaveEditRequestTransition moves a pending request to its decided state
	// and, on approval, merges its changes into the vendor in the same
	// atomic step. A request that is no longer pending yields
	// *model.InvalidStateTransitionError.
	SaveEditRequestTransition(ctx context.Context, id string, decision model.Decision, remark, reviewer string) (model.EditRequest, error)
	// MarkEditRequestsSeen touches only the seen flag and returns how many
	// requests flipped from unseen to seen.
	MarkEditRequestsSeen(ctx context.Context, ids []string) (int, error)
	CountUnseenEditRequests(ctx context.Context) (int, error)

	// CreateUser and SaveUser fail with model.ErrConflict when the
	// username belongs to another user.
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	// ListUsers returns users ordered by name; an empty role lists all.
	ListUsers(ctx context.Context, role model.Role) ([]model.User, error)
	SaveUser(ctx context.Context, u model.User) (model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// readRetries bounds retries of idempotent reads against the store
const readRetries = 4

// retryRead runs a read with exponential backoff. Domain errors are not
// retried.
func retryRead(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, readRetries), ctx))
}

func permanent(err error) bool {
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidInput) || errors.Is(err, model.ErrConflict) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var verr *model.ValidationError
	var serr *model.StaleSchemaError
	var terr *model.InvalidStateTransitionError
	return errors.As(err, &verr) || errors.As(err, &serr) || errors.As(err, &terr)
}
