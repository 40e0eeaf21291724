// Package memstore is an in-memory implementation of the persistence
// collaborator with the same atomicity guarantees as the Postgres store.
// A single mutex serializes every operation.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"vendorbox/internal/model"
	"vendorbox/internal/schema"
	"vendorbox/internal/workflow"

	"github.com/spf13/cast"
)

type Store struct {
	mu       sync.Mutex
	history  []*schema.Snapshot
	vendors  map[string]model.Vendor
	requests map[string]model.EditRequest
	users    map[string]model.User
	now      func() time.Time
}

func New() *Store {
	return &Store{
		vendors:  make(map[string]model.Vendor),
		requests: make(map[string]model.EditRequest),
		users:    make(map[string]model.User),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) LoadSchema(ctx context.Context) (*schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return schema.Empty(), nil
	}
	return s.history[len(s.history)-1], nil
}

func (s *Store) LoadSchemaVersion(ctx context.Context, version int64) (*schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version == 0 {
		return schema.Empty(), nil
	}
	for _, snap := range s.history {
		if snap.Version() == version {
			return snap, nil
		}
	}
	return nil, fmt.Errorf("schema version %d: %w", version, model.ErrNotFound)
}

func (s *Store) SaveSchema(ctx context.Context, expected int64, next *schema.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest int64
	if len(s.history) > 0 {
		latest = s.history[len(s.history)-1].Version()
	}
	if latest != expected {
		return &model.StaleSchemaError{Expected: expected, Actual: latest}
	}
	if next.Version() != expected+1 {
		return fmt.Errorf("%w: snapshot version %d does not follow %d", model.ErrInvalidInput, next.Version(), expected)
	}
	s.history = append(s.history, next)
	return nil
}

func (s *Store) LoadVendor(ctx context.Context, id string) (model.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[id]
	if !ok {
		return model.Vendor{}, fmt.Errorf("vendor %s: %w", id, model.ErrNotFound)
	}
	return copyVendor(v), nil
}

func (s *Store) CreateVendor(ctx context.Context, v model.Vendor) (model.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.vendors[v.ID]; dup {
		return model.Vendor{}, fmt.Errorf("%w: vendor %s already exists", model.ErrInvalidInput, v.ID)
	}
	s.vendors[v.ID] = copyVendor(v)
	return copyVendor(v), nil
}

func (s *Store) ListVendors(ctx context.Context, filter model.VendorFilter) ([]model.Vendor, model.Pagination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filter = filter.Normalized()

	var matched []model.Vendor
	for _, v := range s.vendors {
		if matches(v, filter) {
			matched = append(matched, v)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	page := model.NewPagination(filter, len(matched))
	out := []model.Vendor{}
	for i := filter.Offset(); i < len(matched) && len(out) < filter.Limit; i++ {
		out = append(out, copyVendor(matched[i]))
	}
	return out, page, nil
}

func matches(v model.Vendor, f model.VendorFilter) bool {
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if f.AgentID != "" && v.AgentID != f.AgentID {
		return false
	}
	if f.VendorType != "" && v.VendorType != f.VendorType {
		return false
	}
	if f.City != "" && !strings.EqualFold(cast.ToString(v.FormData[model.CityKey]), f.City) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hay := []string{strings.ToLower(v.ID)}
		for _, k := range model.SearchKeys {
			hay = append(hay, strings.ToLower(cast.ToString(v.FormData[k])))
		}
		found := false
		for _, h := range hay {
			if strings.Contains(h, needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) SaveVendorPartial(ctx context.Context, id string, update model.PartialUpdate) (model.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[id]
	if !ok {
		return model.Vendor{}, fmt.Errorf("vendor %s: %w", id, model.ErrNotFound)
	}
	v.FormData = workflow.Merge(v.FormData, update)
	v.UpdatedAt = s.now()
	s.vendors[id] = v
	return copyVendor(v), nil
}

func (s *Store) SetVendorStatus(ctx context.Context, id string, status model.VendorStatus) (model.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[id]
	if !ok {
		return model.Vendor{}, fmt.Errorf("vendor %s: %w", id, model.ErrNotFound)
	}
	v.Status = status
	v.UpdatedAt = s.now()
	s.vendors[id] = v
	return copyVendor(v), nil
}

func (s *Store) VendorSummary(ctx context.Context) (model.VendorSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := model.VendorSummary{MonthlyRequests: []model.MonthlyCount{}}
	months := make(map[[2]int]int)
	for _, v := range s.vendors {
		sum.Total++
		switch v.Status {
		case model.VendorPending:
			sum.Pending++
		case model.VendorApproved:
			sum.Approved++
		case model.VendorRejected:
			sum.Rejected++
		}
		created := v.CreatedAt.UTC()
		months[[2]int{created.Year(), int(created.Month())}]++
	}
	for k, n := range months {
		sum.MonthlyRequests = append(sum.MonthlyRequests, model.MonthlyCount{Year: k[0], Month: k[1], Count: n})
	}
	sort.Slice(sum.MonthlyRequests, func(i, j int) bool {
		a, b := sum.MonthlyRequests[i], sum.MonthlyRequests[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
	return sum, nil
}

func (s *Store) CreateEditRequest(ctx context.Context, req model.EditRequest) (model.EditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vendors[req.VendorID]; !ok {
		return model.EditRequest{}, fmt.Errorf("vendor %s: %w", req.VendorID, model.ErrNotFound)
	}
	if _, dup := s.requests[req.ID]; dup {
		return model.EditRequest{}, fmt.Errorf("%w: edit request %s already exists", model.ErrInvalidInput, req.ID)
	}
	s.requests[req.ID] = copyRequest(req)
	return copyRequest(req), nil
}

func (s *Store) GetEditRequest(ctx context.Context, id string) (model.EditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return model.EditRequest{}, fmt.Errorf("edit request %s: %w", id, model.ErrNotFound)
	}
	return copyRequest(req), nil
}

func (s *Store) LoadPendingEditRequests(ctx context.Context) ([]model.EditRequest, error) {
	return s.ListEditRequests(ctx, model.ReviewPending)
}

func (s *Store) ListEditRequests(ctx context.Context, status model.ReviewState) ([]model.EditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.EditRequest{}
	for _, req := range s.requests {
		if status == "" || req.Status == status {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveEditRequestTransition(ctx context.Context, id string, decision model.Decision, remark, reviewer string) (model.EditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return model.EditRequest{}, fmt.Errorf("edit request %s: %w", id, model.ErrNotFound)
	}
	now := s.now()
	decided, err := workflow.Decide(req, decision, remark, reviewer, now)
	if err != nil {
		return model.EditRequest{}, err
	}

	if decided.Status == model.ReviewApproved {
		v, ok := s.vendors[req.VendorID]
		if !ok {
			return model.EditRequest{}, fmt.Errorf("vendor %s: %w", req.VendorID, model.ErrNotFound)
		}
		v.FormData = workflow.Merge(v.FormData, req.Changes)
		v.UpdatedAt = now
		s.vendors[v.ID] = v
	}
	s.requests[id] = decided
	return copyRequest(decided), nil
}

func (s *Store) MarkEditRequestsSeen(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		req, ok := s.requests[id]
		if !ok {
			continue
		}
		if seen, changed := workflow.MarkSeen(req); changed {
			s.requests[id] = seen
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnseenEditRequests(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := make([]model.EditRequest, 0, len(s.requests))
	for _, req := range s.requests {
		reqs = append(reqs, req)
	}
	return workflow.UnreadCount(reqs), nil
}

func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.users[u.ID]; dup {
		return model.User{}, fmt.Errorf("%w: user %s already exists", model.ErrConflict, u.ID)
	}
	if err := s.usernameFree(u); err != nil {
		return model.User{}, err
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user %q: %w", username, model.ErrNotFound)
}

func (s *Store) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.User{}
	for _, u := range s.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveUser(ctx context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", u.ID, model.ErrNotFound)
	}
	if err := s.usernameFree(u); err != nil {
		return model.User{}, err
	}
	u.CreatedAt = cur.CreatedAt
	u.UpdatedAt = s.now()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	delete(s.users, id)
	return nil
}

// usernameFree expects s.mu to be held
func (s *Store) usernameFree(u model.User) error {
	for id, other := range s.users {
		if id != u.ID && strings.EqualFold(other.Username, u.Username) {
			return fmt.Errorf("%w: username %q is taken", model.ErrConflict, u.Username)
		}
	}
	return nil
}

func copyVendor(v model.Vendor) model.Vendor {
	data := make(map[string]interface{}, len(v.FormData))
	for k, val := range v.FormData {
		data[k] = val
	}
	v.FormData = data
	return v
}

func copyRequest(r model.EditRequest) model.EditRequest {
	if r.Changes != nil {
		changes := make(model.PartialUpdate, len(r.Changes))
		for k, val := range r.Changes {
			changes[k] = val
		}
		r.Changes = changes
	}
	return r
}
