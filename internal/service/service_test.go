package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vendorbox/internal/db"
	"vendorbox/internal/memstore"
	"vendorbox/internal/model"
	"vendorbox/internal/normalize"
	"vendorbox/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ Store = (*memstore.Store)(nil)
	_ Store = (*db.Queries)(nil)
)

// MockEventBus implements EventBus for testing
type MockEventBus struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (m *MockEventBus) record(event map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventBus) PublishAdmin(event map[string]interface{}) error { return m.record(event) }

func (m *MockEventBus) PublishVendor(vendorID string, event map[string]interface{}) error {
	return m.record(event)
}

func (m *MockEventBus) PublishEditRequest(requestID string, event map[string]interface{}) error {
	return m.record(event)
}

func (m *MockEventBus) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e["type"].(string))
	}
	return out
}

// MockJobClient records scheduled jobs
type MockJobClient struct {
	reminders []string
	audits    []string
}

func (m *MockJobClient) ScheduleEditRequestReminder(requestID string, remindAt time.Time) error {
	m.reminders = append(m.reminders, requestID)
	return nil
}

func (m *MockJobClient) ScheduleVendorAudit(vendorID string) error {
	m.audits = append(m.audits, vendorID)
	return nil
}

type fixture struct {
	store    *memstore.Store
	bus      *MockEventBus
	jobs     *MockJobClient
	schemas  *SchemaService
	vendors  *VendorService
	requests *EditRequestService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	bus := &MockEventBus{}
	jobs := &MockJobClient{}
	log := zap.NewNop()
	engine := normalize.NewEngine(nil)

	schemas := NewSchemaService(store, schema.NewCompilerWithCache(16), bus, log)
	vendors := NewVendorService(store, schemas, engine, bus, log)
	vendors.SetJobClient(jobs)
	requests := NewEditRequestService(store, schemas, engine, bus, log)
	requests.SetJobClient(jobs, time.Hour)

	return &fixture{store: store, bus: bus, jobs: jobs, schemas: schemas, vendors: vendors, requests: requests}
}

// seedSchema creates a Basic section with fullAddress and a Pricing section
// with a required minimumOrderPrice.
func (f *fixture) seedSchema(t *testing.T) *schema.Snapshot {
	t.Helper()
	ctx := context.Background()

	snap, basic, err := f.schemas.CreateSection(ctx, 0, schema.SectionInput{Label: "Basic"})
	require.NoError(t, err)
	snap, _, err = f.schemas.CreateField(ctx, snap.Version(), basic.ID, schema.FieldInput{
		ID: "fullAddress", Label: "Address", Type: model.FieldText,
	})
	require.NoError(t, err)
	snap, pricing, err := f.schemas.CreateSection(ctx, snap.Version(), schema.SectionInput{Label: "Pricing"})
	require.NoError(t, err)
	snap, _, err = f.schemas.CreateField(ctx, snap.Version(), pricing.ID, schema.FieldInput{
		ID: "minimumOrderPrice", Label: "Minimum order", Type: model.FieldNumber, Required: true,
	})
	require.NoError(t, err)
	return snap
}

func (f *fixture) approvedVendor(t *testing.T, formData map[string]interface{}) model.Vendor {
	t.Helper()
	ctx := context.Background()
	v, err := f.vendors.Create(ctx, CreateVendorInput{VendorType: "restaurant", FormData: formData})
	require.NoError(t, err)
	v, err = f.vendors.SetStatus(ctx, v.ID, model.VendorApproved)
	require.NoError(t, err)
	return v
}

func TestSchemaService_OptimisticConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, _, err := f.schemas.CreateSection(ctx, 0, schema.SectionInput{Label: "Basic"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version())

	// A second admin still holding version 0 loses
	_, _, err = f.schemas.CreateSection(ctx, 0, schema.SectionInput{Label: "Pricing"})
	var stale *model.StaleSchemaError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(0), stale.Expected)
	assert.Equal(t, int64(1), stale.Actual)

	cur, err := f.schemas.Current(ctx)
	require.NoError(t, err)
	assert.Len(t, cur.Sections(), 1)

	old, err := f.schemas.Version(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, old.Sections())
	assert.Contains(t, f.bus.types(), "schema.section.created")
}

func TestSchemaService_ConcurrentReorders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.seedSchema(t)
	ids := []string{}
	for _, s := range snap.Sections() {
		ids = append(ids, s.ID)
	}
	reversed := []string{ids[1], ids[0]}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, order := range [][]string{reversed, ids} {
		wg.Add(1)
		go func(i int, order []string) {
			defer wg.Done()
			_, errs[i] = f.schemas.ReorderSections(ctx, snap.Version(), order)
		}(i, order)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			var stale *model.StaleSchemaError
			assert.True(t, errors.As(err, &stale))
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one concurrent reorder wins")
}

func TestSchemaService_DeleteSectionKeepsFormData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{"fullAddress": "MG Road", "minimumOrderPrice": 100})

	basic := snap.Sections()[0]
	next, removed, err := f.schemas.DeleteSection(ctx, snap.Version(), basic.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"fullAddress"}, removed)
	_, ok := next.Field("fullAddress")
	assert.False(t, ok)

	view, err := f.vendors.Get(ctx, v.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "MG Road", view.Data["fullAddress"], "orphaned formData passes through")
	assert.Equal(t, float64(100), view.Data["minimumOrderPrice"])
}

func TestVendorService_GetAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v, err := f.vendors.Create(ctx, CreateVendorInput{VendorType: "restaurant", FormData: map[string]interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, []string{v.ID}, f.jobs.audits)

	view, err := f.vendors.Get(ctx, v.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, normalize.IsMissing(view.Data["minimumOrderPrice"]))
	assert.Len(t, view.Sections, 2)

	view, update, err := f.vendors.Update(ctx, v.ID, normalize.FlatView{"minimumOrderPrice": "50"})
	require.NoError(t, err)
	assert.Equal(t, model.PartialUpdate{"minimumOrderPrice": float64(50)}, update)
	assert.Equal(t, float64(50), view.Data["minimumOrderPrice"])

	_, err = f.vendors.Get(ctx, "nope", model.RoleAdmin)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVendorService_UpdateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{"minimumOrderPrice": 10})

	_, _, err := f.vendors.Update(ctx, v.ID, normalize.FlatView{"minimumOrderPrice": "lots"})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "minimumOrderPrice", verr.Violations[0].Field)

	stored, err := f.store.LoadVendor(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.FormData["minimumOrderPrice"], "nothing is written on failure")
}

func TestVendorService_ImportCanonicalizesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.vendors.Import(ctx, []map[string]interface{}{
		{"_id": "legacy-1", "restaurantName": "Spice Hub", "restaurantStatus": "approved"},
		{"restaurantName": "No id"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "legacy-1", created[0].ID)
	assert.Equal(t, model.VendorApproved, created[0].Status)
	assert.NotEmpty(t, created[1].ID)

	view, err := f.vendors.Get(ctx, "legacy-1", model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "legacy-1", view.Data["id"])
	assert.NotContains(t, view.Data, "_id")
}

func TestVendorService_ListAndSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"Spice Hub", "Pasta Point", "Spice Garden"} {
		_, err := f.vendors.Create(ctx, CreateVendorInput{
			VendorType: "restaurant",
			FormData:   map[string]interface{}{"restaurantName": name, "city": "Pune"},
		})
		require.NoError(t, err)
	}
	f.approvedVendor(t, map[string]interface{}{"restaurantName": "Bar One", "city": "Goa"})

	views, page, err := f.vendors.List(ctx, model.VendorFilter{Search: "spice", Limit: 1}, model.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Equal(t, model.Pagination{Page: 1, Limit: 1, Total: 2, Pages: 2}, page)

	views, _, err = f.vendors.List(ctx, model.VendorFilter{City: "goa"}, model.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "approved", views[0]["status"])

	sum, err := f.vendors.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 3, sum.Pending)
	assert.Equal(t, 1, sum.Approved)
	require.Len(t, sum.MonthlyRequests, 1)
	assert.Equal(t, 4, sum.MonthlyRequests[0].Count)
}

func TestVendorService_AuditVendor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{})

	require.NoError(t, f.vendors.AuditVendor(ctx, v.ID))
	assert.Contains(t, f.bus.types(), "vendor.incomplete")
}

func TestEditRequest_ApproveMergesAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{"fullAddress": "old", "minimumOrderPrice": 100})

	req, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "221B Baker St"})
	require.NoError(t, err)
	assert.Equal(t, model.PartialUpdate{"fullAddress": "221B Baker St"}, req.Changes)
	assert.Equal(t, []string{req.ID}, f.jobs.reminders)

	n, err := f.requests.MarkSeen(ctx, []string{req.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	approved, err := f.requests.Approve(ctx, req.ID, "ok", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, approved.Status)
	assert.Equal(t, "ok", *approved.Remark)
	assert.True(t, approved.Seen, "seen is untouched by the decision")

	stored, err := f.store.LoadVendor(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "221B Baker St", stored.FormData["fullAddress"])
	assert.Equal(t, 100, stored.FormData["minimumOrderPrice"])
}

func TestEditRequest_TerminalStatesAndExactlyOnceMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{"minimumOrderPrice": 100})

	req, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"minimumOrderPrice": 150})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.requests.Approve(ctx, req.ID, "ok", "admin")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		var terr *model.InvalidStateTransitionError
		assert.ErrorAs(t, err, &terr)
	}
	assert.Equal(t, 1, wins)

	_, err = f.requests.Reject(ctx, req.ID, "too late", "admin")
	var terr *model.InvalidStateTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.ReviewApproved, terr.From)

	stored, err := f.store.LoadVendor(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(150), stored.FormData["minimumOrderPrice"])
}

func TestEditRequest_RejectLeavesVendorUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{"fullAddress": "old"})

	req, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "new"})
	require.NoError(t, err)

	rejected, err := f.requests.Reject(ctx, req.ID, "not verified", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewRejected, rejected.Status)

	stored, err := f.store.LoadVendor(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", stored.FormData["fullAddress"])

	_, err = f.requests.Approve(ctx, req.ID, "changed my mind", "admin-1")
	var terr *model.InvalidStateTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestEditRequest_SubmitRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)

	pending, err := f.vendors.Create(ctx, CreateVendorInput{VendorType: "restaurant"})
	require.NoError(t, err)
	_, err = f.requests.Submit(ctx, pending.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "x"})
	assert.ErrorIs(t, err, model.ErrInvalidInput, "vendor must be approved")

	v := f.approvedVendor(t, map[string]interface{}{"fullAddress": "same"})
	_, err = f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "same"})
	assert.ErrorIs(t, err, model.ErrInvalidInput, "empty diff")

	_, err = f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"minimumOrderPrice": "-"})
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.requests.Submit(ctx, "missing", model.RoleVendor, normalize.FlatView{"fullAddress": "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEditRequest_ApproveRevalidatesAgainstLatestSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{"minimumOrderPrice": 100})

	req, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "somewhere"})
	require.NoError(t, err)

	// fullAddress becomes a number after submission
	_, err = f.schemas.UpdateField(ctx, snap.Version(), "fullAddress", schema.FieldInput{
		Label: "Address code", Type: model.FieldNumber,
	})
	require.NoError(t, err)

	_, err = f.requests.Approve(ctx, req.ID, "ok", "admin")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	still, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, still.Status)
}

func TestEditRequest_ApproveChecksRequiredAddedAfterSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{"fullAddress": "old", "minimumOrderPrice": 100})

	req, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": ""})
	require.NoError(t, err)
	assert.Equal(t, model.PartialUpdate{"fullAddress": nil}, req.Changes)

	_, err = f.schemas.UpdateField(ctx, snap.Version(), "fullAddress", schema.FieldInput{
		Label: "Address", Type: model.FieldText, Required: true,
	})
	require.NoError(t, err)

	_, err = f.requests.Approve(ctx, req.ID, "ok", "admin")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "required", verr.Violations[0].Rule)

	still, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, still.Status)
	stored, err := f.store.LoadVendor(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", stored.FormData["fullAddress"])
}

// withInternalSection adds an admin-only section holding commissionRate
func (f *fixture) withInternalSection(t *testing.T, snap *schema.Snapshot) *schema.Snapshot {
	t.Helper()
	ctx := context.Background()
	snap, internal, err := f.schemas.CreateSection(ctx, snap.Version(), schema.SectionInput{
		Label: "Internal", VisibleTo: []model.Role{model.RoleAdmin},
	})
	require.NoError(t, err)
	snap, _, err = f.schemas.CreateField(ctx, snap.Version(), internal.ID, schema.FieldInput{
		ID: "commissionRate", Label: "Commission", Type: model.FieldNumber,
	})
	require.NoError(t, err)
	return snap
}

func TestVendor_HiddenSectionsLeaveData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.withInternalSection(t, f.seedSchema(t))
	v := f.approvedVendor(t, map[string]interface{}{"fullAddress": "MG Road", "commissionRate": 12.5})

	own, err := f.vendors.Get(ctx, v.ID, model.RoleVendor)
	require.NoError(t, err)
	assert.Equal(t, "MG Road", own.Data["fullAddress"])
	assert.Equal(t, v.ID, own.Data["id"])
	assert.NotContains(t, own.Data, "commissionRate")
	for _, sec := range own.Sections {
		assert.NotEqual(t, "Internal", sec.Label)
	}

	full, err := f.vendors.Get(ctx, v.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 12.5, full.Data["commissionRate"])

	views, _, err := f.vendors.List(ctx, model.VendorFilter{}, model.RoleAgent)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.NotContains(t, views[0], "commissionRate")

	views, _, err = f.vendors.List(ctx, model.VendorFilter{}, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 12.5, views[0]["commissionRate"])
}

func TestEditRequest_SubmitRejectsHiddenFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.withInternalSection(t, f.seedSchema(t))
	v := f.approvedVendor(t, map[string]interface{}{"fullAddress": "old", "commissionRate": 12.5})

	_, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{
		"fullAddress":    "new",
		"commissionRate": 0,
	})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "commissionRate", verr.Violations[0].Field)
	assert.Equal(t, "visibility", verr.Violations[0].Rule)

	pending, err := f.requests.List(ctx, model.ReviewPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	req, err := f.requests.Submit(ctx, v.ID, model.RoleAdmin, normalize.FlatView{"commissionRate": 10})
	require.NoError(t, err)
	assert.Equal(t, model.PartialUpdate{"commissionRate": float64(10)}, req.Changes)
}

func TestVendor_ListHugePageDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	f.approvedVendor(t, map[string]interface{}{})

	views, page, err := f.vendors.List(ctx, model.VendorFilter{Page: 1<<62 + 1, Limit: model.MaxPageLimit}, model.RoleAdmin)
	require.NoError(t, err)
	assert.Empty(t, views)
	assert.Equal(t, 1, page.Total)
}

func TestEditRequest_MarkSeenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{})

	a, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "a"})
	require.NoError(t, err)
	b, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "b"})
	require.NoError(t, err)

	unread, err := f.requests.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	n, err := f.requests.MarkSeen(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = f.requests.MarkSeen(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, id := range []string{a.ID, b.ID} {
		req, err := f.requests.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, req.Seen)
		assert.Equal(t, model.ReviewPending, req.Status)
	}

	unread, err = f.requests.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	pending, err := f.requests.List(ctx, model.ReviewPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestEditRequest_Reminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSchema(t)
	v := f.approvedVendor(t, map[string]interface{}{})

	req, err := f.requests.Submit(ctx, v.ID, model.RoleVendor, normalize.FlatView{"fullAddress": "a"})
	require.NoError(t, err)

	require.NoError(t, f.requests.RemindEditRequest(ctx, req.ID))
	assert.Contains(t, f.bus.types(), "editrequest.reminder")

	_, err = f.requests.MarkSeen(ctx, []string{req.ID})
	require.NoError(t, err)
	before := len(f.bus.types())
	require.NoError(t, f.requests.RemindEditRequest(ctx, req.ID))
	assert.Len(t, f.bus.types(), before, "seen requests are not reminded")
}
