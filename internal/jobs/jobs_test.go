package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"vendorbox/internal/model"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeTarget struct {
	reminded []string
	audited  []string
	err      error
}

func (f *fakeTarget) RemindEditRequest(ctx context.Context, id string) error {
	f.reminded = append(f.reminded, id)
	return f.err
}

func (f *fakeTarget) AuditVendor(ctx context.Context, id string) error {
	f.audited = append(f.audited, id)
	return f.err
}

func newTestServer(target *fakeTarget) *JobServer {
	return &JobServer{reminder: target, auditor: target, log: zap.NewNop()}
}

func TestMux_RoutesTasks(t *testing.T) {
	target := &fakeTarget{}
	mux := newTestServer(target).Mux()
	ctx := context.Background()

	assert.NoError(t, mux.ProcessTask(ctx, asynq.NewTask(TypeEditRequestReminder, []byte("r1"))))
	assert.NoError(t, mux.ProcessTask(ctx, asynq.NewTask(TypeVendorAudit, []byte("v1"))))
	assert.Equal(t, []string{"r1"}, target.reminded)
	assert.Equal(t, []string{"v1"}, target.audited)

	assert.Error(t, mux.ProcessTask(ctx, asynq.NewTask("unknown", nil)))
}

func TestHandlers_NotFoundIsDone(t *testing.T) {
	target := &fakeTarget{err: fmt.Errorf("vendor v1: %w", model.ErrNotFound)}
	mux := newTestServer(target).Mux()
	assert.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TypeVendorAudit, []byte("v1"))))
	assert.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TypeEditRequestReminder, []byte("r1"))))
}

func TestHandlers_TransientErrorRetries(t *testing.T) {
	target := &fakeTarget{err: errors.New("connection reset")}
	mux := newTestServer(target).Mux()
	err := mux.ProcessTask(context.Background(), asynq.NewTask(TypeEditRequestReminder, []byte("r1")))
	assert.ErrorContains(t, err, "r1")
}
