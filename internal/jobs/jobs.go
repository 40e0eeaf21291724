package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vendorbox/internal/model"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeEditRequestReminder = "editrequest:remind"
	TypeVendorAudit         = "vendor:audit"
)

// EditRequestReminder nudges admins about an unseen pending request
type EditRequestReminder interface {
	RemindEditRequest(ctx context.Context, requestID string) error
}

// VendorAuditor reports vendors missing required fields
type VendorAuditor interface {
	AuditVendor(ctx context.Context, vendorID string) error
}

type JobServer struct {
	server   *asynq.Server
	client   *asynq.Client
	reminder EditRequestReminder
	auditor  VendorAuditor
	log      *zap.Logger
}

func NewJobServer(redisAddr string, reminder EditRequestReminder, auditor VendorAuditor, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
			Logger: newLogger(log),
		},
	)

	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server:   server,
		client:   client,
		reminder: reminder,
		auditor:  auditor,
		log:      log,
	}, client
}

// Mux routes task types to handlers
func (js *JobServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEditRequestReminder, js.handleEditRequestReminder)
	mux.HandleFunc(TypeVendorAudit, js.handleVendorAudit)
	return mux
}

func (js *JobServer) Start() error {
	return js.server.Start(js.Mux())
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

func (js *JobServer) handleEditRequestReminder(ctx context.Context, t *asynq.Task) error {
	requestID := string(t.Payload())
	if err := js.reminder.RemindEditRequest(ctx, requestID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			js.log.Warn("Edit request gone, dropping reminder", zap.String("edit_request_id", requestID))
			return nil
		}
		return fmt.Errorf("failed to remind edit request %s: %w", requestID, err)
	}
	return nil
}

func (js *JobServer) handleVendorAudit(ctx context.Context, t *asynq.Task) error {
	vendorID := string(t.Payload())
	if err := js.auditor.AuditVendor(ctx, vendorID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			js.log.Warn("Vendor gone, dropping audit", zap.String("vendor_id", vendorID))
			return nil
		}
		return fmt.Errorf("failed to audit vendor %s: %w", vendorID, err)
	}
	return nil
}

// Schedule jobs

func ScheduleEditRequestReminder(client *asynq.Client, requestID string, remindAt time.Time) error {
	if remindAt.Before(time.Now()) {
		return nil // Already past reminder time
	}

	task := asynq.NewTask(TypeEditRequestReminder, []byte(requestID))
	_, err := client.Enqueue(task, asynq.ProcessIn(time.Until(remindAt)), asynq.Queue("low"))
	return err
}

func ScheduleVendorAudit(client *asynq.Client, vendorID string) error {
	task := asynq.NewTask(TypeVendorAudit, []byte(vendorID))
	_, err := client.Enqueue(task, asynq.MaxRetry(3))
	return err
}
