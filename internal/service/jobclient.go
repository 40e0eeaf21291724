package service

import (
	"time"

	"vendorbox/internal/jobs"

	"github.com/hibiken/asynq"
)

// AsynqJobClient implements JobClient using asynq
type AsynqJobClient struct {
	client *asynq.Client
}

func NewAsynqJobClient(client *asynq.Client) *AsynqJobClient {
	return &AsynqJobClient{client: client}
}

func (c *AsynqJobClient) ScheduleEditRequestReminder(requestID string, remindAt time.Time) error {
	return jobs.ScheduleEditRequestReminder(c.client, requestID, remindAt)
}

func (c *AsynqJobClient) ScheduleVendorAudit(vendorID string) error {
	return jobs.ScheduleVendorAudit(c.client, vendorID)
}
