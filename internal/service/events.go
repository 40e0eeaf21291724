package service

import "time"

// EventBus publishes live events to admin consoles and vendor channels
type EventBus interface {
	PublishAdmin(event map[string]interface{}) error
	PublishVendor(vendorID string, event map[string]interface{}) error
	PublishEditRequest(requestID string, event map[string]interface{}) error
}

// JobClient schedules background jobs
type JobClient interface {
	ScheduleEditRequestReminder(requestID string, remindAt time.Time) error
	ScheduleVendorAudit(vendorID string) error
}

type nopBus struct{}

func (nopBus) PublishAdmin(map[string]interface{}) error               { return nil }
func (nopBus) PublishVendor(string, map[string]interface{}) error      { return nil }
func (nopBus) PublishEditRequest(string, map[string]interface{}) error { return nil }

func busOrNop(bus EventBus) EventBus {
	if bus == nil {
		return nopBus{}
	}
	return bus
}
