// Package queue carries notification jobs over RabbitMQ: the payloads, a
// publisher used by the booking service and the consumer worker that
// sends the emails.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Audiences a notification job can target.
const (
	AudienceCustomer = "customer"
	AudienceProvider = "provider"
)

// NotificationJob asks the worker to send one confirmation email for a
// freshly created booking. The worker reloads everything else from the
// database so the job stays small and never carries stale prices.
type NotificationJob struct {
	BookingID string `json:"booking_id"`
	Audience  string `json:"audience"`
}

// DecodeJob parses and validates a job body.
func DecodeJob(body []byte) (NotificationJob, error) {
	var job NotificationJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("unmarshal: %w", err)
	}
	if job.BookingID == "" {
		return job, errors.New("missing booking_id")
	}
	if job.Audience != AudienceCustomer && job.Audience != AudienceProvider {
		return job, fmt.Errorf("unknown audience %q", job.Audience)
	}
	return job, nil
}
