package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// Job event channels and status keys
	jobEventChannelPrefix = "beatvault:jobs:"
	jobStatusKeyPrefix    = "beatvault:job:"

	// How long a mirrored job status survives after its last update
	jobStatusTTL = 48 * time.Hour
)

// JobEvent is the payload pushed to observers when a job changes state or
// makes progress. Progress events are advisory; terminal events always
// follow a state change that is also visible through the status endpoint.
type JobEvent struct {
	JobID     string `json:"job_id"`
	AccountID uint   `json:"account_id"`
	Event     string `json:"event"` // queued, progress, completed, failed
	Progress  int    `json:"progress,omitempty"`
}

// PublishJobEvent pushes a job event to the account's channel and mirrors the
// latest state under the job's status key. Delivery is best-effort: a Redis
// failure never blocks or fails the job itself.
func PublishJobEvent(ev JobEvent) error {
	if Redis == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	channel := fmt.Sprintf("%s%d", jobEventChannelPrefix, ev.AccountID)
	if err := Redis.Publish(ctx, channel, data).Err(); err != nil {
		return err
	}

	return Redis.Set(ctx, jobStatusKeyPrefix+ev.JobID, data, jobStatusTTL).Err()
}
