// Package scheduler implements the periodic jobs of the engine: dispatching
// due Delivery Records and rolling usage periods over.
//
// Both jobs are triggered from outside (an EventBridge rule invoking the
// dispatcher Lambda, or a local cron) with a TaskPayload naming the task.
package scheduler

import "time"

// TaskType identifies which job a scheduled invocation runs.
type TaskType string

const (
	TaskDispatchDue   TaskType = "dispatch_due"
	TaskRolloverUsage TaskType = "rollover_usage"
)

// TaskPayload is the JSON payload of a scheduled invocation:
//
//	{
//	  "task": "dispatch_due",
//	  "reference_time": "2025-12-10T05:00:00Z",  // optional
//	  "limit": 100                               // optional
//	}
type TaskPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual runs and backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}
