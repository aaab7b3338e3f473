// Package scheduler runs escalation sweeps on a schedule. The same SweepJob
// serves the EventBridge-triggered Lambda and the long-running cron runner:
// it takes an optional job lock, records history, and runs one sweep.
package scheduler

import "time"

// TaskType identifies the job an EventBridge event asks for.
type TaskType string

const (
	TaskEscalationSweep TaskType = "escalation_sweep"
)

// SweepPayload is the JSON payload sent by EventBridge to the escalator
// Lambda:
//
//	{
//	  "task": "escalation_sweep",
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type SweepPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime pins "now" for manual runs and backfills. If nil, the
	// wall clock is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
