package cron

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled maintenance task.
type Job struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schedule  string         `json:"schedule"`            // Cron expression, 6 fields
	Task      string         `json:"task"`                // Registered task name
	Arguments map[string]any `json:"arguments,omitempty"` // Passed to the task
	Enabled   bool           `json:"enabled"`
	CreatedAt time.Time      `json:"created_at"`
	LastRun   *time.Time     `json:"last_run,omitempty"`
	LastError string         `json:"last_error,omitempty"`

	// Runtime only.
	EntryID cron.EntryID `json:"-"`
}

// Clone creates a deep copy of the job
func (j *Job) Clone() *Job {
	clone := *j
	if j.LastRun != nil {
		lastRun := *j.LastRun
		clone.LastRun = &lastRun
	}
	if j.Arguments != nil {
		clone.Arguments = make(map[string]any, len(j.Arguments))
		for k, v := range j.Arguments {
			clone.Arguments[k] = v
		}
	}
	return &clone
}
