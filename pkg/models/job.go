package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued           = "queued"
	JobStatusRunningProducer  = "running_producer"
	JobStatusRunningValidator = "running_validator"
	JobStatusCompleted        = "completed"
	JobStatusFailed           = "failed"
	JobStatusCancelled        = "cancelled"
)

// ErrInvalidTransition is returned when a status change is not permitted by
// the job lifecycle.
var ErrInvalidTransition = errors.New("invalid job status transition")

// validTransitions lists the forward moves allowed from each non-terminal
// status. Terminal statuses have no entry.
var validTransitions = map[string][]string{
	JobStatusQueued:           {JobStatusRunningProducer, JobStatusFailed, JobStatusCancelled},
	JobStatusRunningProducer:  {JobStatusRunningValidator, JobStatusFailed},
	JobStatusRunningValidator: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from status.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobResult holds the outputs of both pipeline stages.
type JobResult struct {
	Artifact string `json:"artifact"`
	Report   string `json:"report"`
}

// JobError records which stage failed and why.
type JobError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Job is one tenant's request to run the generation pipeline. The API returns
// a jobId on POST /generate; the client polls GET /jobs/{jobId} until the
// status is terminal.
type Job struct {
	ID           uuid.UUID  `db:"id"           json:"jobId"`
	TenantID     uuid.UUID  `db:"tenant_id"    json:"-"`
	Description  string     `db:"description"  json:"description"`
	Language     string     `db:"language"     json:"language"`
	Framework    string     `db:"framework"    json:"framework,omitempty"`
	Requirements []string   `db:"requirements" json:"requirements,omitempty"`
	Status       string     `db:"status"       json:"status"`
	Result       *JobResult `json:"result,omitempty"`
	Error        *JobError  `json:"error,omitempty"`
	StartedAt    *time.Time `db:"started_at"   json:"startedAt,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt    time.Time  `db:"created_at"   json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at"   json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate it without touching the
// stored record.
func (j *Job) Clone() *Job {
	c := *j
	if j.Requirements != nil {
		c.Requirements = append([]string(nil), j.Requirements...)
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Prompt builds the full task text handed to the producing stage.
func (j *Job) Prompt() string {
	p := j.Description
	hint := ""
	if j.Language != "" {
		hint = "Use " + j.Language
	}
	if j.Framework != "" {
		if hint == "" {
			hint = "Use"
		}
		hint += " with " + j.Framework
	}
	if hint != "" {
		p += "\n" + hint
	}
	if len(j.Requirements) > 0 {
		p += "\nRequirements:"
		for _, r := range j.Requirements {
			p += "\n- " + r
		}
	}
	return p
}

// CheckInvariants verifies that result and error are present exactly when the
// status calls for them.
func (j *Job) CheckInvariants() error {
	if (j.Result != nil) != (j.Status == JobStatusCompleted) {
		return fmt.Errorf("job %s: result must be set iff status is %s (status %s)", j.ID, JobStatusCompleted, j.Status)
	}
	if (j.Error != nil) != (j.Status == JobStatusFailed) {
		return fmt.Errorf("job %s: error must be set iff status is %s (status %s)", j.ID, JobStatusFailed, j.Status)
	}
	return nil
}

// ValidateUpdate checks that next is a legal successor of prev.
func ValidateUpdate(prev, next *Job) error {
	if next.ID != prev.ID || next.TenantID != prev.TenantID {
		return fmt.Errorf("job %s: identity and owner are immutable", prev.ID)
	}
	if !CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	return next.CheckInvariants()
}

// JobStats summarizes job counts for the metrics endpoint.
type JobStats struct {
	Total    int            `json:"totalJobs"`
	ByStatus map[string]int `json:"byStatus"`
}
