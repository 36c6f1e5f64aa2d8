package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Mutator edits a copy of a job inside UpdateJob. Returning an error aborts
// the update without writing anything.
type Mutator func(j *models.Job) error

// Store is the data access interface. All persistence goes through here.
// Implementations must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantByName(ctx context.Context, name string) (*models.Tenant, error)

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ListJobs returns the tenant's jobs in creation order.
	ListJobs(ctx context.Context, tenantID uuid.UUID) ([]*models.Job, error)
	// UpdateJob applies fn to a copy of the job, checks the result against the
	// lifecycle rules and commits it atomically. Concurrent updates to the same
	// job are serialized.
	UpdateJob(ctx context.Context, id uuid.UUID, fn Mutator) (*models.Job, error)
	// CountJobsSince counts the tenant's jobs created at or after since.
	CountJobsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
	JobStats(ctx context.Context) (models.JobStats, error)
}

// applyUpdate runs fn on a copy of prev and validates the outcome.
func applyUpdate(prev *models.Job, fn Mutator, now time.Time) (*models.Job, error) {
	next := prev.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := models.ValidateUpdate(prev, next); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	return next, nil
}
