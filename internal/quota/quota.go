// Package quota enforces the monthly task allowance of a tenant's plan.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/internal/plan"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

var ErrQuotaExceeded = errors.New("monthly task quota exceeded")

// Usage is a tenant's consumption in the current calendar month (UTC).
// Limit is plan.Unlimited for tiers without an allowance.
type Usage struct {
	Used  int `json:"quotaUsed"`
	Limit int `json:"quotaLimit"`
}

// Counter counts jobs a tenant created since a point in time.
type Counter interface {
	CountJobsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
}

// Checker is the entitlement collaborator consulted before a job is created.
type Checker interface {
	CheckQuota(ctx context.Context, tenant *models.Tenant) error
	Usage(ctx context.Context, tenant *models.Tenant) (Usage, error)
}

// Monthly derives usage from the job store, so no separate counter has to be
// kept consistent with it.
type Monthly struct {
	counter Counter
	now     func() time.Time
}

func NewMonthly(counter Counter) *Monthly {
	return &Monthly{counter: counter, now: time.Now}
}

// NewMonthlyWithClock is NewMonthly driven by now.
func NewMonthlyWithClock(counter Counter, now func() time.Time) *Monthly {
	return &Monthly{counter: counter, now: now}
}

func (m *Monthly) Usage(ctx context.Context, tenant *models.Tenant) (Usage, error) {
	p := plan.Lookup(tenant.Plan)
	used, err := m.counter.CountJobsSince(ctx, tenant.ID, MonthStart(m.now()))
	if err != nil {
		return Usage{}, fmt.Errorf("count monthly jobs: %w", err)
	}
	return Usage{Used: used, Limit: p.TasksPerMonth}, nil
}

// CheckQuota returns ErrQuotaExceeded once the tenant has used its allowance.
func (m *Monthly) CheckQuota(ctx context.Context, tenant *models.Tenant) error {
	if plan.Lookup(tenant.Plan).TasksPerMonth == plan.Unlimited {
		return nil
	}
	u, err := m.Usage(ctx, tenant)
	if err != nil {
		return err
	}
	if u.Used >= u.Limit {
		return fmt.Errorf("%w: %d of %d tasks used", ErrQuotaExceeded, u.Used, u.Limit)
	}
	return nil
}

// MonthStart is midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

var _ Checker = (*Monthly)(nil)
