package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

type jobEntry struct {
	mu  sync.Mutex
	job *models.Job
}

// tenantIndex lists one tenant's job ids in creation order.
type tenantIndex struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

// MemoryStore keeps everything in process. Jobs and per-tenant indexes are
// locked individually, so writes for different jobs or tenants never
// contend. Tenants and keys share one RWMutex; they are written only when
// provisioning.
type MemoryStore struct {
	jobs     sync.Map // uuid.UUID -> *jobEntry
	byTenant sync.Map // uuid.UUID -> *tenantIndex

	mu      sync.RWMutex
	tenants map[uuid.UUID]*models.Tenant
	keys    map[uuid.UUID]*models.APIKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[uuid.UUID]*models.Tenant),
		keys:    make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Tenants ---

func (s *MemoryStore) CreateTenant(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return ErrDuplicateKey
	}
	for _, existing := range s.tenants {
		if existing.Name == t.Name {
			return ErrDuplicateKey
		}
	}
	c := *t
	s.tenants[t.ID] = &c
	return nil
}

func (s *MemoryStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) GetTenantByName(_ context.Context, name string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.Name == name {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// --- API Keys ---

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.tenants[key.TenantID]; !ok {
		return ErrNotFound
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	if _, loaded := s.jobs.LoadOrStore(job.ID, &jobEntry{job: job.Clone()}); loaded {
		return ErrDuplicateKey
	}
	v, _ := s.byTenant.LoadOrStore(job.TenantID, &tenantIndex{})
	idx := v.(*tenantIndex)
	idx.mu.Lock()
	idx.ids = append(idx.ids, job.ID)
	idx.mu.Unlock()
	return nil
}

func (s *MemoryStore) entry(id uuid.UUID) (*jobEntry, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*jobEntry), true
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, tenantID uuid.UUID) ([]*models.Job, error) {
	var ids []uuid.UUID
	if v, ok := s.byTenant.Load(tenantID); ok {
		idx := v.(*tenantIndex)
		idx.mu.Lock()
		ids = append(ids, idx.ids...)
		idx.mu.Unlock()
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, fn Mutator) (*models.Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := applyUpdate(e.job, fn, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	e.job = next
	return next.Clone(), nil
}

func (s *MemoryStore) CountJobsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	jobs, err := s.ListJobs(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if !j.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) JobStats(_ context.Context) (models.JobStats, error) {
	stats := models.JobStats{ByStatus: make(map[string]int)}
	s.jobs.Range(func(_, v any) bool {
		e := v.(*jobEntry)
		e.mu.Lock()
		stats.ByStatus[e.job.Status]++
		e.mu.Unlock()
		stats.Total++
		return true
	})
	return stats, nil
}

var _ Store = (*MemoryStore)(nil)
