package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
)

// MemoryJobStore keeps job records in a mutex-guarded map for the lifetime
// of the process. There is no eviction or TTL; bounded retention is a
// deliberate non-goal of this service.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

// Update applies the mutator to the stored record under the write lock. A
// mutation that would move the status backward, or out of a terminal state,
// is rejected without applying any of its changes.
func (s *MemoryJobStore) Update(_ context.Context, id string, mutate func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	updated := job
	mutate(&updated)
	if updated.Status != job.Status && !domain.CanTransition(job.Status, updated.Status) {
		return domain.Job{}, ErrInvalidTransition
	}

	s.jobs[id] = updated
	return updated, nil
}

// SetStatus advances the job's status, stamping CompletedAt when the new
// status is terminal.
func (s *MemoryJobStore) SetStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.Update(ctx, id, func(job *domain.Job) {
		job.Status = status
		if status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
			job.CompletedAt = s.now().UTC()
		}
	})
}
