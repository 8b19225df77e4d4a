package store

import (
	"context"
	"errors"

	"github.com/dunamismax/docflow/internal/domain"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// JobStore is the registry of job records, the single piece of shared
// mutable state in the system. Update applies the mutator under the store's
// exclusive lock so concurrent read-modify-write on the same id cannot lose
// updates, and a mutation is visible to every subsequent Get.
type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	Update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error)
	SetStatus(ctx context.Context, id, status string) (domain.Job, error)
}
