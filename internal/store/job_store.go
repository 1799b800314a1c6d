// Package store persists jobs and per-user usage. MemoryJobStore backs tests
// and single-process runs; PostgresJobStore backs deployments.
package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelpass/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	// UpdateStatus sets status and the failure reason; reason is cleared for
	// non-failed statuses.
	UpdateStatus(ctx context.Context, id, status, reason string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
	UsageSummary(ctx context.Context, userID string) (domain.UsageSummary, error)
}
