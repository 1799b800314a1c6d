package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelpass/internal/domain"
)

type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(ctx context.Context, id, status, reason string) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.Error = ""
	if status == domain.JobStatusFailed {
		job.Error = reason
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

func (s *MemoryJobStore) UsageSummary(ctx context.Context, userID string) (domain.UsageSummary, error) {
	if err := ctx.Err(); err != nil {
		return domain.UsageSummary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := domain.UsageSummary{UserID: userID}
	for _, u := range s.usage {
		if u.UserID != userID {
			continue
		}
		sum.Jobs++
		sum.PixelsProcessed += u.PixelsProcessed
		sum.BytesSaved += u.BytesSaved
		sum.ComputeTimeMS += u.ComputeTimeMS
	}
	return sum, nil
}
