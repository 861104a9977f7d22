package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/pdfops/internal/apperr"
)

// MemoryStore はプロセス内でジョブ状態を保持します。開発用とテスト用です。
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。ttl が 0 の場合は期限切れになりません。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("job with id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(job.JobID); ok {
		return errJobExists
	}
	s.stamp(job)
	s.jobs[job.JobID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.lookup(jobID)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Mutate(ctx context.Context, jobID string, fn func(*Job) error) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.lookup(jobID)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	job := current.Clone()
	if err := fn(job); err != nil {
		return nil, err
	}
	s.stamp(job)
	s.jobs[jobID] = job
	return job.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) ListRunning(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id := range s.jobs {
		if job, ok := s.lookup(id); ok && job.Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// lookup は期限切れのジョブを削除しつつ取得します。呼び出し側でロックを保持してください。
func (s *MemoryStore) lookup(jobID string) (*Job, bool) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	if !job.ExpiresAt.IsZero() && s.now().After(job.ExpiresAt) {
		delete(s.jobs, jobID)
		return nil, false
	}
	return job, true
}

func (s *MemoryStore) stamp(job *Job) {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if s.ttl > 0 {
		job.ExpiresAt = now.Add(s.ttl)
	}
}
