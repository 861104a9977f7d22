package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/pdfops/internal/apperr"
)

const (
	jobKeyPrefix  = "job:"
	runningIndex  = "jobs:running"
	maxTxAttempts = 16
)

var errJobExists = errors.New("job id already exists")

// Store はジョブ状態の永続化先です。
// Mutate は同一ジョブへの更新を直列化し、fn がエラーを返した場合は何も書き込みません。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Mutate(ctx context.Context, jobID string, fn func(*Job) error) (*Job, error)
	Delete(ctx context.Context, jobID string) error
	ListRunning(ctx context.Context) ([]string, error)
}

// RedisStore はジョブ状態を Redis に保存します。
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。ttl は最終更新からの保持期間です。
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create はジョブを新規作成します。同じIDが存在する場合は上書きしません。
func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("job with id is required")
	}
	s.stamp(job)
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(job.JobID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errJobExists
	}
	return nil
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, apperr.ErrNotFound
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Mutate は WATCH/MULTI による楽観ロックでジョブを更新します。
func (s *RedisStore) Mutate(ctx context.Context, jobID string, fn func(*Job) error) (*Job, error) {
	key := jobKey(jobID)
	var updated *Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apperr.ErrNotFound
			}
			return err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		s.stamp(&job)
		payload, err := json.Marshal(&job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			if job.Status == StatusRunning {
				pipe.SAdd(ctx, runningIndex, job.JobID)
			} else {
				pipe.SRem(ctx, runningIndex, job.JobID)
			}
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", jobID)
}

// Delete はジョブを削除します。
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(jobID))
		pipe.SRem(ctx, runningIndex, jobID)
		return nil
	})
	return err
}

// ListRunning は running のジョブIDを返します（期限切れで消えたIDを含む場合があります）。
func (s *RedisStore) ListRunning(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, runningIndex).Result()
}

func (s *RedisStore) stamp(job *Job) {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if s.ttl > 0 {
		job.ExpiresAt = now.Add(s.ttl)
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
