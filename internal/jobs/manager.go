// Package jobs は非同期ジョブの投入・状態管理・進捗配信を提供します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/pdfops/internal/apperr"
	"github.com/yourusername/pdfops/internal/pdf"
)

// Executor は1件のジョブを実行します。pdf.Service が実装します。
type Executor interface {
	Run(ctx context.Context, op pdf.OperationType, documentID string, reporter pdf.ProgressReporter) (*pdf.Result, error)
}

// Options は Manager の依存関係と設定です。
type Options struct {
	Store    Store
	Broker   Broker
	Executor Executor
	Logger   *slog.Logger
	Metrics  *Metrics
	// Lease は running のジョブが進捗を報告せずにいられる時間です。
	Lease time.Duration
	// StaleGrace はリース切れから失敗扱いにするまでの猶予です。
	StaleGrace time.Duration
	Now        func() time.Time
}

// Manager はジョブの投入と状態管理を担います。
// ストアへの読み書きはすべて Manager を経由します。
type Manager struct {
	store      Store
	broker     Broker
	executor   Executor
	logger     *slog.Logger
	metrics    *Metrics
	lease      time.Duration
	staleGrace time.Duration
	now        func() time.Time
}

// NewManager は Manager を初期化します。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("store is nil")
	}
	if opts.Broker == nil {
		return nil, errors.New("broker is nil")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	staleGrace := opts.StaleGrace
	if staleGrace <= 0 {
		staleGrace = 2 * lease
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:      opts.Store,
		broker:     opts.Broker,
		executor:   opts.Executor,
		logger:     logger,
		metrics:    opts.Metrics,
		lease:      lease,
		staleGrace: staleGrace,
		now:        now,
	}, nil
}

// StartWorkers はブローカーからの配信を受けてジョブを実行し始めます。
func (m *Manager) StartWorkers() error {
	return m.broker.Start(m.handleTask)
}

// Shutdown はワーカーを停止します。
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.broker.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue はジョブを queued で作成してキューに投入し、ジョブIDを返します。
func (m *Manager) Enqueue(ctx context.Context, kind pdf.OperationType, documentID string) (string, error) {
	if !kind.Valid() {
		return "", apperr.New(apperr.ErrInvalidInput, fmt.Sprintf("未対応の処理種別です: %s", kind))
	}
	if documentID == "" {
		return "", apperr.New(apperr.ErrInvalidInput, "documentId を指定してください。")
	}

	now := m.now()
	job := &Job{
		JobID:      uuid.NewString(),
		Kind:       kind,
		DocumentID: documentID,
		Status:     StatusQueued,
		Progress:   0,
		Stage:      "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		m.metrics.enqueueFailed(string(kind))
		return "", apperr.Wrap(apperr.ErrQueueUnavailable, "", err)
	}

	if err := m.broker.Publish(ctx, TaskMessage{
		JobID:      job.JobID,
		Kind:       kind,
		DocumentID: documentID,
	}); err != nil {
		m.metrics.enqueueFailed(string(kind))
		if delErr := m.store.Delete(context.WithoutCancel(ctx), job.JobID); delErr != nil {
			err = fmt.Errorf("%w (cleanup failed: %v)", err, delErr)
		}
		return "", apperr.Wrap(apperr.ErrQueueUnavailable, "", err)
	}

	m.metrics.jobEnqueued(string(kind))
	m.logger.Info("job enqueued", "jobId", job.JobID, "kind", kind, "documentId", documentID)
	return job.JobID, nil
}

// Update は状態機械に従ってジョブを更新します。
func (m *Manager) Update(ctx context.Context, jobID string, u Update) (*Job, error) {
	job, err := m.store.Mutate(ctx, jobID, func(job *Job) error {
		return applyUpdate(job, u, m.now(), m.lease)
	})
	if err != nil {
		return nil, classify(err)
	}
	if job.Status.Terminal() {
		m.metrics.jobFinished(string(job.Kind), job.Status)
	}
	return job, nil
}

// Get はジョブのスナップショットを返します。実行の完了は待ちません。
func (m *Manager) Get(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}
	return job, nil
}

// Cancel は queued/running のジョブを cancelled にします。
// 実行中のワーカーは次のステップ境界でキャンセルに気づいて停止します。
func (m *Manager) Cancel(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.Update(ctx, jobID, Update{Status: StatusCancelled})
	if err != nil {
		return nil, err
	}
	if revokeErr := m.broker.Revoke(ctx, jobID); revokeErr != nil {
		m.logger.Warn("failed to revoke queued task", "jobId", jobID, "error", revokeErr)
	}
	m.logger.Info("job cancelled", "jobId", jobID, "progress", job.Progress)
	return job, nil
}

// claim はワーカーがジョブの実行権を取得します。
func (m *Manager) claim(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.store.Mutate(ctx, jobID, func(job *Job) error {
		return claimJob(job, m.now(), m.lease)
	})
	if err != nil {
		return nil, err
	}
	m.metrics.jobClaimed(string(job.Kind), job.Attempt)
	return job, nil
}

// finish は attempt が一致する場合だけ終端状態への更新を適用します。
func (m *Manager) finish(ctx context.Context, jobID string, attempt int, u Update) (*Job, error) {
	job, err := m.store.Mutate(ctx, jobID, func(job *Job) error {
		if err := checkOwner(job, attempt); err != nil {
			return err
		}
		return applyUpdate(job, u, m.now(), m.lease)
	})
	if err != nil {
		return nil, err
	}
	m.metrics.jobFinished(string(job.Kind), job.Status)
	return job, nil
}

// forceFail は不整合を検出したジョブを failed にします。既に終端状態なら何もしません。
func (m *Manager) forceFail(ctx context.Context, jobID string, info ErrorInfo) error {
	job, err := m.store.Mutate(ctx, jobID, func(job *Job) error {
		if job.Status.Terminal() {
			return errNoChange
		}
		if job.Status == StatusQueued {
			job.Status = StatusRunning
		}
		return applyUpdate(job, Update{Status: StatusFailed, Error: &info}, m.now(), m.lease)
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	m.metrics.jobFinished(string(job.Kind), job.Status)
	return nil
}

func checkOwner(job *Job, attempt int) error {
	if job.Status == StatusCancelled {
		return errJobCancelled
	}
	// リース切れで失敗扱いになったジョブは、この attempt の実行権を失っています。
	if job.Status == StatusFailed && job.Error != nil && job.Error.Code == LeaseExpiredCode {
		return errLeaseLost
	}
	if job.Attempt != attempt {
		return errLeaseLost
	}
	return nil
}

// classify はストアのエラーを分類済みのエラーに変換します。
func classify(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Wrap(apperr.ErrQueueUnavailable, "", err)
}
