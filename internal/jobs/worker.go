package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/pdfops/internal/apperr"
	"github.com/yourusername/pdfops/internal/pdf"
)

// handleTask はブローカーから配信されたタスクを1件処理します。
// nil を返すとタスクは確定し、それ以外は再配信の対象になります。
func (m *Manager) handleTask(ctx context.Context, msg TaskMessage) error {
	logger := m.logger.With("jobId", msg.JobID, "kind", msg.Kind)

	job, err := m.claim(ctx, msg.JobID)
	switch {
	case errors.Is(err, errAlreadyFinished):
		logger.Info("job already finished; acknowledging task")
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		logger.Warn("job record missing; dropping task")
		return nil
	case err != nil:
		return err
	}
	logger = logger.With("attempt", job.Attempt)
	logger.Info("job started", "documentId", job.DocumentID)

	reporter := &jobReporter{manager: m, jobID: job.JobID, attempt: job.Attempt}
	result, runErr := m.executor.Run(ctx, job.Kind, job.DocumentID, reporter)
	if runErr == nil {
		_, err := m.finish(ctx, job.JobID, job.Attempt, Update{Status: StatusSucceeded, Result: result})
		if err != nil {
			return m.handleFinishError(ctx, job, err)
		}
		logger.Info("job succeeded")
		return nil
	}

	switch {
	case errors.Is(runErr, errJobCancelled):
		logger.Info("job cancelled; stopped at step boundary", "progress", reporter.lastPercent)
		return nil
	case errors.Is(runErr, errLeaseLost):
		logger.Warn("job lease lost to a newer attempt or the reaper; stopping")
		return nil
	case errors.Is(runErr, apperr.ErrInvalidTransition):
		logger.Error("invalid state transition during execution", "error", runErr)
		if err := m.forceFail(ctx, job.JobID, ErrorInfo{Code: apperr.ErrInvalidTransition.Code, Message: runErr.Error()}); err != nil {
			return err
		}
		return fmt.Errorf("%v: %w", runErr, ErrSkipRetry)
	case ctx.Err() != nil:
		// シャットダウン中。リースが切れたあと再配信で再開されます。
		logger.Warn("job interrupted", "error", runErr)
		return runErr
	case errors.Is(runErr, apperr.ErrQueueUnavailable):
		logger.Error("progress update could not be stored; halting for redelivery", "error", runErr)
		return runErr
	}

	info := errorInfoFrom(runErr)
	if _, err := m.finish(ctx, job.JobID, job.Attempt, Update{Status: StatusFailed, Error: &info}); err != nil {
		return m.handleFinishError(ctx, job, err)
	}
	logger.Warn("job failed", "code", info.Code, "error", runErr)
	return nil
}

func (m *Manager) handleFinishError(ctx context.Context, job *Job, err error) error {
	logger := m.logger.With("jobId", job.JobID, "attempt", job.Attempt)
	switch {
	case errors.Is(err, errJobCancelled):
		logger.Info("job cancelled before completion was recorded")
		return nil
	case errors.Is(err, errLeaseLost):
		logger.Warn("completion discarded; job lease was lost")
		return nil
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrInvalidInput):
		logger.Error("invalid terminal update", "error", err)
		if ffErr := m.forceFail(ctx, job.JobID, ErrorInfo{Code: apperr.ErrInvalidTransition.Code, Message: err.Error()}); ffErr != nil {
			return ffErr
		}
		return fmt.Errorf("%v: %w", err, ErrSkipRetry)
	default:
		logger.Error("failed to record job completion", "error", err)
		return err
	}
}

func errorInfoFrom(err error) ErrorInfo {
	var pdfErr *pdf.Error
	if errors.As(err, &pdfErr) {
		return ErrorInfo{Code: pdfErr.Code, Message: pdfErr.Error()}
	}
	return ErrorInfo{Code: apperr.ErrExecution.Code, Message: err.Error()}
}

// jobReporter は pdf.ProgressReporter をジョブストアへの更新に変換します。
type jobReporter struct {
	manager     *Manager
	jobID       string
	attempt     int
	lastPercent int
}

// Checkpoint はキャンセルやリース喪失をステップ開始前に検出します。
func (r *jobReporter) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := r.manager.store.Get(ctx, r.jobID)
	if err != nil {
		return classify(err)
	}
	if err := checkOwner(job, r.attempt); err != nil {
		return err
	}
	if job.Status != StatusRunning {
		return invalidTransition(job.Status, StatusRunning)
	}
	return nil
}

// Report は進捗を保存し、リースを延長します。
func (r *jobReporter) Report(ctx context.Context, p pdf.Progress) error {
	percent := p.Percent
	_, err := r.manager.store.Mutate(ctx, r.jobID, func(job *Job) error {
		if err := checkOwner(job, r.attempt); err != nil {
			return err
		}
		return applyUpdate(job, Update{Status: StatusRunning, Progress: &percent, Stage: p.Stage}, r.manager.now(), r.manager.lease)
	})
	if err != nil {
		if errors.Is(err, errJobCancelled) || errors.Is(err, errLeaseLost) {
			return err
		}
		return classify(err)
	}
	r.lastPercent = percent
	return nil
}
