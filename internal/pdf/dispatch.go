package pdf

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/yourusername/pdfops/internal/apperr"
)

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateDocumentID は documentId の形式を検証します。
func ValidateDocumentID(documentID string) error {
	if documentID == "" {
		return apperr.New(apperr.ErrInvalidInput, "documentId を指定してください。")
	}
	if documentID == "." || documentID == ".." || !documentIDPattern.MatchString(documentID) {
		return apperr.New(apperr.ErrInvalidInput, "documentId には英数字と . _ - のみ使用できます（128文字以内）。")
	}
	return nil
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, op OperationType, documentID string) (string, error)
}

// Dispatcher は処理要求を検証してキューに渡し、ジョブIDを即座に返します。
type Dispatcher struct {
	scheduler JobScheduler
	logger    *slog.Logger
}

// NewDispatcher は Dispatcher を作成します。
func NewDispatcher(scheduler JobScheduler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{scheduler: scheduler, logger: logger}
}

// Submit はジョブを投入してIDを返します。処理の完了は待ちません。
func (d *Dispatcher) Submit(ctx context.Context, op OperationType, documentID string) (string, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return "", err
	}
	if !op.Valid() {
		return "", apperr.New(apperr.ErrInvalidInput, "未対応の処理種別です。")
	}

	jobID, err := d.scheduler.Schedule(ctx, op, documentID)
	if err != nil {
		d.logger.Warn("failed to schedule job", "operation", op, "documentId", documentID, "error", err)
		if errors.Is(err, apperr.ErrQueueUnavailable) || errors.Is(err, apperr.ErrInvalidInput) {
			return "", err
		}
		return "", apperr.Wrap(apperr.ErrQueueUnavailable, "", err)
	}

	d.logger.Info("job submitted", "jobId", jobID, "operation", op, "documentId", documentID)
	return jobID, nil
}
