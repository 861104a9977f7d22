// Package pdf はPDF処理ジョブの実行と受付を提供します。
package pdf

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourusername/pdfops/internal/storage"
)

// DocumentSource はローカルに保存されたドキュメントへのアクセスです。
// storage.ErrNotStored を返した場合は擬似処理にフォールバックします。
type DocumentSource interface {
	Inspect(ctx context.Context, documentID string) (*storage.DocumentInfo, error)
	Optimize(ctx context.Context, documentID string) (string, error)
}

// StepFunc は1ステップ分の処理です。テストで処理を差し替えるために使います。
type StepFunc func(ctx context.Context, op OperationType, documentID string, step int) error

// Options は Service の設定です。
type Options struct {
	StepDelay time.Duration
	Documents DocumentSource
	Step      StepFunc
	Logger    *slog.Logger
}

// Service は処理種別ごとのステップを実行します。
type Service struct {
	stepDelay time.Duration
	documents DocumentSource
	step      StepFunc
	logger    *slog.Logger
}

// NewService は Service を作成します。
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stepDelay: opts.StepDelay,
		documents: opts.Documents,
		step:      opts.Step,
		logger:    logger,
	}
}
