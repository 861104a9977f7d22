package pdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/pdfops/internal/storage"
)

type runState struct {
	op         OperationType
	documentID string
	stored     bool
	result     *Result
}

// Run は documentID に対して op の処理を実行します。
//
// 各ステップの前に reporter.Checkpoint、後に reporter.Report を呼び出します。
// ステップの失敗は再試行せず *Error として返します。
func (s *Service) Run(ctx context.Context, op OperationType, documentID string, reporter ProgressReporter) (*Result, error) {
	if !op.Valid() {
		return nil, newError("UNSUPPORTED_OPERATION", fmt.Sprintf("未対応の処理です: %s", op), nil)
	}
	if documentID == "" {
		return nil, newError("INVALID_INPUT", "documentId is required", nil)
	}

	stages := operationPlan[op]
	state := &runState{
		op:         op,
		documentID: documentID,
		result: &Result{
			DocumentID: documentID,
			Operation:  op,
			OutputKey:  outputKey(op, documentID),
			Steps:      len(stages),
		},
	}

	for i, stage := range stages {
		step := i + 1
		if err := checkpoint(ctx, reporter); err != nil {
			return nil, err
		}

		if err := s.runStep(ctx, state, step, stage); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, newStepError(op, step, stage, err)
		}

		if err := reportProgress(ctx, reporter, Progress{
			Completed: step,
			Total:     len(stages),
			Percent:   percentOf(step, len(stages)),
			Stage:     stage,
		}); err != nil {
			return nil, err
		}
	}

	return state.result, nil
}

func (s *Service) runStep(ctx context.Context, state *runState, step int, stage string) error {
	if s.step != nil {
		if err := s.step(ctx, state.op, state.documentID, step); err != nil {
			return err
		}
	} else if err := wait(ctx, s.stepDelay); err != nil {
		return err
	}

	if s.documents == nil {
		return nil
	}

	switch stage {
	case "load":
		info, err := s.documents.Inspect(ctx, state.documentID)
		if errors.Is(err, storage.ErrNotStored) {
			return nil
		}
		if err != nil {
			return err
		}
		state.stored = true
		state.result.Pages = info.Pages
	case "compress":
		if !state.stored || state.op != OperationOptimize {
			return nil
		}
		path, err := s.documents.Optimize(ctx, state.documentID)
		if err != nil {
			return err
		}
		s.logger.Debug("optimized document written", "documentId", state.documentID, "path", path)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
