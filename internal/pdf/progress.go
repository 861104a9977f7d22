package pdf

import (
	"context"
	"math"
)

// Progress は1ステップ完了時点の進捗です。
type Progress struct {
	Completed int
	Total     int
	Percent   int
	Stage     string
}

// ProgressReporter は実行中の処理から進捗を受け取ります。
// Checkpoint は各ステップの開始前に呼ばれ、エラー（キャンセル等）を返すと処理は中断されます。
// Report がエラーを返した場合も、更新が失われたとみなして処理を中断します。
type ProgressReporter interface {
	Checkpoint(ctx context.Context) error
	Report(ctx context.Context, p Progress) error
}

// ProgressFunc は Report だけを関数で与えるための簡易実装です。
type ProgressFunc func(p Progress)

func (f ProgressFunc) Checkpoint(ctx context.Context) error { return ctx.Err() }

func (f ProgressFunc) Report(_ context.Context, p Progress) error {
	if f != nil {
		f(p)
	}
	return nil
}

// percentOf は round(100 * completed / total) を 0〜100 に丸めて返します。
func percentOf(completed, total int) int {
	if total <= 0 {
		return 0
	}
	percent := int(math.Round(100 * float64(completed) / float64(total)))
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent
}

func checkpoint(ctx context.Context, r ProgressReporter) error {
	if r == nil {
		return ctx.Err()
	}
	return r.Checkpoint(ctx)
}

func reportProgress(ctx context.Context, r ProgressReporter, p Progress) error {
	if r == nil {
		return nil
	}
	return r.Report(ctx, p)
}
