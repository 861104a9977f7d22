package jobs

import (
	"context"
	"errors"
)

// ErrSkipRetry をラップしたエラーをハンドラーが返すと、ブローカーは再配信しません。
var ErrSkipRetry = errors.New("skip retry")

// HandlerFunc はブローカーから配信されたタスクを処理します。
// nil 以外（ErrSkipRetry を除く）を返すとタスクは再配信されます。
type HandlerFunc func(ctx context.Context, msg TaskMessage) error

// Broker はタスクを少なくとも1回ワーカーに配信します。
type Broker interface {
	Publish(ctx context.Context, msg TaskMessage) error
	// Revoke はまだ実行されていないタスクを取り消します（ベストエフォート）。
	Revoke(ctx context.Context, jobID string) error
	Start(handler HandlerFunc) error
	Shutdown()
}
