package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/pdfops/internal/logging"
	"github.com/yourusername/pdfops/internal/pdf"
)

const (
	queueName      = "pdf"
	taskTypePrefix = "pdf:"
)

// AsynqOptions は AsynqBroker の設定です。
type AsynqOptions struct {
	Concurrency int
	MaxRetry    int
	// RetryDelay は再配信までの待ち時間です。リース期間以上にしておくと、
	// 再配信されたタスクが前回のリース切れを待たずに済みます。
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// AsynqBroker は Asynq (Redis) を使ったブローカーです。
// ワーカーが落ちた場合は Asynq のリース回復によってタスクが再配信されます。
type AsynqBroker struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	maxRetry  int
	logger    *slog.Logger
}

// NewAsynqBroker は AsynqBroker を初期化します。
func NewAsynqBroker(redisURL string, opts AsynqOptions) (*AsynqBroker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: opts.Concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				if opts.RetryDelay > 0 {
					return opts.RetryDelay
				}
				return asynq.DefaultRetryDelayFunc(n, e, t)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("task returned error", "type", task.Type(), "retried", retried, "maxRetry", maxRetry, "error", err)
			}),
			ShutdownTimeout: opts.ShutdownTimeout,
			Logger:          logging.AsynqLogger{Logger: logger},
		},
	)

	return &AsynqBroker{
		client:    asynq.NewClient(opt),
		server:    server,
		inspector: asynq.NewInspector(opt),
		maxRetry:  opts.MaxRetry,
		logger:    logger,
	}, nil
}

// Publish はジョブIDをタスクIDとして投入します。同じIDのタスクが既にあれば成功扱いです。
func (b *AsynqBroker) Publish(ctx context.Context, msg TaskMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskType(msg.Kind), body)
	_, err = b.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(msg.JobID),
		asynq.MaxRetry(b.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Revoke は待機中のタスクを削除します。実行中のタスクはステップ境界でのキャンセル確認に任せます。
func (b *AsynqBroker) Revoke(ctx context.Context, jobID string) error {
	info, err := b.inspector.GetTaskInfo(queueName, jobID)
	switch {
	case isMissingTask(err):
		return nil
	case err != nil:
		return err
	case info.State == asynq.TaskStateActive, info.State == asynq.TaskStateCompleted:
		return nil
	}

	err = b.inspector.DeleteTask(queueName, jobID)
	if err == nil || isMissingTask(err) {
		return nil
	}
	// 状態を確認してから削除するまでの間に実行が始まった場合
	if info, infoErr := b.inspector.GetTaskInfo(queueName, jobID); infoErr == nil && info.State == asynq.TaskStateActive {
		return nil
	}
	return err
}

func isMissingTask(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

// Start は Asynq サーバーをバックグラウンドで起動します。
func (b *AsynqBroker) Start(handler HandlerFunc) error {
	mux := asynq.NewServeMux()
	for _, op := range pdf.Operations() {
		mux.HandleFunc(taskType(op), func(ctx context.Context, task *asynq.Task) error {
			var msg TaskMessage
			if err := json.Unmarshal(task.Payload(), &msg); err != nil {
				return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
			}
			if msg.JobID == "" {
				return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
			}
			err := handler(ctx, msg)
			if errors.Is(err, ErrSkipRetry) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		})
	}
	return b.server.Start(mux)
}

// Shutdown はサーバーとクライアントを閉じます。
func (b *AsynqBroker) Shutdown() {
	b.server.Shutdown()
	if err := b.client.Close(); err != nil {
		b.logger.Warn("failed to close asynq client", "error", err)
	}
	if err := b.inspector.Close(); err != nil {
		b.logger.Warn("failed to close asynq inspector", "error", err)
	}
}

func taskType(op pdf.OperationType) string {
	return taskTypePrefix + string(op)
}
