package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var errBrokerFull = errors.New("local broker queue is full")

// LocalBrokerOptions は LocalBroker の設定です。
type LocalBrokerOptions struct {
	Workers    int
	QueueSize  int
	MaxRetry   int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

type delivery struct {
	msg     TaskMessage
	retried int
}

// LocalBroker はプロセス内のワーカープールでタスクを処理します。
// Redis を使わない開発環境とテストで使用します。
type LocalBroker struct {
	opts    LocalBrokerOptions
	queue   chan delivery
	logger  *slog.Logger
	handler HandlerFunc

	mu      sync.Mutex
	pending map[string]int
	revoked map[string]bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalBroker は LocalBroker を作成します。
func NewLocalBroker(opts LocalBrokerOptions) *LocalBroker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBroker{
		opts:    opts,
		queue:   make(chan delivery, opts.QueueSize),
		logger:  logger,
		pending: make(map[string]int),
		revoked: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *LocalBroker) Publish(ctx context.Context, msg TaskMessage) error {
	return b.push(ctx, delivery{msg: msg})
}

func (b *LocalBroker) push(ctx context.Context, d delivery) error {
	// ワーカーが取り出す前に数えておきます。
	b.mu.Lock()
	b.pending[d.msg.JobID]++
	b.mu.Unlock()

	var err error
	select {
	case <-b.ctx.Done():
		err = errors.New("local broker is shut down")
	case <-ctx.Done():
		err = ctx.Err()
	case b.queue <- d:
		return nil
	default:
		err = errBrokerFull
	}
	b.take(d.msg.JobID)
	return err
}

// Revoke はキューで待機中のタスクだけを取り消します。
// 実行中やリトライ待ちのタスクはジョブ側のキャンセル確認に任せます。
func (b *LocalBroker) Revoke(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[jobID] > 0 {
		b.revoked[jobID] = true
	}
	return nil
}

// Start はワーカーを起動します。
func (b *LocalBroker) Start(handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("local broker already started")
	}
	b.started = true
	b.handler = handler

	for i := 0; i < b.opts.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return nil
}

// Shutdown は実行中のタスクを止めてワーカーの終了を待ちます。
func (b *LocalBroker) Shutdown() {
	b.cancel()
	b.wg.Wait()
}

func (b *LocalBroker) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case d := <-b.queue:
			b.deliver(d)
		}
	}
}

func (b *LocalBroker) deliver(d delivery) {
	if b.take(d.msg.JobID) {
		b.logger.Debug("skipping revoked task", "jobId", d.msg.JobID)
		return
	}

	err := b.safeHandle(d.msg)
	if err == nil || errors.Is(err, ErrSkipRetry) {
		return
	}
	if b.ctx.Err() != nil {
		return
	}
	if d.retried >= b.opts.MaxRetry {
		b.logger.Error("task retries exhausted", "jobId", d.msg.JobID, "retried", d.retried, "error", err)
		return
	}

	d.retried++
	b.logger.Warn("task failed; scheduling redelivery", "jobId", d.msg.JobID, "retried", d.retried, "error", err)
	time.AfterFunc(b.opts.RetryDelay, func() {
		if pushErr := b.push(b.ctx, d); pushErr != nil {
			b.logger.Error("failed to redeliver task", "jobId", d.msg.JobID, "error", pushErr)
		}
	})
}

func (b *LocalBroker) safeHandle(msg TaskMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("task handler panicked", "jobId", msg.JobID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return b.handler(b.ctx, msg)
}

// take はキューから取り出したタスクを数から外し、取り消し済みかどうかを返します。
func (b *LocalBroker) take(jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	revoked := b.revoked[jobID]
	b.pending[jobID]--
	if b.pending[jobID] <= 0 {
		delete(b.pending, jobID)
		delete(b.revoked, jobID)
	}
	return revoked
}
