package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourusername/pdfops/internal/logging"
	"github.com/yourusername/pdfops/internal/pdf"
)

func newTestLocalBroker(maxRetry int) *LocalBroker {
	return NewLocalBroker(LocalBrokerOptions{
		Workers:    2,
		QueueSize:  8,
		MaxRetry:   maxRetry,
		RetryDelay: time.Millisecond,
		Logger:     logging.Discard(),
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLocalBrokerRedeliversFailedTasks(t *testing.T) {
	broker := newTestLocalBroker(2)
	defer broker.Shutdown()

	var calls atomic.Int32
	if err := broker.Start(func(ctx context.Context, msg TaskMessage) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := broker.Publish(context.Background(), TaskMessage{JobID: "j"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() == 3 })
}

func TestLocalBrokerStopsAtMaxRetry(t *testing.T) {
	broker := newTestLocalBroker(1)
	defer broker.Shutdown()

	var calls atomic.Int32
	if err := broker.Start(func(ctx context.Context, msg TaskMessage) error {
		calls.Add(1)
		return errors.New("always")
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := broker.Publish(context.Background(), TaskMessage{JobID: "j"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestLocalBrokerSkipRetryAndPanics(t *testing.T) {
	broker := newTestLocalBroker(3)
	defer broker.Shutdown()

	var skip, panics atomic.Int32
	if err := broker.Start(func(ctx context.Context, msg TaskMessage) error {
		switch msg.JobID {
		case "skip":
			skip.Add(1)
			return ErrSkipRetry
		default:
			if panics.Add(1) == 1 {
				panic("boom")
			}
			return nil
		}
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	for _, id := range []string{"skip", "panic"} {
		if err := broker.Publish(context.Background(), TaskMessage{JobID: id}); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}
	waitFor(t, func() bool { return panics.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := skip.Load(); got != 1 {
		t.Fatalf("skip-retry task ran %d times", got)
	}
}

func TestLocalBrokerRevokedTaskIsSkipped(t *testing.T) {
	broker := newTestLocalBroker(0)
	defer broker.Shutdown()

	var seen atomic.Value
	if err := broker.Publish(context.Background(), TaskMessage{JobID: "revoked"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if err := broker.Publish(context.Background(), TaskMessage{JobID: "kept"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if err := broker.Revoke(context.Background(), "revoked"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	var revokedRan atomic.Bool
	if err := broker.Start(func(ctx context.Context, msg TaskMessage) error {
		if msg.JobID == "revoked" {
			revokedRan.Store(true)
		}
		seen.Store(msg.JobID)
		return nil
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, func() bool { return seen.Load() == "kept" })
	if revokedRan.Load() {
		t.Fatal("revoked task was executed")
	}
	waitFor(t, func() bool { return broker.trackedJobs() == 0 })
}

func TestLocalBrokerRevokeOfRunningTaskLeavesNoState(t *testing.T) {
	broker := newTestLocalBroker(0)
	defer broker.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	var done atomic.Bool
	if err := broker.Start(func(ctx context.Context, msg TaskMessage) error {
		close(started)
		<-release
		done.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := broker.Publish(context.Background(), TaskMessage{JobID: "run-1"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	<-started

	if err := broker.Revoke(context.Background(), "run-1"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	close(release)
	waitFor(t, done.Load)

	if n := broker.trackedJobs(); n != 0 {
		t.Fatalf("broker still tracks %d jobs after the task finished", n)
	}
}

func TestLocalBrokerRevokeBeforePublishIsIgnored(t *testing.T) {
	broker := newTestLocalBroker(0)
	defer broker.Shutdown()

	if err := broker.Revoke(context.Background(), "later"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	var ran atomic.Bool
	if err := broker.Start(func(ctx context.Context, msg TaskMessage) error {
		ran.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := broker.Publish(context.Background(), TaskMessage{JobID: "later"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	waitFor(t, ran.Load)
}

func TestLocalBrokerRejectsWhenFull(t *testing.T) {
	broker := NewLocalBroker(LocalBrokerOptions{QueueSize: 1, Logger: logging.Discard()})
	defer broker.Shutdown()

	if err := broker.Publish(context.Background(), TaskMessage{JobID: "a"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if err := broker.Publish(context.Background(), TaskMessage{JobID: "b"}); !errors.Is(err, errBrokerFull) {
		t.Fatalf("expected errBrokerFull, got %v", err)
	}
}

func TestManagerWithLocalBrokerEndToEnd(t *testing.T) {
	store := NewMemoryStore(0)
	broker := newTestLocalBroker(1)
	m, err := NewManager(Options{
		Store:    store,
		Broker:   broker,
		Executor: pdf.NewService(pdf.Options{Logger: logging.Discard()}),
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	if err := m.StartWorkers(); err != nil {
		t.Fatalf("StartWorkers returned error: %v", err)
	}
	defer m.Shutdown(context.Background())

	id, err := m.Enqueue(context.Background(), pdf.OperationRedact, "file123")
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	waitFor(t, func() bool {
		job, err := m.Get(context.Background(), id)
		return err == nil && job.Status == StatusSucceeded
	})
	job, _ := m.Get(context.Background(), id)
	if job.Result.OutputKey != "redact/file123.pdf" || job.Progress != 100 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

// trackedJobs は取り消し管理のために保持しているジョブ数を返します。
func (b *LocalBroker) trackedJobs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) + len(b.revoked)
}
