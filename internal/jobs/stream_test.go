package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yourusername/pdfops/internal/apperr"
	"github.com/yourusername/pdfops/internal/logging"
	"github.com/yourusername/pdfops/internal/pdf"
)

func newTestStreamer(store Store, opts StreamOptions) *Streamer {
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Millisecond
	}
	opts.Logger = logging.Discard()
	return NewStreamer(store, opts)
}

func nextEvent(t *testing.T, events <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return Event{}, false
	}
}

func TestStreamTerminalJobYieldsSingleEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	if err := store.Create(ctx, &Job{
		JobID:    "done",
		Kind:     pdf.OperationOCR,
		Status:   StatusSucceeded,
		Progress: 100,
		Result:   &pdf.Result{DocumentID: "file123"},
	}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	events, err := newTestStreamer(store, StreamOptions{}).Stream(ctx, "done")
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	ev, ok := nextEvent(t, events)
	if !ok || ev.Err != nil || ev.Snapshot.State != StatusSucceeded || ev.Snapshot.Result == nil {
		t.Fatalf("unexpected first event: %+v", ev)
	}
	if _, ok := nextEvent(t, events); ok {
		t.Fatal("stream was not closed after terminal snapshot")
	}
}

func TestStreamUnknownJob(t *testing.T) {
	_, err := newTestStreamer(NewMemoryStore(0), StreamOptions{}).Stream(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStreamFollowsProgressUntilTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	if err := store.Create(ctx, &Job{JobID: "j", Kind: pdf.OperationOptimize, Status: StatusRunning}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	events, err := newTestStreamer(store, StreamOptions{}).Stream(ctx, "j")
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if ev, _ := nextEvent(t, events); ev.Snapshot == nil || ev.Snapshot.State != StatusRunning {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	now := time.Now()
	if _, err := store.Mutate(ctx, "j", func(j *Job) error {
		return applyUpdate(j, Update{Status: StatusSucceeded, Result: &pdf.Result{DocumentID: "file123"}}, now, time.Minute)
	}); err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}

	var last Event
	for {
		ev, ok := nextEvent(t, events)
		if !ok {
			break
		}
		last = ev
	}
	if last.Snapshot == nil || last.Snapshot.State != StatusSucceeded || last.Snapshot.Progress != 100 {
		t.Fatalf("last event = %+v, want succeeded snapshot", last)
	}
}

func TestStreamReportsDisappearedJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	if err := store.Create(ctx, &Job{JobID: "j", Status: StatusRunning}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	events, err := newTestStreamer(store, StreamOptions{}).Stream(ctx, "j")
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	nextEvent(t, events)
	if err := store.Delete(ctx, "j"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	for {
		ev, ok := nextEvent(t, events)
		if !ok {
			t.Fatal("stream closed without error event")
		}
		if ev.Err != nil {
			if !errors.Is(ev.Err, apperr.ErrNotFound) {
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
			break
		}
	}
	if _, ok := nextEvent(t, events); ok {
		t.Fatal("stream was not closed after error event")
	}
}

func TestStreamStopsAtMaxDuration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	if err := store.Create(ctx, &Job{JobID: "j", Status: StatusRunning}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	metrics := NewMetrics(prometheus.NewRegistry())

	events, err := newTestStreamer(store, StreamOptions{MaxDuration: 30 * time.Millisecond, Metrics: metrics}).Stream(ctx, "j")
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	var timeout error
	for ev := range events {
		if ev.Err != nil {
			timeout = ev.Err
		}
	}
	if !errors.Is(timeout, ErrStreamTimeout) {
		t.Fatalf("expected stream timeout, got %v", timeout)
	}
	if got := testutil.ToFloat64(metrics.activeStreams); got != 0 {
		t.Fatalf("active streams = %v after close", got)
	}
}

func TestStreamStopsWhenClientLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore(0)
	if err := store.Create(ctx, &Job{JobID: "j", Status: StatusQueued}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	events, err := newTestStreamer(store, StreamOptions{}).Stream(ctx, "j")
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	nextEvent(t, events)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not stop after context cancellation")
		}
	}
}
