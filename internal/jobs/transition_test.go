package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/yourusername/pdfops/internal/apperr"
	"github.com/yourusername/pdfops/internal/pdf"
)

func intPtr(v int) *int { return &v }

func TestTerminalStatesRejectEveryTransition(t *testing.T) {
	now := time.Now()
	for _, from := range []Status{StatusSucceeded, StatusFailed, StatusCancelled} {
		for _, to := range []Status{StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled} {
			job := &Job{JobID: "j", Status: from}
			err := applyUpdate(job, Update{Status: to}, now, time.Minute)
			if !errors.Is(err, apperr.ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			if job.Status != from {
				t.Fatalf("%s -> %s: status changed to %s", from, to, job.Status)
			}
		}
	}
}

func TestQueuedCannotSucceedDirectly(t *testing.T) {
	job := &Job{JobID: "j", Status: StatusQueued}
	err := applyUpdate(job, Update{Status: StatusSucceeded, Result: &pdf.Result{}}, time.Now(), time.Minute)
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestProgressMustNotDecrease(t *testing.T) {
	job := &Job{JobID: "j", Status: StatusRunning, Progress: 40}
	err := applyUpdate(job, Update{Status: StatusRunning, Progress: intPtr(20)}, time.Now(), time.Minute)
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if job.Progress != 40 {
		t.Fatalf("progress changed to %d", job.Progress)
	}
}

func TestProgressOutOfRange(t *testing.T) {
	for _, p := range []int{-1, 101} {
		job := &Job{JobID: "j", Status: StatusRunning}
		err := applyUpdate(job, Update{Status: StatusRunning, Progress: intPtr(p)}, time.Now(), time.Minute)
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("progress %d: expected invalid input, got %v", p, err)
		}
	}
}

func TestResultAndErrorAreExclusive(t *testing.T) {
	now := time.Now()
	cases := []Update{
		{Status: StatusSucceeded},
		{Status: StatusSucceeded, Result: &pdf.Result{}, Error: &ErrorInfo{Code: "X"}},
		{Status: StatusFailed},
		{Status: StatusFailed, Result: &pdf.Result{}, Error: &ErrorInfo{Code: "X"}},
		{Status: StatusCancelled, Error: &ErrorInfo{Code: "X"}},
		{Status: StatusRunning, Result: &pdf.Result{}},
	}
	for _, u := range cases {
		job := &Job{JobID: "j", Status: StatusRunning}
		if err := applyUpdate(job, u, now, time.Minute); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("%+v: expected invalid input, got %v", u, err)
		}
	}
}

func TestSucceededSetsFullProgress(t *testing.T) {
	now := time.Now()
	job := &Job{JobID: "j", Status: StatusRunning, Progress: 80, LeaseExpiresAt: now.Add(time.Minute)}
	result := &pdf.Result{DocumentID: "file123"}
	if err := applyUpdate(job, Update{Status: StatusSucceeded, Result: result}, now, time.Minute); err != nil {
		t.Fatalf("applyUpdate returned error: %v", err)
	}
	if job.Progress != 100 || job.Result == nil || job.Error != nil || !job.LeaseExpiresAt.IsZero() {
		t.Fatalf("unexpected job after success: %+v", job)
	}
	result.DocumentID = "mutated"
	if job.Result.DocumentID != "file123" {
		t.Fatal("result was not copied")
	}
}

func TestRunningUpdateRenewsLease(t *testing.T) {
	now := time.Now()
	job := &Job{JobID: "j", Status: StatusRunning, LeaseExpiresAt: now}
	later := now.Add(10 * time.Second)
	if err := applyUpdate(job, Update{Status: StatusRunning, Progress: intPtr(20), Stage: "load"}, later, time.Minute); err != nil {
		t.Fatalf("applyUpdate returned error: %v", err)
	}
	if !job.LeaseExpiresAt.Equal(later.Add(time.Minute)) {
		t.Fatalf("lease = %v, want %v", job.LeaseExpiresAt, later.Add(time.Minute))
	}
	if job.Stage != "load" {
		t.Fatalf("stage = %q", job.Stage)
	}
}

func TestClaimJob(t *testing.T) {
	now := time.Now()

	queued := &Job{JobID: "j", Status: StatusQueued}
	if err := claimJob(queued, now, time.Minute); err != nil {
		t.Fatalf("claim queued: %v", err)
	}
	if queued.Status != StatusRunning || queued.Attempt != 1 || queued.Progress != 0 {
		t.Fatalf("unexpected claimed job: %+v", queued)
	}

	held := &Job{JobID: "j", Status: StatusRunning, Attempt: 1, Progress: 40, LeaseExpiresAt: now.Add(time.Second)}
	if err := claimJob(held, now, time.Minute); !errors.Is(err, errLeaseHeld) {
		t.Fatalf("expected errLeaseHeld, got %v", err)
	}

	expired := &Job{JobID: "j", Status: StatusRunning, Attempt: 1, Progress: 40, LeaseExpiresAt: now.Add(-time.Second)}
	if err := claimJob(expired, now, time.Minute); err != nil {
		t.Fatalf("claim expired: %v", err)
	}
	if expired.Attempt != 2 || expired.Progress != 0 {
		t.Fatalf("redelivered job should restart: %+v", expired)
	}

	done := &Job{JobID: "j", Status: StatusCancelled}
	if err := claimJob(done, now, time.Minute); !errors.Is(err, errAlreadyFinished) {
		t.Fatalf("expected errAlreadyFinished, got %v", err)
	}
}

func TestSnapshotMarksStaleLease(t *testing.T) {
	now := time.Now()
	job := &Job{JobID: "j", Kind: pdf.OperationOCR, Status: StatusRunning, Progress: 40, LeaseExpiresAt: now.Add(-time.Second)}
	snap := job.Snapshot(now)
	if !snap.Stale || snap.State != StatusRunning || snap.Progress != 40 || snap.Kind != "ocr" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	job.LeaseExpiresAt = now.Add(time.Second)
	if job.Snapshot(now).Stale {
		t.Fatal("fresh lease reported as stale")
	}
}
