package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourusername/pdfops/internal/apperr"
)

// ErrStreamTimeout は配信時間の上限に達したストリームの終了理由です。
var ErrStreamTimeout = &apperr.Error{
	Code:    "STREAM_TIMEOUT",
	Message: "ジョブの状態配信が上限時間に達しました。",
	Status:  http.StatusGatewayTimeout,
}

// Snapshotter はジョブの現在状態を返します。Manager が実装します。
type Snapshotter interface {
	Get(ctx context.Context, jobID string) (*Job, error)
}

// Event はストリームで配信される1件の通知です。Snapshot と Err のどちらか一方だけが設定されます。
type Event struct {
	Snapshot *Snapshot
	Err      error
}

// StreamOptions は Streamer の設定です。
type StreamOptions struct {
	Interval    time.Duration
	MaxDuration time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
	Now         func() time.Time
}

// Streamer はジョブ状態をポーリングして配信します。
type Streamer struct {
	src         Snapshotter
	interval    time.Duration
	maxDuration time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// NewStreamer は Streamer を作成します。
func NewStreamer(src Snapshotter, opts StreamOptions) *Streamer {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Streamer{
		src:         src,
		interval:    interval,
		maxDuration: opts.MaxDuration,
		logger:      logger,
		metrics:     opts.Metrics,
		now:         now,
	}
}

// Stream はジョブの状態を interval ごとに配信します。
// ジョブが存在しなければ apperr.ErrNotFound を返します。
// 終端状態のスナップショットか Err 付きのイベントを送った後、チャネルは閉じられます。
func (s *Streamer) Stream(ctx context.Context, jobID string) (<-chan Event, error) {
	job, err := s.src.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	s.metrics.streamOpened()
	go func() {
		defer close(events)
		defer s.metrics.streamClosed()
		s.run(ctx, jobID, job, events)
	}()
	return events, nil
}

func (s *Streamer) run(ctx context.Context, jobID string, job *Job, events chan<- Event) {
	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Event{Snapshot: job.Snapshot(s.now())}) || job.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.maxDuration > 0 {
		timer := time.NewTimer(s.maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			s.logger.Info("status stream reached max duration", "jobId", jobID)
			send(Event{Err: ErrStreamTimeout})
			return
		case <-ticker.C:
		}

		job, err := s.src.Get(ctx, jobID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			send(Event{Err: apperr.New(apperr.ErrNotFound, "ジョブが見つからなくなりました。")})
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to poll job status; retrying", "jobId", jobID, "error", err)
			continue
		}

		if !send(Event{Snapshot: job.Snapshot(s.now())}) || job.Status.Terminal() {
			return
		}
	}
}
