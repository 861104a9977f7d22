package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/pdfops/internal/apperr"
)

// LeaseExpiredCode はリース切れで失敗扱いにしたジョブのエラーコードです。
const LeaseExpiredCode = "LEASE_EXPIRED"

// ReapExpired はリース切れから StaleGrace を過ぎた running のジョブを failed にし、件数を返します。
// 再配信で再取得されたジョブは attempt が変わりリースも延長されるため対象外になります。
func (m *Manager) ReapExpired(ctx context.Context) (int, error) {
	ids, err := m.store.ListRunning(ctx)
	if err != nil {
		return 0, classify(err)
	}

	reaped := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		var expiredAt time.Time
		job, err := m.store.Mutate(ctx, id, func(job *Job) error {
			if job.Status != StatusRunning {
				return errNoChange
			}
			deadline := job.LeaseExpiresAt.Add(m.staleGrace)
			if job.LeaseExpiresAt.IsZero() || !m.now().After(deadline) {
				return errNoChange
			}
			expiredAt = job.LeaseExpiresAt
			return applyUpdate(job, Update{
				Status: StatusFailed,
				Error: &ErrorInfo{
					Code:    LeaseExpiredCode,
					Message: fmt.Sprintf("ワーカーからの応答が途絶えました（attempt %d）。", job.Attempt),
				},
			}, m.now(), m.lease)
		})
		switch {
		case errors.Is(err, errNoChange):
			continue
		case errors.Is(err, apperr.ErrNotFound):
			// 保持期間切れで本体が消えたジョブのインデックスを掃除します。
			if delErr := m.store.Delete(ctx, id); delErr != nil {
				m.logger.Warn("failed to clean running index", "jobId", id, "error", delErr)
			}
			continue
		case err != nil:
			return reaped, classify(err)
		}
		reaped++
		m.metrics.leaseExpired()
		m.metrics.jobFinished(string(job.Kind), job.Status)
		m.logger.Warn("job lease expired; marked failed", "jobId", id, "leaseExpiredAt", expiredAt)
	}
	return reaped, nil
}

// RunReaper は ctx が終了するまで interval ごとに ReapExpired を実行します。
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ReapExpired(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("lease reaper failed", "error", err)
			}
		}
	}
}
