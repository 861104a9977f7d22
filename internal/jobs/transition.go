package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/pdfops/internal/apperr"
)

var (
	errAlreadyFinished = errors.New("job already finished")
	errLeaseHeld       = errors.New("job is leased by another worker")
	errLeaseLost       = errors.New("job was claimed by another attempt")
	errJobCancelled    = errors.New("job cancelled")
	errNoChange        = errors.New("no change")
)

// allowedTransitions は状態遷移の一覧です。終端状態からの遷移はありません。
var allowedTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusRunning:   true,
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

func canTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

func invalidTransition(from, to Status) error {
	return apperr.New(apperr.ErrInvalidTransition, fmt.Sprintf("ジョブの状態を %s から %s に変更できません。", from, to))
}

// applyUpdate は状態機械に従って job に u を適用します。
func applyUpdate(job *Job, u Update, now time.Time, lease time.Duration) error {
	if !canTransition(job.Status, u.Status) {
		return invalidTransition(job.Status, u.Status)
	}
	if u.Progress != nil && (*u.Progress < 0 || *u.Progress > 100) {
		return apperr.New(apperr.ErrInvalidInput, "progress は 0〜100 で指定してください。")
	}

	switch u.Status {
	case StatusRunning:
		if u.Result != nil || u.Error != nil {
			return apperr.New(apperr.ErrInvalidInput, "実行中のジョブに result/error は設定できません。")
		}
		if job.Status == StatusQueued {
			startAttempt(job, now, lease)
		}
		if u.Progress != nil {
			if *u.Progress < job.Progress {
				return apperr.New(apperr.ErrInvalidTransition, fmt.Sprintf("progress を %d から %d に戻すことはできません。", job.Progress, *u.Progress))
			}
			job.Progress = *u.Progress
		}
		if u.Stage != "" {
			job.Stage = u.Stage
		}
		job.LeaseExpiresAt = now.Add(lease)
	case StatusSucceeded:
		if u.Result == nil || u.Error != nil {
			return apperr.New(apperr.ErrInvalidInput, "成功時は result のみを設定してください。")
		}
		r := *u.Result
		job.Result = &r
		job.Error = nil
		job.Progress = 100
		job.Stage = "completed"
		job.LeaseExpiresAt = time.Time{}
	case StatusFailed:
		if u.Error == nil || u.Result != nil {
			return apperr.New(apperr.ErrInvalidInput, "失敗時は error のみを設定してください。")
		}
		e := *u.Error
		job.Error = &e
		job.Result = nil
		job.Stage = "failed"
		job.LeaseExpiresAt = time.Time{}
	case StatusCancelled:
		if u.Result != nil || u.Error != nil {
			return apperr.New(apperr.ErrInvalidInput, "キャンセル時に result/error は設定できません。")
		}
		job.Result = nil
		job.Error = nil
		job.Stage = "cancelled"
		job.LeaseExpiresAt = time.Time{}
	}

	job.Status = u.Status
	job.UpdatedAt = now
	return nil
}

// claimJob はワーカーがジョブを取得するときの遷移です。
// queued のジョブ、またはリースが切れた running のジョブ（再配信）を取得でき、
// 取得のたびに attempt を増やして progress を 0 に戻します。
func claimJob(job *Job, now time.Time, lease time.Duration) error {
	switch {
	case job.Status.Terminal():
		return errAlreadyFinished
	case job.Status == StatusQueued:
	case job.LeaseExpired(now):
	default:
		return errLeaseHeld
	}
	startAttempt(job, now, lease)
	job.Status = StatusRunning
	job.UpdatedAt = now
	return nil
}

func startAttempt(job *Job, now time.Time, lease time.Duration) {
	job.Attempt++
	job.Progress = 0
	job.Stage = "claimed"
	job.Result = nil
	job.Error = nil
	job.LeaseExpiresAt = now.Add(lease)
}
