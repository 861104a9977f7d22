package jobs

import (
	"time"

	"github.com/yourusername/pdfops/internal/pdf"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job はジョブの現在状態を表します。
type Job struct {
	JobID          string            `json:"jobId"`
	Kind           pdf.OperationType `json:"kind"`
	DocumentID     string            `json:"documentId"`
	Status         Status            `json:"state"`
	Progress       int               `json:"progress"`
	Stage          string            `json:"stage,omitempty"`
	Result         *pdf.Result       `json:"result,omitempty"`
	Error          *ErrorInfo        `json:"error,omitempty"`
	Attempt        int               `json:"attempt"`
	LeaseExpiresAt time.Time         `json:"leaseExpiresAt"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
}

// Clone はポインタフィールドも含めて複製します。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// LeaseExpired は実行中ジョブのリースが切れているかを返します。
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == StatusRunning && !j.LeaseExpiresAt.IsZero() && now.After(j.LeaseExpiresAt)
}

// Snapshot はクライアントに返すジョブ状態です。
type Snapshot struct {
	JobID    string      `json:"jobId"`
	Kind     string      `json:"kind"`
	State    Status      `json:"state"`
	Progress int         `json:"progress"`
	Stage    string      `json:"stage,omitempty"`
	Stale    bool        `json:"stale,omitempty"`
	Result   *pdf.Result `json:"result,omitempty"`
	Error    *ErrorInfo  `json:"error,omitempty"`
}

// Snapshot は now 時点の Snapshot を作成します。
func (j *Job) Snapshot(now time.Time) *Snapshot {
	c := j.Clone()
	return &Snapshot{
		JobID:    c.JobID,
		Kind:     string(c.Kind),
		State:    c.Status,
		Progress: c.Progress,
		Stage:    c.Stage,
		Stale:    c.LeaseExpired(now),
		Result:   c.Result,
		Error:    c.Error,
	}
}

// Update は実行中のジョブに適用する状態変更です。
type Update struct {
	Status   Status
	Progress *int
	Stage    string
	Result   *pdf.Result
	Error    *ErrorInfo
}

// TaskMessage はブローカー経由でワーカーに届くペイロードです。
type TaskMessage struct {
	JobID      string            `json:"jobId"`
	Kind       pdf.OperationType `json:"kind"`
	DocumentID string            `json:"documentId"`
}
