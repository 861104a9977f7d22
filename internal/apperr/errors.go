// Package apperr はAPIとジョブ処理で共有するエラー分類を提供します。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error はコード・HTTPステータス付きのアプリケーションエラーです。
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is はコードが一致すれば同じ種類のエラーとみなします。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidInput = &Error{
		Code:    "INVALID_INPUT",
		Message: "入力値が不正です。",
		Status:  http.StatusBadRequest,
	}
	ErrNotFound = &Error{
		Code:    "JOB_NOT_FOUND",
		Message: "指定されたジョブは存在しません。",
		Status:  http.StatusNotFound,
	}
	ErrQueueUnavailable = &Error{
		Code:    "QUEUE_UNAVAILABLE",
		Message: "ジョブキューに接続できません。時間をおいて再度お試しください。",
		Status:  http.StatusServiceUnavailable,
	}
	ErrInvalidTransition = &Error{
		Code:    "INVALID_TRANSITION",
		Message: "ジョブの状態を変更できません。",
		Status:  http.StatusConflict,
	}
	ErrExecution = &Error{
		Code:    "EXECUTION_FAILED",
		Message: "ジョブの実行に失敗しました。",
		Status:  http.StatusInternalServerError,
	}
)

// New は kind と同じ分類で、メッセージを差し替えたエラーを作成します。
func New(kind *Error, message string) *Error {
	return &Error{
		Code:    kind.Code,
		Message: message,
		Status:  kind.Status,
	}
}

// Wrap は原因エラーを保持したまま kind に分類します。
func Wrap(kind *Error, message string, err error) *Error {
	if message == "" {
		message = kind.Message
	}
	return &Error{
		Code:    kind.Code,
		Message: message,
		Status:  kind.Status,
		Err:     err,
	}
}

// HTTPStatus はエラーに対応するHTTPステータスを返します。
func HTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// Describe はレスポンス用のコードとメッセージを返します。
// 分類されていないエラーは内部エラーとして扱い、詳細は隠します。
func Describe(err error) (code, message string) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Message
	}
	return "INTERNAL_ERROR", "サーバー内部でエラーが発生しました。"
}
