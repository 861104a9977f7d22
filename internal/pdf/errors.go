package pdf

import "fmt"

// Error は処理固有の失敗を表します。ジョブの error フィールドにそのまま保存されます。
type Error struct {
	Code    string
	Message string
	Step    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func newStepError(op OperationType, step int, stage string, err error) *Error {
	return &Error{
		Code:    "STEP_FAILED",
		Message: fmt.Sprintf("%s のステップ %d/%d (%s) に失敗しました", op, step, op.TotalSteps(), stage),
		Step:    step,
		Err:     err,
	}
}
