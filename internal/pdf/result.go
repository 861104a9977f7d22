package pdf

import (
	"fmt"
	"strings"
)

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationOCR      OperationType = "ocr"
	OperationOptimize OperationType = "optimize"
	OperationRedact   OperationType = "redact"
)

// operationPlan は処理種別ごとのステップ構成です。
// ステップ数は実際のバックエンドによって変わりうる運用上の値です。
var operationPlan = map[OperationType][]string{
	OperationOCR:      {"load", "rasterize", "recognize", "layout", "write"},
	OperationOptimize: {"load", "compress", "write"},
	OperationRedact:   {"load", "detect", "redact", "write"},
}

// Operations は受け付け可能な処理種別を返します。
func Operations() []OperationType {
	return []OperationType{OperationOCR, OperationOptimize, OperationRedact}
}

// ParseOperation は文字列を OperationType に変換します。
func ParseOperation(raw string) (OperationType, error) {
	op := OperationType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := operationPlan[op]; !ok {
		return "", fmt.Errorf("unsupported operation: %q", raw)
	}
	return op, nil
}

// Valid は既知の処理種別かどうかを返します。
func (op OperationType) Valid() bool {
	_, ok := operationPlan[op]
	return ok
}

// TotalSteps は処理種別のステップ数を返します。
func (op OperationType) TotalSteps() int {
	return len(operationPlan[op])
}

// Result はPDF処理の成果を表します。
// 同じ (Operation, DocumentID) に対しては何度実行しても同じ値になります。
type Result struct {
	DocumentID string        `json:"documentId"`
	Operation  OperationType `json:"operation"`
	OutputKey  string        `json:"outputKey"`
	Pages      int           `json:"pages,omitempty"`
	Steps      int           `json:"steps"`
}

func outputKey(op OperationType, documentID string) string {
	return fmt.Sprintf("%s/%s.pdf", op, documentID)
}
