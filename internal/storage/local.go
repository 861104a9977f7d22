// Package storage はドキュメントの保存先を抽象化します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

var (
	// ErrNotStored はドキュメントがローカルに存在しないことを示します。
	ErrNotStored = errors.New("document not stored")
	// ErrNotPDF は保存されたファイルがPDFではないことを示します。
	ErrNotPDF = errors.New("document is not a pdf")
)

// DocumentInfo は保存済みドキュメントの基本情報です。
type DocumentInfo struct {
	DocumentID string
	Path       string
	Size       int64
	Pages      int
}

// Local はローカルファイルシステム上のドキュメント置き場です。
//
// 保存先: <root>/<documentId>.pdf
// 出力先: <root>/out/<operation>/<documentId>.pdf
type Local struct {
	root string
}

// NewLocal は root を作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

// Path は documentID に対応するPDFのパスを返します。
func (l *Local) Path(documentID string) string {
	return filepath.Join(l.root, documentID+".pdf")
}

// OutputPath は処理結果の保存先を返します。
func (l *Local) OutputPath(operation, documentID string) string {
	return filepath.Join(l.root, "out", operation, documentID+".pdf")
}

// Inspect はPDFのシグネチャとページ数を確認します。
func (l *Local) Inspect(ctx context.Context, documentID string) (*DocumentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.Path(documentID)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotStored
		}
		return nil, err
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return nil, fmt.Errorf("%w (detected %s)", ErrNotPDF, mtype.String())
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page count: %w", err)
	}

	return &DocumentInfo{
		DocumentID: documentID,
		Path:       path,
		Size:       info.Size(),
		Pages:      pages,
	}, nil
}

// Optimize は pdfcpu で最適化したコピーを出力先に書き出します。
// 一時ファイルに書いてからリネームするため、再実行しても結果は同じです。
func (l *Local) Optimize(ctx context.Context, documentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	in := l.Path(documentID)
	if _, err := os.Stat(in); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotStored
		}
		return "", err
	}

	out := l.OutputPath("optimize", documentID)
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	tmp := out + ".tmp"
	if err := pdfapi.OptimizeFile(in, tmp, nil); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("pdfcpu optimize failed: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return out, nil
}
