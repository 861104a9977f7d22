// Package logging は構造化ロガーの生成とライブラリ向けアダプタを提供します。
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New は level/format に従った slog.Logger を作成します。
func New(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard はテスト用に何も出力しないロガーを返します。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AsynqLogger は asynq.Logger インターフェースを slog に橋渡しします。
type AsynqLogger struct {
	Logger *slog.Logger
}

func (l AsynqLogger) Debug(args ...interface{}) { l.Logger.Debug(fmt.Sprint(args...), "component", "asynq") }
func (l AsynqLogger) Info(args ...interface{})  { l.Logger.Info(fmt.Sprint(args...), "component", "asynq") }
func (l AsynqLogger) Warn(args ...interface{})  { l.Logger.Warn(fmt.Sprint(args...), "component", "asynq") }
func (l AsynqLogger) Error(args ...interface{}) { l.Logger.Error(fmt.Sprint(args...), "component", "asynq") }

// Fatal は asynq がサーバー起動不能時に呼び出します。
func (l AsynqLogger) Fatal(args ...interface{}) {
	l.Logger.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true)
	os.Exit(1)
}
