// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	QueueBackendRedis  = "redis"
	QueueBackendMemory = "memory"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ジョブ/キュー設定
	QueueBackend          string // redis または memory
	QueueRedisURL         string // Asynq/ジョブストア用Redis接続URL
	JobExpireMinutes      int    // ジョブ状態の保持期間（分）
	WorkerConcurrency     int    // 同時に実行するワーカー数
	JobMaxRetry           int    // キューによる再配信の上限
	JobLeaseSeconds       int    // 実行中ジョブのリース期間（秒）
	JobStaleGraceSeconds  int    // リース切れから失敗扱いにするまでの猶予（秒）
	ReaperIntervalSeconds int    // リース切れジョブの走査間隔（秒）

	// ストリーム設定
	StreamPollIntervalMillis int // 進捗ポーリング間隔（ミリ秒）
	StreamMaxDurationMinutes int // 1ストリームの最大継続時間（分）

	// 処理設定
	StepDelayMillis int    // 1ステップあたりの擬似処理時間（ミリ秒）
	DocumentDir     string // ドキュメント保存ディレクトリ

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // text または json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		// ジョブ/キュー設定
		QueueBackend:          strings.ToLower(getEnv("QUEUE_BACKEND", QueueBackendRedis)),
		QueueRedisURL:         getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobExpireMinutes:      getEnvAsInt("JOB_EXPIRE_MINUTES", 60),
		WorkerConcurrency:     getEnvAsInt("WORKER_CONCURRENCY", 4),
		JobMaxRetry:           getEnvAsInt("JOB_MAX_RETRY", 3),
		JobLeaseSeconds:       getEnvAsInt("JOB_LEASE_SECONDS", 30),
		JobStaleGraceSeconds:  getEnvAsInt("JOB_STALE_GRACE_SECONDS", 60),
		ReaperIntervalSeconds: getEnvAsInt("REAPER_INTERVAL_SECONDS", 15),

		// ストリーム設定
		StreamPollIntervalMillis: getEnvAsInt("STREAM_POLL_INTERVAL_MS", 1000),
		StreamMaxDurationMinutes: getEnvAsInt("STREAM_MAX_DURATION_MINUTES", 30),

		// 処理設定
		StepDelayMillis: getEnvAsInt("STEP_DELAY_MS", 1000),
		DocumentDir:     getEnv("DOCUMENT_DIR", "/tmp/app/documents"),

		// ログ設定
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case QueueBackendRedis:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required when QUEUE_BACKEND=redis")
		}
	case QueueBackendMemory:
		// 本番ではプロセス再起動でジョブが消えるため使用しない
		if c.GinMode == "release" {
			return fmt.Errorf("QUEUE_BACKEND=memory is not allowed in release mode")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be redis or memory (got %q)", c.QueueBackend)
	}

	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.JobMaxRetry < 0 {
		return fmt.Errorf("JOB_MAX_RETRY must not be negative")
	}
	if c.JobLeaseSeconds <= 0 {
		return fmt.Errorf("JOB_LEASE_SECONDS must be positive")
	}
	if c.StreamPollIntervalMillis <= 0 {
		return fmt.Errorf("STREAM_POLL_INTERVAL_MS must be positive")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json (got %q)", c.LogFormat)
	}

	return nil
}

// JobRetention はジョブ状態をストアに保持する期間を返します。
func (c *Config) JobRetention() time.Duration {
	if c.JobExpireMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.JobExpireMinutes) * time.Minute
}

// LeaseDuration は実行中ジョブのリース期間を返します。
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.JobLeaseSeconds) * time.Second
}

// StaleGrace はリース切れのジョブを失敗扱いにするまでの猶予です。
func (c *Config) StaleGrace() time.Duration {
	if c.JobStaleGraceSeconds <= 0 {
		return 2 * c.LeaseDuration()
	}
	return time.Duration(c.JobStaleGraceSeconds) * time.Second
}

// ReaperInterval はリース切れジョブの走査間隔を返します。
func (c *Config) ReaperInterval() time.Duration {
	if c.ReaperIntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

// StreamPollInterval は進捗ストリームのポーリング間隔を返します。
func (c *Config) StreamPollInterval() time.Duration {
	return time.Duration(c.StreamPollIntervalMillis) * time.Millisecond
}

// StreamMaxDuration は1ストリームの上限時間を返します（0 以下は無制限）。
func (c *Config) StreamMaxDuration() time.Duration {
	if c.StreamMaxDurationMinutes <= 0 {
		return 0
	}
	return time.Duration(c.StreamMaxDurationMinutes) * time.Minute
}

// StepDelay は擬似処理1ステップの所要時間です。
func (c *Config) StepDelay() time.Duration {
	if c.StepDelayMillis < 0 {
		return 0
	}
	return time.Duration(c.StepDelayMillis) * time.Millisecond
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
