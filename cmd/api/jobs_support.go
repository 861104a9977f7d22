package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/pdfops/internal/apperr"
	"github.com/yourusername/pdfops/internal/config"
	"github.com/yourusername/pdfops/internal/jobs"
	"github.com/yourusername/pdfops/internal/pdf"
	"github.com/yourusername/pdfops/internal/storage"
)

// application はHTTPハンドラーが使う依存関係をまとめたものです。
type application struct {
	manager    *jobs.Manager
	streamer   *jobs.Streamer
	dispatcher *pdf.Dispatcher
	documents  *storage.Local
	logger     *slog.Logger
	closers    []func() error
}

// Close はワーカーを止めてから接続を閉じます。
func (a *application) Close(ctx context.Context) error {
	err := a.manager.Shutdown(ctx)
	for _, closeFn := range a.closers {
		err = errors.Join(err, closeFn())
	}
	return err
}

// pdfJobScheduler は pdf.Dispatcher からの投入要求をジョブキューに渡します。
type pdfJobScheduler struct {
	manager *jobs.Manager
}

func (s *pdfJobScheduler) Schedule(ctx context.Context, op pdf.OperationType, documentID string) (string, error) {
	return s.manager.Enqueue(ctx, op, documentID)
}

func setupJobs(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*application, error) {
	documents, err := storage.NewLocal(cfg.DocumentDir)
	if err != nil {
		return nil, err
	}
	executor := pdf.NewService(pdf.Options{
		StepDelay: cfg.StepDelay(),
		Documents: documents,
		Logger:    logger.With("component", "executor"),
	})

	app := &application{documents: documents, logger: logger}
	var (
		store  jobs.Store
		broker jobs.Broker
	)
	switch cfg.QueueBackend {
	case config.QueueBackendMemory:
		store = jobs.NewMemoryStore(cfg.JobRetention())
		broker = jobs.NewLocalBroker(jobs.LocalBrokerOptions{
			Workers:    cfg.WorkerConcurrency,
			MaxRetry:   cfg.JobMaxRetry,
			RetryDelay: cfg.LeaseDuration(),
			Logger:     logger.With("component", "broker"),
		})
	case config.QueueBackendRedis:
		opt, err := redis.ParseURL(cfg.QueueRedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid QUEUE_REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(opt)
		app.closers = append(app.closers, redisClient.Close)
		store = jobs.NewRedisStore(redisClient, cfg.JobRetention())

		broker, err = jobs.NewAsynqBroker(cfg.QueueRedisURL, jobs.AsynqOptions{
			Concurrency: cfg.WorkerConcurrency,
			MaxRetry:    cfg.JobMaxRetry,
			// リースが切れる前に再配信されても取得できないため、リース期間待ってから再試行します。
			RetryDelay: cfg.LeaseDuration(),
			Logger:     logger.With("component", "broker"),
		})
		if err != nil {
			_ = redisClient.Close()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.QueueBackend)
	}

	metrics := jobs.NewMetrics(reg)
	manager, err := jobs.NewManager(jobs.Options{
		Store:      store,
		Broker:     broker,
		Executor:   executor,
		Logger:     logger.With("component", "jobs"),
		Metrics:    metrics,
		Lease:      cfg.LeaseDuration(),
		StaleGrace: cfg.StaleGrace(),
	})
	if err != nil {
		return nil, err
	}

	app.manager = manager
	app.streamer = jobs.NewStreamer(manager, jobs.StreamOptions{
		Interval:    cfg.StreamPollInterval(),
		MaxDuration: cfg.StreamMaxDuration(),
		Logger:      logger.With("component", "stream"),
		Metrics:     metrics,
	})
	app.dispatcher = pdf.NewDispatcher(&pdfJobScheduler{manager: manager}, logger.With("component", "dispatcher"))
	return app, nil
}

func requireJobID(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, "jobId を指定してください。"))
		return "", false
	}
	return jobID, true
}

// jobStreamHandler はジョブ状態を Server-Sent Events で配信します。
// 終端状態のスナップショットを送った後にストリームを閉じます。
func jobStreamHandler(streamer *jobs.Streamer) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := requireJobID(c)
		if !ok {
			return
		}

		events, err := streamer.Stream(c.Request.Context(), jobID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		for ev := range events {
			if ev.Err != nil {
				code, message := apperr.Describe(ev.Err)
				c.SSEvent("error", gin.H{"code": code, "message": message})
			} else {
				c.SSEvent("status", ev.Snapshot)
			}
			c.Writer.Flush()
		}
	}
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := requireJobID(c)
		if !ok {
			return
		}
		job, err := manager.Get(c.Request.Context(), jobID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, job.Snapshot(time.Now().UTC()))
	}
}

func jobCancelHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := requireJobID(c)
		if !ok {
			return
		}
		job, err := manager.Cancel(c.Request.Context(), jobID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, job.Snapshot(time.Now().UTC()))
	}
}

// jobDownloadHandler はジョブが書き出した成果物を返します。
// 成果物はローカルに保存されたドキュメントを処理した場合にだけ存在します。
func jobDownloadHandler(manager *jobs.Manager, documents *storage.Local) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := requireJobID(c)
		if !ok {
			return
		}
		job, err := manager.Get(c.Request.Context(), jobID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if job.Status != jobs.StatusSucceeded {
			apperr.Respond(c, apperr.New(apperr.ErrInvalidTransition, "ジョブはまだ完了していません。"))
			return
		}

		path := documents.OutputPath(string(job.Kind), job.DocumentID)
		file, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。",
				})
				return
			}
			apperr.Respond(c, err)
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		filename := filepath.Base(path)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, url.PathEscape(filename)))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", job.JobID)
		c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, nil)
	}
}
