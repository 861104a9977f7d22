// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/pdfops/internal/config"
	"github.com/yourusername/pdfops/internal/logging"
	"github.com/yourusername/pdfops/internal/pdf"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := setupJobs(cfg, logger, registry)
	if err != nil {
		logger.Error("failed to set up job queue", "backend", cfg.QueueBackend, "error", err)
		os.Exit(1)
	}

	router := newRouter(cfg, app, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.manager.StartWorkers(); err != nil {
		logger.Error("failed to start workers", "error", err)
		os.Exit(1)
	}
	go app.manager.RunReaper(ctx, cfg.ReaperInterval())

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "backend", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		logger.Warn("job queue shutdown", "error", err)
	}
}

// newRouter は CORS とルーティングを1つのエンジンにまとめて構成します。
func newRouter(cfg *config.Config, app *application, registry *prometheus.Registry) *gin.Engine {
	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Cache-Control",
		"Last-Event-ID", // SSE 再接続用
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, app, registry, newUpgrader(origins))
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
// 依存先の状態は確認せず、プロセスが生きていれば常に成功します。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func setupRoutes(router *gin.Engine, app *application, registry *prometheus.Registry, upgrader *websocket.Upgrader) {
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	pdf.RegisterRoutes(router, app.dispatcher)

	jobsGroup := router.Group("/jobs")
	{
		jobsGroup.GET("/:id", jobStreamHandler(app.streamer))
		jobsGroup.GET("/:id/status", jobStatusHandler(app.manager))
		jobsGroup.GET("/:id/ws", jobSocketHandler(app.streamer, upgrader, app.logger))
		jobsGroup.POST("/:id/cancel", jobCancelHandler(app.manager))
		jobsGroup.GET("/:id/download", jobDownloadHandler(app.manager, app.documents))
	}
}
