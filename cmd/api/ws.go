package main

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/pdfops/internal/apperr"
	"github.com/yourusername/pdfops/internal/jobs"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage は WebSocket で送る1件の通知です。SSE の event/data と同じ内容です。
type wsMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// ブラウザ以外のクライアントは Origin を付けません
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
}

// jobSocketHandler は SSE を使えないクライアント向けに、同じ状態配信を WebSocket で行います。
func jobSocketHandler(streamer *jobs.Streamer, upgrader *websocket.Upgrader, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := requireJobID(c)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// NotFound はアップグレード前に通常のHTTPエラーとして返します。
		events, err := streamer.Stream(ctx, jobID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "jobId", jobID, "error", err)
			return
		}
		defer conn.Close()

		// クライアントからの切断を検出するために読み捨てます。
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for ev := range events {
			msg := wsMessage{Event: "status", Data: ev.Snapshot}
			if ev.Err != nil {
				code, message := apperr.Describe(ev.Err)
				msg = wsMessage{Event: "error", Data: gin.H{"code": code, "message": message}}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", "jobId", jobID, "error", err)
				return
			}
		}

		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"),
			time.Now().Add(wsWriteTimeout),
		)
	}
}
