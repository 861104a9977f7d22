package pdf

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdfops/internal/apperr"
)

// Submitter は SubmitHandler が利用する受付処理です。
type Submitter interface {
	Submit(ctx context.Context, op OperationType, documentID string) (string, error)
}

// SubmitHandler は POST /pdf/:documentId/<op> のハンドラーを返します。
// ジョブを投入したら 202 と job_id を返し、完了は待ちません。
func SubmitHandler(svc Submitter, op OperationType) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, err := svc.Submit(c.Request.Context(), op, c.Param("documentId"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
	}
}

// RegisterRoutes は処理種別ごとの受付ルートを登録します。
func RegisterRoutes(r gin.IRoutes, svc Submitter) {
	for _, op := range Operations() {
		r.POST("/pdf/:documentId/"+string(op), SubmitHandler(svc, op))
	}
}
