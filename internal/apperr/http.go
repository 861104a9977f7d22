package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Respond はエラーを {code, message} 形式のJSONで返します。
func Respond(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
		return
	}

	code, message := Describe(err)
	c.JSON(HTTPStatus(err), gin.H{
		"code":    code,
		"message": message,
	})
}
