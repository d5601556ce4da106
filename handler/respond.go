package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// respondError writes {"error", "code"} with the status mapped from the error code
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	ctx := c.Request.Context()
	if status >= 500 {
		logger.Error(ctx, "request failed", "error", err, "code", apperr.Code(err))
	} else {
		logger.Debug(ctx, "request rejected", "error", err, "code", apperr.Code(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": apperr.Message(err),
		"code":  apperr.Code(err),
	})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apperr.New(apperr.CodeValidation, message))
}
