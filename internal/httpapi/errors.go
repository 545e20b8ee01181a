package httpapi

import (
	"net/http"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch jobs.KindOf(err) {
	case jobs.KindValidation:
		return http.StatusBadRequest
	case jobs.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.WithComponent("http").Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
