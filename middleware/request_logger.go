package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// RequestLogger logs every request with a level chosen by status code.
// Paths in quiet are logged at debug when they succeed.
func RequestLogger(quiet ...string) gin.HandlerFunc {
	quietPaths := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		if q := c.Request.URL.Query(); q.Has(tokenQueryParam) {
			q.Set(tokenQueryParam, "REDACTED")
			query = q.Encode()
		}

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"bytes", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		// the request context carries request_id and, after auth, user_id
		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("request completed", attrs...)
		case status >= 400:
			log.Warn("request completed", attrs...)
		case quietPaths[path]:
			log.Debug("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}
