package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/pkg/logger"
)

// Recovery middleware recovers from panics and logs the error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", fmt.Sprint(rec),
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				if c.Writer.Written() {
					// headers already sent, e.g. an SSE stream
					c.Abort()
					return
				}
				apperr.Respond(c, apperr.NewInternalError("Internal server error", fmt.Errorf("panic: %v", rec)))
			}
		}()

		c.Next()
	}
}
