package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docmind/pkg/errors"
	"github.com/kart-io/docmind/pkg/response"
)

// Recovery returns a middleware that recovers from panics and responds with ErrPanic.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", fmt.Sprint(r),
					"path", c.Request.URL.Path,
					"request_id", GetRequestID(c.Request.Context()),
					"stack", string(debug.Stack()),
				)
				response.Fail(c, errors.ErrPanic)
			}
		}()
		c.Next()
	}
}
