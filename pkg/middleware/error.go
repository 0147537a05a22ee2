package middleware

import (
	"errors"

	"rewardcore/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error. Errors that carry a
// CoreStatus map to its HTTP code; anything else is a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		err := last.Err
		status := errutil.StatusOf(err)

		var r interface{ JSON() any }
		if errors.As(err, &r) {
			c.JSON(status.HTTPStatus(), r.JSON())
			return
		}
		msg := err.Error()
		if status == errutil.StatusInternal {
			zap.L().Error("unhandled request error", zap.String("path", c.FullPath()), zap.Error(err))
			msg = "internal error"
		}
		c.JSON(status.HTTPStatus(), errutil.BaseError{Code: status, Message: msg}.JSON())
	}
}
