package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-security/pkg/httputil"
	"github.com/jwalitptl/account-security/pkg/logger"
)

// ErrorHandler renders the last error a handler attached with c.Error, unless
// a response was already written.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle errors if they exist
		if len(c.Errors) == 0 {
			return
		}

		lastErr := c.Errors.Last()
		status, body := httputil.ErrorBody(lastErr.Err)
		if lastErr.IsType(gin.ErrorTypeBind) && status == http.StatusInternalServerError {
			status, body = http.StatusBadRequest, &httputil.Error{Code: http.StatusBadRequest, Message: "malformed request body"}
		}

		for _, e := range c.Errors {
			fields := []interface{}{
				"request_id", c.GetString(ContextRequestID),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"status", status,
			}
			if status >= http.StatusInternalServerError {
				log.Error(e.Err, "Request error", fields...)
			} else {
				log.Debug("Request rejected", append(fields, "error", e.Error())...)
			}
		}

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(status, httputil.Response{Success: false, Error: body})
	}
}

// AbortWithError attaches err for ErrorHandler and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
