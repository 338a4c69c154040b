package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/response"
)

// Recovery converts panics into the standard 500 envelope. Panics raised
// after the response has been written only get logged.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(gin.DefaultErrorWriter, "panic recovered: %v\n%s\n", r, debug.Stack())
				if !c.Writer.Written() {
					response.ErrorWithDetails(c, http.StatusInternalServerError, infraerrors.UnknownMessage, "", nil)
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
