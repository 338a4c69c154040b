// Package response provides the JSON envelope used by all HTTP handlers.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
)

// Response is the envelope written for every JSON endpoint. Code is 0 for
// success and the HTTP status code for failures.
type Response struct {
	Code     int               `json:"code"`
	Message  string            `json:"message"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Data     any               `json:"data,omitempty"`
}

// Success writes a 200 response with the given payload.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// Error writes a failure response with the given status and message.
func Error(c *gin.Context, statusCode int, message string) {
	ErrorWithDetails(c, statusCode, message, "", nil)
}

// ErrorWithDetails writes a failure response with a reason code and metadata.
func ErrorWithDetails(c *gin.Context, statusCode int, message, reason string, metadata map[string]string) {
	c.JSON(statusCode, Response{Code: statusCode, Message: message, Reason: reason, Metadata: metadata})
}

// BadRequest writes a 400 response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

// Forbidden writes a 403 response.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message)
}

// InternalError writes a 500 response.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// NotFound writes a 404 response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// ErrorFrom writes the response for an application error. It returns false
// without writing anything when err is nil.
func ErrorFrom(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	appErr := infraerrors.FromError(err)
	ErrorWithDetails(c, appErr.StatusCode, appErr.Message, appErr.Reason, appErr.Metadata)
	return true
}
