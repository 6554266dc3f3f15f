package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/table-booking-gateway/internal/http/middleware"
)

// ErrorResponse is the error envelope every non-2xx JSON response carries.
// Clients branch on Code; Message is for display.
type ErrorResponse struct {
	// Echo of X-Request-ID for log correlation
	RequestID string `json:"request_id,omitempty" example:"3f0c9c3e-8d7b-4c39-9a3e-1f1f3b0f2a11"`
	// Stable code, see errors.go
	Code string `json:"code" example:"forbidden"`
	// Safe to show to users
	Message string `json:"message" example:"invalid signature"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// failErr is fail for internal errors: cause goes to the log only and the
// client sees msg.
func failErr(c *gin.Context, status int, code, msg string, cause error) {
	if cause != nil {
		_ = c.Error(cause)
		middleware.LoggerFrom(c).Error().Err(cause).Str("code", code).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router reuse the envelope for NoRoute and NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func requestID(c *gin.Context) string {
	if id := middleware.RequestIDFrom(c); id != "" {
		return id
	}
	return c.Writer.Header().Get("X-Request-ID")
}
