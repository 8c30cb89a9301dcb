// internal/utils/response.go
package utils

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dut-service/internal/protocol"
	"dut-service/pkg/packet"
)

// Failure classes reported in APIError.Kind. They tell a client whether
// the DUT link itself failed and whether retrying on the same link makes
// sense.
const (
	KindTimeout          = "timeout"
	KindLinkClosed       = "link_closed"
	KindPermissionDenied = "permission_denied"
	KindNotConnected     = "not_connected"
	KindConnectFailed    = "connect_failed"
	KindMalformedReply   = "malformed_reply"
)

// APIResponse is the envelope of every /api/v1 reply
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError describes a failed request. Kind is set when the failure came
// from the DUT link rather than from the request itself.
type APIError struct {
	Code        string `json:"code"`
	Kind        string `json:"kind,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// ErrorResponse sends an error response, classifying err against the
// transport error taxonomy
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    errorCode(statusCode),
		Message: message,
	}
	if err != nil {
		apiError.Details = err.Error()
		apiError.Kind = ErrorKind(err)
		// a timeout leaves the link usable
		apiError.Recoverable = apiError.Kind == KindTimeout
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// ValidationErrorResponse sends a 400 with per-field messages
func ValidationErrorResponse(c *gin.Context, fields map[string]string) {
	c.JSON(http.StatusBadRequest, APIResponse{
		Success: false,
		Message: "Validation failed",
		Error: &APIError{
			Code:    "VALIDATION_ERROR",
			Message: "Request validation failed",
		},
		Data:      gin.H{"validation_errors": fields},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// ErrorKind names the link failure class of err, or "" when err did not
// come from the DUT link.
func ErrorKind(err error) string {
	var (
		connectErr *protocol.ConnectError
		decodeErr  *packet.DecodeError
	)
	switch {
	case errors.As(err, &connectErr):
		return KindConnectFailed
	case errors.As(err, &decodeErr):
		return KindMalformedReply
	}

	switch protocol.Classify(err) {
	case protocol.ErrTimeout:
		return KindTimeout
	case protocol.ErrClosed:
		return KindLinkClosed
	case protocol.ErrPermissionDenied:
		return KindPermissionDenied
	case protocol.ErrNotConnected:
		return KindNotConnected
	}
	return ""
}

func getRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

func errorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusBadGateway:
		return "DUT_ERROR"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DUT_TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}
