// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dut-service/internal/cli"
	"dut-service/internal/discovery"
	"dut-service/internal/dut"
	"dut-service/internal/protocol"
	"dut-service/internal/service"
	"dut-service/internal/utils"
	"dut-service/pkg/packet"
)

// statusFor maps DUT errors to HTTP status codes
func statusFor(err error) int {
	var (
		decodeErr  *packet.DecodeError
		connectErr *protocol.ConnectError
	)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, discovery.ErrInterfaceNotFound), errors.Is(err, service.ErrOperationNotFound):
		return http.StatusNotFound
	case errors.Is(err, dut.ErrConnectInProgress):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrNotConnected), errors.Is(err, cli.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &connectErr),
		errors.As(err, &decodeErr),
		errors.Is(err, dut.ErrSequenceMismatch),
		errors.Is(err, cli.ErrAuthenticationFailed),
		errors.Is(err, protocol.ErrClosed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, statusFor(err), message, err)
}
