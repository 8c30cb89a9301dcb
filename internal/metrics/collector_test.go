package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dut-service/internal/protocol"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("dut")

	c.ObserveConnect(nil)
	c.ObserveConnect(errors.New("refused"))
	c.ObserveExchange(10, 12, 2*time.Millisecond)
	c.ObserveSend(4, nil)
	c.ObserveReceive(0, fmt.Errorf("receive: %w", os.ErrDeadlineExceeded))
	c.ObserveError(protocol.ErrClosed)
	c.ObserveCommand(time.Millisecond, nil)
	c.ObserveCommand(time.Millisecond, errors.New("boom"))
	c.SetCLIReady(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectAttempts.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.packets.WithLabelValues("sent")))
	assert.Equal(t, 14.0, testutil.ToFloat64(c.bytes.WithLabelValues("sent")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.bytes.WithLabelValues("received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transportErrors.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transportErrors.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cliCommands.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cliReady))

	c.ObserveDisconnect()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.cliReady))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveConnect(nil)
		c.ObserveExchange(1, 1, time.Millisecond)
		c.ObserveError(errors.New("x"))
		c.ObserveCommand(time.Second, nil)
		c.SetCLIReady(true)
		c.ObserveDisconnect()
	})
	assert.Nil(t, c.Registry())
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector("dut")
	c.ObserveConnect(nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dut_connect_total{result="success"} 1`)
	assert.Contains(t, rec.Body.String(), "dut_connected 1")
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "timeout", ErrorKind(protocol.ErrTimeout))
	assert.Equal(t, "permission", ErrorKind(os.ErrPermission))
	assert.Equal(t, "not_connected", ErrorKind(protocol.ErrNotConnected))
	assert.Equal(t, "other", ErrorKind(errors.New("weird")))
}
