package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dut-service/internal/model"
)

// startTCPServer accepts connections and hands each one to handle
func startTCPServer(t *testing.T, handle func(net.Conn)) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

func echo(conn net.Conn) {
	defer conn.Close()
	_, _ = io.Copy(conn, conn)
}

func tcpConfig(addr *net.TCPAddr, timeout time.Duration) model.DUTConfig {
	cfg := model.DefaultDUTConfig()
	cfg.Host = addr.IP.String()
	cfg.Port = addr.Port
	cfg.Timeout = timeout
	return cfg
}

func TestTCPTransportEcho(t *testing.T) {
	addr := startTCPServer(t, echo)
	tr := NewTCPTransport(tcpConfig(addr, time.Second), zap.NewNop())

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()
	assert.True(t, tr.IsOpen())
	assert.Equal(t, model.ProtocolTCP, tr.Kind())

	ctx := context.Background()
	resp, latency, err := tr.SendAndReceive(ctx, []byte("ping"), 64, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), resp)
	assert.Greater(t, latency, time.Duration(0))

	resp, latency, err = tr.SendAndReceive(ctx, []byte("pong"), 64, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), resp)
	assert.Zero(t, latency)

	stats := tr.Stats()
	assert.Equal(t, uint64(2), stats.PacketsSent)
	assert.Equal(t, uint64(2), stats.PacketsReceived)
	assert.Equal(t, uint64(8), stats.BytesSent)
	assert.True(t, stats.IsConnected)
	assert.Greater(t, stats.AverageLatency, time.Duration(0))

	tr.ResetStats()
	assert.Zero(t, tr.Stats().PacketsSent)
	assert.True(t, tr.Stats().IsConnected)
}

func TestTCPTransportConnectIsIdempotent(t *testing.T) {
	addr := startTCPServer(t, echo)
	tr := NewTCPTransport(tcpConfig(addr, time.Second), zap.NewNop())

	require.NoError(t, tr.Connect(context.Background()))
	first := tr.LocalAddr()
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, first, tr.LocalAddr())
	require.NoError(t, tr.Close())
}

func TestTCPTransportRetryBound(t *testing.T) {
	var dials atomic.Int32
	refused := errors.New("connection refused")
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		dials.Add(1)
		return nil, refused
	}

	cfg := model.DefaultDUTConfig()
	cfg.Host = "127.0.0.1"
	cfg.RetryCount = 3

	tr := NewTCPTransport(cfg, zap.NewNop(), WithDialer(dial), WithRetryDelay(time.Millisecond))
	err := tr.Connect(context.Background())

	var ce *ConnectError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, 3, ce.Attempts)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, int32(3), dials.Load())
	assert.False(t, tr.IsOpen())
}

func TestTCPTransportRetryCountZeroStillTriesOnce(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("unreachable")
	}

	cfg := model.DefaultDUTConfig()
	cfg.RetryCount = 0

	err := NewTCPTransport(cfg, zap.NewNop(), WithDialer(dial)).Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), dials.Load())
}

func TestTCPTransportRetryWaitsBetweenAttempts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := model.DefaultDUTConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.RetryCount = 3

	start := time.Now()
	err = NewTCPTransport(cfg, zap.NewNop(), WithRetryDelay(50*time.Millisecond)).Connect(context.Background())
	elapsed := time.Since(start)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.Contains(t, ce.Addr, strconv.Itoa(port))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestTCPTransportReceiveTimeout(t *testing.T) {
	addr := startTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})

	timeout := 150 * time.Millisecond
	tr := NewTCPTransport(tcpConfig(addr, timeout), zap.NewNop())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	start := time.Now()
	_, err := tr.Receive(context.Background(), 64)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.False(t, IsClosed(err))
	assert.GreaterOrEqual(t, elapsed, timeout-20*time.Millisecond)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	// a timeout leaves the link usable
	assert.True(t, tr.IsOpen())
	assert.Equal(t, uint64(1), tr.Stats().Timeouts)
	assert.Zero(t, tr.Stats().Errors)
}

func TestTCPTransportSetTimeout(t *testing.T) {
	addr := startTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})

	tr := NewTCPTransport(tcpConfig(addr, 5*time.Second), zap.NewNop())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	tr.SetTimeout(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, tr.Timeout())

	start := time.Now()
	_, err := tr.Receive(context.Background(), 16)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	tr.SetTimeout(0)
	assert.Equal(t, 50*time.Millisecond, tr.Timeout(), "non-positive timeouts are ignored")
}

func TestTCPTransportPeerClose(t *testing.T) {
	addr := startTCPServer(t, func(conn net.Conn) {
		conn.Close()
	})

	tr := NewTCPTransport(tcpConfig(addr, time.Second), zap.NewNop())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	_, err := tr.Receive(context.Background(), 64)
	require.Error(t, err)
	assert.True(t, IsClosed(err), "got %v", err)
	assert.False(t, IsTimeout(err))
}

func TestTCPTransportLocalCloseInterruptsReceive(t *testing.T) {
	addr := startTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})

	tr := NewTCPTransport(tcpConfig(addr, 5*time.Second), zap.NewNop())
	require.NoError(t, tr.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Receive(context.Background(), 64)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		assert.True(t, IsClosed(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return after close")
	}
}

func TestTCPTransportContextCancel(t *testing.T) {
	addr := startTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})

	tr := NewTCPTransport(tcpConfig(addr, 5*time.Second), zap.NewNop())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := tr.Receive(ctx, 64)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTCPTransportNotConnected(t *testing.T) {
	tr := NewTCPTransport(model.DefaultDUTConfig(), zap.NewNop())

	err := tr.Send(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = tr.Receive(context.Background(), 8)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}
