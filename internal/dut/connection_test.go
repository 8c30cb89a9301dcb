package dut

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dut-service/internal/cli"
	"dut-service/internal/metrics"
	"dut-service/internal/model"
	"dut-service/internal/protocol"
	"dut-service/pkg/packet"
)

func listen(t *testing.T, handle func(net.Conn)) *net.TCPAddr {
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

// packetResponder answers every packet with command|0x80 and the
// request sequence shifted by seqShift
func packetResponder(seqShift uint16) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			req, err := packet.Decode(buf[:n])
			if err != nil {
				return
			}
			reply, _ := packet.Encode(req.Command|0x80, req.Payload, req.Sequence+seqShift, true)
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}
}

// console answers "version" after a plain banner
func console(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	_, _ = io.WriteString(conn, "Welcome\r\nDUT> ")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		_, _ = io.WriteString(conn, cmd+"\r\nout:"+cmd+"\r\nDUT> ")
	}
}

func testConfig(data, cliAddr *net.TCPAddr) model.DUTConfig {
	cfg := model.DefaultDUTConfig()
	cfg.Host = "127.0.0.1"
	cfg.Timeout = time.Second
	if data != nil {
		cfg.Port = data.Port
	}
	if cliAddr != nil {
		cfg.CLIPort = cliAddr.Port
	}
	return cfg
}

type eventRecorder struct {
	mu     sync.Mutex
	events []model.EventType
}

func (r *eventRecorder) handle(e *model.DUTEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.EventType)
}

func (r *eventRecorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.EventType(nil), r.events...)
}

func TestConnectionLifecycle(t *testing.T) {
	addr := listen(t, echo)
	rec := &eventRecorder{}
	c := New(testConfig(addr, nil), zap.NewNop(), WithEventHandler(rec.handle))

	assert.Equal(t, model.ConnectionDisconnected, c.State())
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()), "connect is idempotent")

	status := c.Status()
	assert.Equal(t, model.ConnectionConnected, status.State)
	assert.Equal(t, model.CLIDisconnected, status.CLIState)
	assert.NotNil(t, status.ConnectedAt)
	assert.Equal(t, c.SessionID(), status.SessionID)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, model.ConnectionDisconnected, c.State())

	assert.Equal(t, []model.EventType{model.EventDUTConnected, model.EventDUTDisconnected}, rec.types())
}

func TestDisconnectNeverConnected(t *testing.T) {
	c := New(model.DefaultDUTConfig(), zap.NewNop())
	assert.NoError(t, c.Disconnect())
	assert.NoError(t, c.Disconnect())
}

func TestConnectFailureLeavesDisconnected(t *testing.T) {
	refused := errors.New("refused")
	cfg := model.DefaultDUTConfig()
	cfg.RetryCount = 2

	rec := &eventRecorder{}
	c := New(cfg, zap.NewNop(),
		WithEventHandler(rec.handle),
		WithTransportOptions(
			protocol.WithRetryDelay(time.Millisecond),
			protocol.WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
				return nil, refused
			}),
		),
	)

	err := c.Connect(context.Background())
	var ce *protocol.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Attempts)
	assert.Equal(t, model.ConnectionDisconnected, c.State())
	assert.Equal(t, []model.EventType{model.EventDUTError}, rec.types())
}

func TestSendAndReceiveRecordsLatency(t *testing.T) {
	addr := listen(t, echo)
	c := New(testConfig(addr, nil), zap.NewNop(), WithMetrics(metrics.NewCollector("test")))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	resp, rtt, err := c.SendAndReceive(context.Background(), []byte("hello"), 64, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), resp)
	assert.Greater(t, rtt, time.Duration(0))

	_, rtt, err = c.SendAndReceive(context.Background(), []byte("again"), 64, false)
	require.NoError(t, err)
	assert.Zero(t, rtt)

	_, err = c.MeasureLatency(context.Background(), []byte("probe"))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Latency().Statistics().Count)
	assert.Equal(t, uint64(3), c.Stats().PacketsSent)
}

func TestOperationsRequireConnection(t *testing.T) {
	c := New(model.DefaultDUTConfig(), zap.NewNop())

	assert.ErrorIs(t, c.Send(context.Background(), []byte{1}), protocol.ErrNotConnected)
	_, err := c.Receive(context.Background(), 16)
	assert.ErrorIs(t, err, protocol.ErrNotConnected)
	_, _, err = c.SendAndReceive(context.Background(), []byte{1}, 16, true)
	assert.ErrorIs(t, err, protocol.ErrNotConnected)
	_, _, err = c.Exchange(context.Background(), 0x01, nil, true)
	assert.ErrorIs(t, err, protocol.ErrNotConnected)
	assert.Equal(t, protocol.Stats{}, c.Stats())
}

func TestExchangeAssignsSequenceNumbers(t *testing.T) {
	addr := listen(t, packetResponder(0))
	rec := &eventRecorder{}
	c := New(testConfig(addr, nil), zap.NewNop(), WithStrictSequence(true), WithEventHandler(rec.handle))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	for want := uint16(0); want < 3; want++ {
		reply, rtt, err := c.Exchange(context.Background(), 0x10, []byte{0xDE, 0xAD}, true)
		require.NoError(t, err)
		assert.Equal(t, byte(0x90), reply.Command)
		assert.Equal(t, want, reply.Sequence)
		assert.Equal(t, []byte{0xDE, 0xAD}, reply.Payload)
		assert.True(t, reply.HasChecksum)
		assert.True(t, reply.ChecksumValid)
		assert.Greater(t, rtt, time.Duration(0))
	}

	assert.Equal(t, 3, c.Latency().Statistics().Count)
	assert.Contains(t, rec.types(), model.EventPacketExchanged)
}

func TestExchangeSequenceWraps(t *testing.T) {
	addr := listen(t, packetResponder(0))
	c := New(testConfig(addr, nil), zap.NewNop(), WithStrictSequence(true))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	c.sequence = 0xFFFF
	reply, _, err := c.Exchange(context.Background(), 0x01, nil, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), reply.Sequence)

	reply, _, err = c.Exchange(context.Background(), 0x01, nil, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), reply.Sequence)
}

func TestExchangeStrictSequenceMismatch(t *testing.T) {
	addr := listen(t, packetResponder(1))

	strict := New(testConfig(addr, nil), zap.NewNop(), WithStrictSequence(true))
	require.NoError(t, strict.Connect(context.Background()))
	defer strict.Disconnect()

	reply, _, err := strict.Exchange(context.Background(), 0x01, nil, true)
	assert.ErrorIs(t, err, ErrSequenceMismatch)
	require.NotNil(t, reply)
	assert.Equal(t, uint16(1), reply.Sequence)

	lenient := New(testConfig(addr, nil), zap.NewNop())
	require.NoError(t, lenient.Connect(context.Background()))
	defer lenient.Disconnect()

	_, _, err = lenient.Exchange(context.Background(), 0x01, nil, true)
	assert.NoError(t, err)
}

func TestExchangeDecodeError(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 256)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			_, _ = conn.Write([]byte{0x55, 0xAA, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
		}
	})
	c := New(testConfig(addr, nil), zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	reply, _, err := c.Exchange(context.Background(), 0x01, nil, true)
	assert.Nil(t, reply)
	assert.True(t, packet.IsDecodeError(err, packet.BadMarker), "got %v", err)
	assert.True(t, c.IsConnected(), "a bad reply does not drop the link")
}

func TestConcurrentExchangesAreSerialised(t *testing.T) {
	addr := listen(t, echo)
	c := New(testConfig(addr, nil), zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := []byte(fmt.Sprintf("worker-%02d", i))
			resp, _, err := c.SendAndReceive(context.Background(), msg, 64, true)
			if err != nil {
				errs <- err
				return
			}
			if string(resp) != string(msg) {
				errs <- fmt.Errorf("worker %d got %q", i, resp)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 20, c.Latency().Statistics().Count)
}

func TestPeerCloseMarksDisconnected(t *testing.T) {
	addr := listen(t, func(conn net.Conn) { conn.Close() })
	rec := &eventRecorder{}
	c := New(testConfig(addr, nil), zap.NewNop(), WithEventHandler(rec.handle))
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Receive(context.Background(), 16)
	assert.True(t, protocol.IsClosed(err), "got %v", err)
	assert.Equal(t, model.ConnectionDisconnected, c.State())
	assert.Contains(t, rec.types(), model.EventDUTDisconnected)

	assert.NoError(t, c.Disconnect())
}

func TestDisconnectInterruptsReceive(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})
	cfg := testConfig(addr, nil)
	cfg.Timeout = 5 * time.Second

	c := New(cfg, zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background(), 16)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Disconnect())

	select {
	case err := <-errCh:
		assert.True(t, protocol.IsClosed(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive still blocked after disconnect")
	}
}

func TestBurstSendAndStressTest(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})
	c := New(testConfig(addr, nil), zap.NewNop())

	assert.Zero(t, c.BurstSend(context.Background(), [][]byte{{1}, {2}}), "nothing is sent before connect")

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	assert.Equal(t, 3, c.BurstSend(context.Background(), [][]byte{{1}, {2, 3}, {4, 5, 6}}))

	res := c.StressTest(context.Background(), 100*time.Millisecond, 64)
	assert.Greater(t, res.PacketsSent, uint64(0))
	assert.Equal(t, res.PacketsSent*64, res.BytesSent)
	assert.Zero(t, res.Errors)
	assert.GreaterOrEqual(t, res.Duration, 100*time.Millisecond)
	assert.Greater(t, res.ThroughputMbps, 0.0)
}

func TestCLIIsOpenedLazily(t *testing.T) {
	data := listen(t, echo)
	cliAddr := listen(t, console)
	rec := &eventRecorder{}

	c := New(testConfig(data, cliAddr), zap.NewNop(),
		WithCLIOptions(cli.WithBannerDelay(0)),
		WithEventHandler(rec.handle),
	)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	assert.Equal(t, model.CLIDisconnected, c.CLIState())

	out, err := c.ExecuteCommand(context.Background(), "version", 0)
	require.NoError(t, err)
	assert.Equal(t, "out:version", out)
	assert.Equal(t, model.CLIReady, c.CLIState())

	outs := c.ExecuteCommands(context.Background(), []string{"a", "b"}, 0)
	assert.Equal(t, []string{"out:a", "out:b"}, outs)

	groups := c.Parse(out, `out:(?P<what>\w+)`)
	assert.Equal(t, map[string]string{"what": "version"}, groups)

	types := rec.types()
	assert.Contains(t, types, model.EventCLIReady)
	assert.Contains(t, types, model.EventCLICommand)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, model.CLIDisconnected, c.CLIState())
}

func TestCLIFailureDoesNotAffectDataPath(t *testing.T) {
	data := listen(t, echo)
	cfg := testConfig(data, nil)
	cfg.CLIPort = 1

	c := New(cfg, zap.NewNop(), WithCLIOptions(
		cli.WithBannerDelay(0),
		cli.WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("console unreachable")
		}),
	))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	_, err := c.ExecuteCommand(context.Background(), "version", 0)
	require.Error(t, err)
	assert.Equal(t, []string{"", ""}, c.ExecuteCommands(context.Background(), []string{"a", "b"}, 0))

	resp, _, err := c.SendAndReceive(context.Background(), []byte("still-up"), 64, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("still-up"), resp)
}

func TestCLIStateDoesNotWaitForConsoleLogin(t *testing.T) {
	data := listen(t, echo)
	cfg := testConfig(data, nil)
	cfg.CLIPort = 1
	cfg.Timeout = 5 * time.Second

	dialing := make(chan struct{})
	release := make(chan struct{})
	c := New(cfg, zap.NewNop(), WithCLIOptions(
		cli.WithBannerDelay(0),
		cli.WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			close(dialing)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, errors.New("console unreachable")
		}),
	))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	cmdDone := make(chan error, 1)
	go func() {
		_, err := c.ExecuteCommand(context.Background(), "version", 0)
		cmdDone <- err
	}()
	<-dialing

	state := make(chan model.CLISessionState, 1)
	go func() { state <- c.CLIState() }()
	select {
	case st := <-state:
		assert.Equal(t, model.CLIDisconnected, st)
	case <-time.After(time.Second):
		t.Fatal("CLIState blocked behind the console login")
	}

	close(release)
	assert.Error(t, <-cmdDone)
	assert.Equal(t, model.CLIDisconnected, c.CLIState())
}

func TestWithConnectionDisconnectsOnPanic(t *testing.T) {
	addr := listen(t, echo)

	var captured protocol.Transport
	factory := func(cfg model.DUTConfig, logger *zap.Logger, opts ...protocol.Option) (protocol.Transport, error) {
		tr, err := protocol.NewTransport(cfg, logger, opts...)
		captured = tr
		return tr, err
	}

	assert.Panics(t, func() {
		_ = WithConnection(context.Background(), testConfig(addr, nil), zap.NewNop(), func(c *Connection) error {
			require.True(t, c.IsConnected())
			panic("test body failed")
		}, WithTransportFactory(factory))
	})

	require.NotNil(t, captured)
	assert.False(t, captured.IsOpen())
}

func TestWithConnectionReturnsBodyError(t *testing.T) {
	addr := listen(t, echo)
	bodyErr := errors.New("assertion failed")

	err := WithConnection(context.Background(), testConfig(addr, nil), zap.NewNop(), func(c *Connection) error {
		_, _, err := c.SendAndReceive(context.Background(), []byte("x"), 8, true)
		require.NoError(t, err)
		return bodyErr
	})
	assert.ErrorIs(t, err, bodyErr)
}
