// internal/dut/connection.go
package dut

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dut-service/internal/cli"
	"dut-service/internal/latency"
	"dut-service/internal/metrics"
	"dut-service/internal/model"
	"dut-service/internal/protocol"
	"dut-service/internal/utils"
	"dut-service/pkg/packet"
)

// ErrSequenceMismatch is returned by Exchange in strict mode when the
// reply does not echo the request sequence number.
var ErrSequenceMismatch = errors.New("reply sequence mismatch")

// TransportFactory builds the data transport for a config
type TransportFactory func(config model.DUTConfig, logger *zap.Logger, opts ...protocol.Option) (protocol.Transport, error)

// EventHandler receives connection events. It is called without any
// Connection lock held.
type EventHandler func(event *model.DUTEvent)

// Option customises a Connection
type Option func(*Connection)

// WithTransportFactory replaces protocol.NewTransport
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *Connection) { c.newTransport = factory }
}

// WithTransportOptions passes options through to the transport factory
func WithTransportOptions(opts ...protocol.Option) Option {
	return func(c *Connection) { c.transportOpts = append(c.transportOpts, opts...) }
}

// WithCLIOptions passes options through to the console session
func WithCLIOptions(opts ...cli.Option) Option {
	return func(c *Connection) { c.cliOpts = append(c.cliOpts, opts...) }
}

// WithMetrics records link activity on collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Connection) { c.metrics = collector }
}

// WithEventHandler installs an event callback
func WithEventHandler(handler EventHandler) Option {
	return func(c *Connection) { c.onEvent = handler }
}

// WithStrictSequence makes Exchange reject replies whose sequence number
// differs from the request
func WithStrictSequence(strict bool) Option {
	return func(c *Connection) { c.strictSequence = strict }
}

// Connection owns one data transport and, lazily, one console session
// to a single DUT.
//
// Data exchanges are serialised by an internal mutex, so a Connection may
// be shared between goroutines; a send and its matching receive are never
// interleaved with another caller's. Console commands are serialised
// separately and never wait on the data link. Disconnect does not wait
// for an exchange in flight: it closes the link and the pending receive
// fails with protocol.ErrClosed.
type Connection struct {
	config    model.DUTConfig
	sessionID uuid.UUID
	logger    *zap.Logger
	dutLog    *utils.DUTLogger

	newTransport   TransportFactory
	transportOpts  []protocol.Option
	cliOpts        []cli.Option
	metrics        *metrics.Collector
	onEvent        EventHandler
	strictSequence bool

	// ioMutex serialises data exchanges
	ioMutex  sync.Mutex
	sequence uint16

	// mutex guards the link state below
	mutex       sync.Mutex
	transport   protocol.Transport
	state       model.ConnectionState
	connectedAt time.Time

	// cliConnect serialises console logins. cliMutex only guards the
	// session pointer and is never held across network I/O.
	cliConnect sync.Mutex
	cliMutex   sync.Mutex
	session    *cli.Session

	latency *latency.Tracker
}

// New creates a disconnected Connection
func New(config model.DUTConfig, logger *zap.Logger, opts ...Option) *Connection {
	c := &Connection{
		config:       config,
		sessionID:    uuid.New(),
		newTransport: protocol.NewTransport,
		state:        model.ConnectionDisconnected,
		latency:      latency.NewTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.dutLog = utils.NewDUTLogger(logger, c.sessionID.String(), string(config.Protocol), config.Endpoint())
	c.logger = c.dutLog.Logger
	return c
}

// WithConnection connects, runs fn and always disconnects afterwards,
// including when fn panics.
func WithConnection(ctx context.Context, config model.DUTConfig, logger *zap.Logger, fn func(*Connection) error, opts ...Option) (err error) {
	conn := New(config, logger, opts...)
	defer func() {
		if derr := conn.Disconnect(); derr != nil && err == nil {
			err = derr
		}
	}()

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	return fn(conn)
}

func (c *Connection) SessionID() uuid.UUID      { return c.sessionID }
func (c *Connection) Config() model.DUTConfig   { return c.config }
func (c *Connection) Latency() *latency.Tracker { return c.latency }

// State returns the data link state
func (c *Connection) State() model.ConnectionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

func (c *Connection) IsConnected() bool {
	return c.State() == model.ConnectionConnected
}

// CLIState returns the console session state
func (c *Connection) CLIState() model.CLISessionState {
	c.cliMutex.Lock()
	session := c.session
	c.cliMutex.Unlock()

	if session == nil {
		return model.CLIDisconnected
	}
	return session.State()
}

// ErrConnectInProgress is returned when Connect races another Connect
var ErrConnectInProgress = errors.New("connect already in progress")

// Connect opens the data transport. The console is not touched.
func (c *Connection) Connect(ctx context.Context) error {
	c.mutex.Lock()
	switch c.state {
	case model.ConnectionConnected:
		c.mutex.Unlock()
		return nil
	case model.ConnectionConnecting:
		c.mutex.Unlock()
		return ErrConnectInProgress
	}

	tr, err := c.newTransport(c.config, c.logger, c.transportOpts...)
	if err != nil {
		c.mutex.Unlock()
		c.dutLog.LogConnection("connect", err)
		return err
	}
	c.state = model.ConnectionConnecting
	c.transport = tr
	c.mutex.Unlock()

	err = tr.Connect(ctx)

	c.mutex.Lock()
	switch {
	case c.transport != tr || c.state != model.ConnectionConnecting:
		// Disconnect ran while dialing
		_ = tr.Close()
		if err == nil {
			err = protocol.ErrClosed
		}
	case err != nil:
		c.state = model.ConnectionDisconnected
	default:
		c.state = model.ConnectionConnected
		c.connectedAt = time.Now()
	}
	c.mutex.Unlock()

	c.dutLog.LogConnection("connect", err)
	c.metrics.ObserveConnect(err)
	if err != nil {
		c.emitError("connect", err, true)
		return err
	}

	c.emit(model.EventDUTConnected, model.SeverityInfo, map[string]interface{}{
		"protocol": string(c.config.Protocol),
		"endpoint": c.config.Endpoint(),
	})
	return nil
}

// Disconnect closes the console and the data link. It is idempotent and
// safe on a Connection that never connected.
func (c *Connection) Disconnect() error {
	var errs []error

	c.cliMutex.Lock()
	session := c.session
	c.session = nil
	c.cliMutex.Unlock()
	if session != nil {
		errs = append(errs, session.Close())
	}

	c.mutex.Lock()
	wasConnected := c.state != model.ConnectionDisconnected
	if c.transport != nil {
		errs = append(errs, c.transport.Close())
	}
	c.state = model.ConnectionDisconnected
	c.mutex.Unlock()

	err := errors.Join(errs...)
	if !wasConnected {
		return err
	}

	c.dutLog.LogConnection("disconnect", err)
	c.metrics.ObserveDisconnect()
	c.emit(model.EventDUTDisconnected, model.SeverityInfo, map[string]interface{}{"reason": "requested"})
	return err
}

// Stats returns the transport counters of the current or last link
func (c *Connection) Stats() protocol.Stats {
	c.mutex.Lock()
	tr := c.transport
	c.mutex.Unlock()
	if tr == nil {
		return protocol.Stats{}
	}
	return tr.Stats()
}

// ResetStats clears the transport counters
func (c *Connection) ResetStats() {
	c.mutex.Lock()
	tr := c.transport
	c.mutex.Unlock()
	if tr != nil {
		tr.ResetStats()
	}
}

// link returns the open transport
func (c *Connection) link() (protocol.Transport, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state != model.ConnectionConnected || c.transport == nil {
		return nil, protocol.ErrNotConnected
	}
	return c.transport, nil
}

// dropIfClosed marks the link down after the peer went away
func (c *Connection) dropIfClosed(tr protocol.Transport, err error) {
	if !protocol.IsClosed(err) {
		return
	}

	c.mutex.Lock()
	if c.transport != tr || c.state != model.ConnectionConnected {
		c.mutex.Unlock()
		return
	}
	_ = tr.Close()
	c.state = model.ConnectionDisconnected
	c.mutex.Unlock()

	c.logger.Warn("DUT closed the data link", zap.Error(err))
	c.metrics.ObserveDisconnect()
	c.emit(model.EventDUTDisconnected, model.SeverityWarning, map[string]interface{}{
		"reason": err.Error(),
	})
}

// Send writes one message to the DUT
func (c *Connection) Send(ctx context.Context, data []byte) error {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()
	return c.sendLocked(ctx, data)
}

func (c *Connection) sendLocked(ctx context.Context, data []byte) error {
	tr, err := c.link()
	if err != nil {
		return err
	}
	err = tr.Send(ctx, data)
	c.metrics.ObserveSend(len(data), err)
	c.dropIfClosed(tr, err)
	return err
}

// Receive reads one message of at most maxBytes
func (c *Connection) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	tr, err := c.link()
	if err != nil {
		return nil, err
	}
	data, err := tr.Receive(ctx, maxBytes)
	c.metrics.ObserveReceive(len(data), err)
	c.dropIfClosed(tr, err)
	return data, err
}

// SendAndReceive performs one request/response exchange. When
// measureLatency is set the round trip is returned and recorded in the
// latency tracker.
func (c *Connection) SendAndReceive(ctx context.Context, data []byte, maxBytes int, measureLatency bool) ([]byte, time.Duration, error) {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()
	return c.exchangeLocked(ctx, data, maxBytes, measureLatency)
}

func (c *Connection) exchangeLocked(ctx context.Context, data []byte, maxBytes int, measureLatency bool) ([]byte, time.Duration, error) {
	tr, err := c.link()
	if err != nil {
		return nil, 0, err
	}

	resp, rtt, err := tr.SendAndReceive(ctx, data, maxBytes, true)
	c.dutLog.LogExchange(len(data), len(resp), rtt, err)
	if err != nil {
		c.metrics.ObserveError(err)
		c.dropIfClosed(tr, err)
		return nil, 0, err
	}

	c.metrics.ObserveExchange(len(data), len(resp), rtt)
	if !measureLatency {
		return resp, 0, nil
	}
	c.latency.Record(rtt)
	return resp, rtt, nil
}

// nextSequence returns the sequence number for the next packet. Caller
// holds ioMutex.
func (c *Connection) nextSequence() uint16 {
	seq := c.sequence
	c.sequence++
	return seq
}

// SendPacket encodes and sends one packet with the next sequence number
func (c *Connection) SendPacket(ctx context.Context, command byte, payload []byte, checksum bool) (uint16, error) {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	seq := c.nextSequence()
	frame, err := packet.Encode(command, payload, seq, checksum)
	if err != nil {
		return seq, err
	}
	return seq, c.sendLocked(ctx, frame)
}

// Exchange sends one packet and decodes the reply. The round trip is
// recorded in the latency tracker.
func (c *Connection) Exchange(ctx context.Context, command byte, payload []byte, checksum bool) (*packet.Packet, time.Duration, error) {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	seq := c.nextSequence()
	frame, err := packet.Encode(command, payload, seq, checksum)
	if err != nil {
		return nil, 0, err
	}

	resp, rtt, err := c.exchangeLocked(ctx, frame, protocol.DefaultReceiveSize, true)
	if err != nil {
		return nil, 0, err
	}

	reply, err := packet.Decode(resp)
	if err != nil {
		return nil, rtt, fmt.Errorf("decode reply: %w", err)
	}
	if c.strictSequence && reply.Sequence != seq {
		return reply, rtt, fmt.Errorf("%w: sent %d, got %d", ErrSequenceMismatch, seq, reply.Sequence)
	}

	c.emit(model.EventPacketExchanged, model.SeverityInfo, map[string]interface{}{
		"command":        command,
		"sequence":       seq,
		"reply_command":  reply.Command,
		"checksum_valid": reply.ChecksumValid,
		"latency_ms":     float64(rtt) / float64(time.Millisecond),
	})
	return reply, rtt, nil
}

// BurstSend sends packets back to back and returns how many went out
func (c *Connection) BurstSend(ctx context.Context, packets [][]byte) int {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	sent := 0
	for _, p := range packets {
		if ctx.Err() != nil {
			break
		}
		if err := c.sendLocked(ctx, p); err != nil {
			c.logger.Debug("Burst packet failed", zap.Int("index", sent), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// MeasureLatency performs one exchange and returns its round trip
func (c *Connection) MeasureLatency(ctx context.Context, payload []byte) (time.Duration, error) {
	_, rtt, err := c.SendAndReceive(ctx, payload, protocol.DefaultReceiveSize, true)
	return rtt, err
}

// StressResult summarises a StressTest run
type StressResult struct {
	PacketsSent    uint64        `json:"packets_sent"`
	BytesSent      uint64        `json:"bytes_sent"`
	Errors         uint64        `json:"errors"`
	Duration       time.Duration `json:"duration"`
	ThroughputMbps float64       `json:"throughput_mbps"`
}

// StressTest sends packetSize packets filled with 0xAA as fast as the
// link allows for duration, or until ctx is done.
func (c *Connection) StressTest(ctx context.Context, duration time.Duration, packetSize int) StressResult {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	payload := make([]byte, packetSize)
	for i := range payload {
		payload[i] = 0xAA
	}

	var res StressResult
	start := time.Now()
	end := start.Add(duration)
	for time.Now().Before(end) && ctx.Err() == nil {
		if err := c.sendLocked(ctx, payload); err != nil {
			res.Errors++
			if errors.Is(err, protocol.ErrNotConnected) || protocol.IsClosed(err) {
				break
			}
			continue
		}
		res.PacketsSent++
		res.BytesSent += uint64(packetSize)
	}

	res.Duration = time.Since(start)
	if secs := res.Duration.Seconds(); secs > 0 {
		res.ThroughputMbps = float64(res.BytesSent) * 8 / (secs * 1e6)
	}
	c.logger.Info("Stress test finished",
		zap.Uint64("packets", res.PacketsSent),
		zap.Uint64("errors", res.Errors),
		zap.Float64("mbps", res.ThroughputMbps),
	)
	return res
}

// ConnectCLI opens the console now instead of on the first command
func (c *Connection) ConnectCLI(ctx context.Context) error {
	_, err := c.cli(ctx)
	return err
}

// cli returns a ready console session, connecting it if needed
func (c *Connection) cli(ctx context.Context) (*cli.Session, error) {
	c.cliConnect.Lock()
	defer c.cliConnect.Unlock()

	c.cliMutex.Lock()
	if c.session == nil {
		c.session = cli.NewSession(c.config, c.logger, c.cliOpts...)
	}
	session := c.session
	c.cliMutex.Unlock()

	if session.IsReady() {
		return session, nil
	}

	if err := session.Connect(ctx); err != nil {
		c.metrics.SetCLIReady(false)
		c.emitError("cli_connect", err, !errors.Is(err, cli.ErrAuthenticationFailed))
		return nil, err
	}
	c.metrics.SetCLIReady(true)
	c.emit(model.EventCLIReady, model.SeverityInfo, map[string]interface{}{
		"endpoint": c.config.CLIAddress(),
	})
	return session, nil
}

// ExecuteCommand runs one console command, opening the console first if
// needed. A positive timeout overrides the read timeout for this command.
func (c *Connection) ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	session, err := c.cli(ctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := session.ExecuteCommand(ctx, command, timeout)
	elapsed := time.Since(start)

	c.dutLog.LogCommand(command, len(out), elapsed, err)
	c.metrics.ObserveCommand(elapsed, err)
	if err != nil && !session.IsReady() {
		c.metrics.SetCLIReady(false)
	}

	c.emit(model.EventCLICommand, model.SeverityInfo, map[string]interface{}{
		"command":     command,
		"success":     err == nil,
		"duration_ms": float64(elapsed) / float64(time.Millisecond),
	})
	return out, err
}

// ExecuteCommands runs commands in order. A failed command yields an
// empty string and the rest still run.
func (c *Connection) ExecuteCommands(ctx context.Context, commands []string, timeout time.Duration) []string {
	results := make([]string, len(commands))
	for i, cmd := range commands {
		out, err := c.ExecuteCommand(ctx, cmd, timeout)
		if err != nil {
			continue
		}
		results[i] = out
	}
	return results
}

// Parse extracts named groups from console output
func (c *Connection) Parse(output, pattern string) map[string]string {
	return cli.Parse(output, pattern)
}

// Status is a point-in-time view of the connection
type Status struct {
	SessionID   uuid.UUID             `json:"session_id"`
	State       model.ConnectionState `json:"state"`
	CLIState    model.CLISessionState `json:"cli_state"`
	Protocol    model.ProtocolKind    `json:"protocol"`
	Endpoint    string                `json:"endpoint"`
	ConnectedAt *time.Time            `json:"connected_at,omitempty"`
	Stats       protocol.Stats        `json:"stats"`
	Latency     latency.Statistics    `json:"latency"`
}

func (c *Connection) Status() Status {
	st := Status{
		SessionID: c.sessionID,
		CLIState:  c.CLIState(),
		Protocol:  c.config.Protocol,
		Endpoint:  c.config.Endpoint(),
		Stats:     c.Stats(),
		Latency:   c.latency.Statistics(),
	}

	c.mutex.Lock()
	st.State = c.state
	if c.state == model.ConnectionConnected {
		at := c.connectedAt
		st.ConnectedAt = &at
	}
	c.mutex.Unlock()
	return st
}

func (c *Connection) emit(eventType model.EventType, severity string, data map[string]interface{}) {
	if c.onEvent == nil {
		return
	}
	c.onEvent(model.NewDUTEvent(eventType, c.sessionID, severity, data))
}

func (c *Connection) emitError(op string, err error, recoverable bool) {
	c.emit(model.EventDUTError, model.SeverityError, model.ErrorEventData{
		Operation:    op,
		ErrorMessage: err.Error(),
		ErrorTime:    time.Now(),
		Recoverable:  recoverable,
	}.ToMap())
}
