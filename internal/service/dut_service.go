// internal/service/dut_service.go
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dut-service/internal/config"
	"dut-service/internal/dut"
	"dut-service/internal/latency"
	"dut-service/internal/model"
	"dut-service/internal/utils"
	"dut-service/pkg/packet"
)

// ErrInvalidRequest wraps caller mistakes so handlers can answer 400
var ErrInvalidRequest = errors.New("invalid request")

// Publisher receives DUT events, typically the websocket event bus
type Publisher interface {
	Publish(event *model.DUTEvent)
}

// DUTService owns the single DUT connection of this process and keeps
// an eye on it with a periodic health ping.
type DUTService struct {
	conn      *dut.Connection
	config    model.DUTConfig
	monitor   config.MonitorConfig
	publisher Publisher
	logger    *utils.ServiceLogger

	mutex       sync.RWMutex
	health      HealthStatus
	degraded    bool
	lastError   string
	lastErrorAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// HealthStatus is the result of the latest health probe
type HealthStatus struct {
	Healthy             bool      `json:"healthy"`
	CheckedAt           time.Time `json:"checked_at"`
	ResponseTimeMs      float64   `json:"response_time_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Error               string    `json:"error,omitempty"`
}

// Status is the service view of the DUT
type Status struct {
	dut.Status
	Degraded    bool         `json:"degraded"`
	LastError   string       `json:"last_error,omitempty"`
	LastErrorAt *time.Time   `json:"last_error_at,omitempty"`
	Health      HealthStatus `json:"health"`
	Config      ConfigView   `json:"config"`
}

// ConfigView is DUTConfig without credentials
type ConfigView struct {
	Host       string             `json:"host"`
	Port       int                `json:"port"`
	Protocol   model.ProtocolKind `json:"protocol"`
	TimeoutMs  int64              `json:"timeout_ms"`
	RetryCount int                `json:"retry_count"`
	CLIPort    int                `json:"cli_port"`
	CLIPrompt  string             `json:"cli_prompt"`
	CLIAuth    bool               `json:"cli_auth"`
	Interface  string             `json:"interface,omitempty"`
	SerialPort string             `json:"serial_port,omitempty"`
}

// NewDUTService creates the service. opts are passed to the connection;
// the service installs its own event handler.
func NewDUTService(dutConfig model.DUTConfig, monitor config.MonitorConfig, publisher Publisher, logger *zap.Logger, opts ...dut.Option) *DUTService {
	s := &DUTService{
		config:    dutConfig,
		monitor:   monitor,
		publisher: publisher,
		logger:    utils.NewServiceLogger(logger, "dut-service"),
	}
	opts = append(opts, dut.WithEventHandler(s.onEvent))
	s.conn = dut.New(dutConfig, logger, opts...)
	return s
}

// Connection exposes the underlying connection
func (s *DUTService) Connection() *dut.Connection {
	return s.conn
}

// Start connects when configured to and starts the health loop. A failed
// connect leaves the service running in degraded mode.
func (s *DUTService) Start(ctx context.Context) {
	if s.monitor.ConnectOnStart {
		if err := s.Connect(ctx); err != nil {
			s.logger.Warn("DUT unreachable at startup, running degraded", zap.Error(err))
		}
	}

	if !s.monitor.Enabled {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.healthLoop(loopCtx)
}

// Stop ends the health loop and disconnects
func (s *DUTService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.conn.Disconnect()
}

// Connect opens the data link and clears degraded mode on success
func (s *DUTService) Connect(ctx context.Context) error {
	err := s.conn.Connect(ctx)

	s.mutex.Lock()
	changed := s.degraded != (err != nil)
	s.degraded = err != nil
	if err != nil {
		s.lastError = err.Error()
		s.lastErrorAt = time.Now()
	}
	s.mutex.Unlock()

	if changed {
		severity := model.SeverityInfo
		if err != nil {
			severity = model.SeverityWarning
		}
		s.publish(model.NewDUTEvent(model.EventStatusChange, s.conn.SessionID(), severity, map[string]interface{}{
			"degraded": err != nil,
		}))
	}

	if err != nil {
		return fmt.Errorf("connect to DUT: %w", err)
	}
	return nil
}

// Disconnect closes the DUT links
func (s *DUTService) Disconnect() error {
	return s.conn.Disconnect()
}

// IsDegraded reports whether the last connect attempt failed
func (s *DUTService) IsDegraded() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.degraded
}

// Status returns connection state, health and a credential-free config
func (s *DUTService) Status() Status {
	st := Status{
		Status: s.conn.Status(),
		Config: ConfigView{
			Host:       s.config.Host,
			Port:       s.config.Port,
			Protocol:   s.config.Protocol,
			TimeoutMs:  s.config.Timeout.Milliseconds(),
			RetryCount: s.config.RetryCount,
			CLIPort:    s.config.CLIPort,
			CLIPrompt:  s.config.Prompt(),
			CLIAuth:    s.config.HasCLICredentials(),
			Interface:  s.config.Interface,
			SerialPort: s.config.SerialPort,
		},
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	st.Degraded = s.degraded
	st.Health = s.health
	st.LastError = s.lastError
	if !s.lastErrorAt.IsZero() {
		at := s.lastErrorAt
		st.LastErrorAt = &at
	}
	return st
}

// PacketRequest describes one packet to send
type PacketRequest struct {
	Command    byte
	PayloadHex string
	Checksum   bool
	// CRC32 appends the big-endian CRC-32 of the payload to the payload
	// and checks the same trailer on the reply.
	CRC32       bool
	ExpectReply bool
}

// PacketResult is the outcome of SendPacket
type PacketResult struct {
	Sequence  uint16       `json:"sequence"`
	SentBytes int          `json:"sent_bytes"`
	Reply     *PacketReply `json:"reply,omitempty"`
	LatencyMs float64      `json:"latency_ms,omitempty"`
}

// PacketReply is a decoded reply with a hex payload
type PacketReply struct {
	Command       byte   `json:"command"`
	Sequence      uint16 `json:"sequence"`
	Length        uint16 `json:"length"`
	PayloadHex    string `json:"payload_hex"`
	HasChecksum   bool   `json:"has_checksum"`
	ChecksumValid bool   `json:"checksum_valid"`
	CRC32Valid    *bool  `json:"crc32_valid,omitempty"`
}

// SendPacket encodes and sends a packet, optionally waiting for the reply
func (s *DUTService) SendPacket(ctx context.Context, req PacketRequest) (*PacketResult, error) {
	payload, err := hex.DecodeString(req.PayloadHex)
	if err != nil {
		return nil, fmt.Errorf("%w: payload_hex: %w", ErrInvalidRequest, err)
	}
	if req.CRC32 {
		payload = packet.AppendCRC32(payload)
	}
	if len(payload) > packet.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, packet.ErrPayloadTooLarge)
	}

	size := packet.HeaderSize + len(payload)
	if req.Checksum {
		size += packet.ChecksumSize
	}

	if !req.ExpectReply {
		seq, err := s.conn.SendPacket(ctx, req.Command, payload, req.Checksum)
		if err != nil {
			s.recordError(err)
			return nil, err
		}
		return &PacketResult{Sequence: seq, SentBytes: size}, nil
	}

	reply, rtt, err := s.conn.Exchange(ctx, req.Command, payload, req.Checksum)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	result := &PacketResult{
		Sequence:  reply.Sequence,
		SentBytes: size,
		LatencyMs: float64(rtt) / float64(time.Millisecond),
		Reply: &PacketReply{
			Command:       reply.Command,
			Sequence:      reply.Sequence,
			Length:        reply.Length,
			PayloadHex:    hex.EncodeToString(reply.Payload),
			HasChecksum:   reply.HasChecksum,
			ChecksumValid: reply.ChecksumValid,
		},
	}
	if req.CRC32 {
		_, ok := packet.SplitCRC32(reply.Payload)
		result.Reply.CRC32Valid = &ok
	}
	return result, nil
}

// CommandResult is the outcome of one console command
type CommandResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// ExecuteCommands runs console commands in order. Failures are reported
// per command and do not stop the sequence.
func (s *DUTService) ExecuteCommands(ctx context.Context, commands []string, timeout time.Duration) []CommandResult {
	results := make([]CommandResult, len(commands))
	for i, cmd := range commands {
		results[i].Command = cmd
		out, err := s.conn.ExecuteCommand(ctx, cmd, timeout)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Output = out
	}
	return results
}

// Parse extracts named groups from console output
func (s *DUTService) Parse(output, pattern string) map[string]string {
	return s.conn.Parse(output, pattern)
}

// Latency returns the recorded round trip statistics
func (s *DUTService) Latency() latency.Statistics {
	return s.conn.Latency().Statistics()
}

// LatencySamples returns the recorded round trips in milliseconds
func (s *DUTService) LatencySamples() []float64 {
	return s.conn.Latency().Samples()
}

func (s *DUTService) ResetLatency() {
	s.conn.Latency().Reset()
}

// CheckHealth pings the DUT once and publishes the result. While the link
// is down it tries to reconnect instead.
func (s *DUTService) CheckHealth(ctx context.Context) HealthStatus {
	var (
		rtt time.Duration
		err error
	)

	if !s.conn.IsConnected() {
		err = s.Connect(ctx)
	}
	if err == nil {
		_, rtt, err = s.conn.Exchange(ctx, byte(s.monitor.PingCommand), nil, true)
	}
	if err == nil && s.monitor.CLICommand != "" {
		_, err = s.conn.ExecuteCommand(ctx, s.monitor.CLICommand, 0)
	}

	s.mutex.Lock()
	h := HealthStatus{
		Healthy:        err == nil,
		CheckedAt:      time.Now(),
		ResponseTimeMs: float64(rtt) / float64(time.Millisecond),
	}
	if err != nil {
		h.ConsecutiveFailures = s.health.ConsecutiveFailures + 1
		h.Error = err.Error()
	}
	s.health = h
	s.mutex.Unlock()

	if err != nil {
		s.logger.Warn("DUT health check failed",
			zap.Int("consecutive_failures", h.ConsecutiveFailures),
			zap.Error(err),
		)
	}

	severity := model.SeverityInfo
	if !h.Healthy {
		severity = model.SeverityWarning
	}
	s.publish(model.NewDUTEvent(model.EventHealthUpdate, s.conn.SessionID(), severity, model.HealthUpdateEventData{
		Healthy:      h.Healthy,
		ResponseTime: h.ResponseTimeMs,
		Consecutive:  h.ConsecutiveFailures,
	}.ToMap()))
	return h
}

func (s *DUTService) healthLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.monitor.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, s.monitor.HealthInterval)
			s.CheckHealth(checkCtx)
			cancel()
		}
	}
}

func (s *DUTService) recordError(err error) {
	s.mutex.Lock()
	s.lastError = err.Error()
	s.lastErrorAt = time.Now()
	s.mutex.Unlock()
}

func (s *DUTService) onEvent(event *model.DUTEvent) {
	if event.EventType == model.EventDUTError {
		if msg, ok := event.Data["error_message"].(string); ok {
			s.mutex.Lock()
			s.lastError = msg
			s.lastErrorAt = event.Timestamp
			s.mutex.Unlock()
		}
	}
	s.publish(event)
}

func (s *DUTService) publish(event *model.DUTEvent) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}
