// internal/protocol/base.go
package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"dut-service/internal/model"
)

// link is the byte pipe under a transport. net.Conn, a non-blocking
// *os.File and the serial adapter all satisfy it.
type link interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// baseTransport implements everything except Connect and Kind
type baseTransport struct {
	kind     model.ProtocolKind
	endpoint string
	logger   *zap.Logger

	mutex   sync.RWMutex
	link    link
	isOpen  bool
	timeout time.Duration

	stats statsRecorder
}

func (b *baseTransport) init(kind model.ProtocolKind, endpoint string, timeout time.Duration, logger *zap.Logger) {
	b.kind = kind
	b.endpoint = endpoint
	b.timeout = timeout
	b.logger = logger.With(
		zap.String("protocol", string(kind)),
		zap.String("endpoint", endpoint),
	)
}

// attach installs an opened link. Caller holds the write lock.
func (b *baseTransport) attach(l link) {
	b.link = l
	b.isOpen = true
	b.stats.setConnected(true)
}

// Close closes the link. Closing a transport that is not open is a no-op.
func (b *baseTransport) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.isOpen || b.link == nil {
		return nil
	}

	err := b.link.Close()
	b.link = nil
	b.isOpen = false
	b.stats.setConnected(false)

	if err != nil && Classify(err) != ErrClosed {
		b.logger.Warn("Error while closing transport", zap.Error(err))
		return newOpError("close", b.kind, b.endpoint, err)
	}

	b.logger.Info("Transport closed")
	return nil
}

// IsOpen returns whether the transport is connected
func (b *baseTransport) IsOpen() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.isOpen && b.link != nil
}

// SetTimeout changes the receive window for subsequent operations
func (b *baseTransport) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	b.mutex.Lock()
	b.timeout = timeout
	b.mutex.Unlock()
}

func (b *baseTransport) Timeout() time.Duration {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.timeout
}

func (b *baseTransport) Kind() model.ProtocolKind { return b.kind }
func (b *baseTransport) Endpoint() string         { return b.endpoint }

func (b *baseTransport) Stats() Stats { return b.stats.snapshot() }
func (b *baseTransport) ResetStats()  { b.stats.reset() }

// current returns the link without holding the lock across blocking I/O,
// so that Close can interrupt a pending read.
func (b *baseTransport) current() (link, time.Duration, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if !b.isOpen || b.link == nil {
		return nil, 0, newOpError("io", b.kind, b.endpoint, ErrNotConnected)
	}
	return b.link, b.timeout, nil
}

// Send writes data in full or fails
func (b *baseTransport) Send(ctx context.Context, data []byte) error {
	l, timeout, err := b.current()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := l.SetWriteDeadline(deadline(ctx, timeout)); err != nil {
		return b.fail("send", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = l.SetWriteDeadline(time.Now()) })
	defer stop()

	n, err := l.Write(data)
	if err == nil && n != len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return b.fail("send", err)
	}

	b.stats.recordSend(n)
	b.logger.Debug("Sent data", zap.Int("bytes", n))
	return nil
}

// Receive reads one chunk of at most maxBytes
func (b *baseTransport) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	l, timeout, err := b.current()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultReceiveSize
	}

	if err := l.SetReadDeadline(deadline(ctx, timeout)); err != nil {
		return nil, b.fail("receive", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = l.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, maxBytes)
	n, err := l.Read(buf)
	if n > 0 {
		b.stats.recordReceive(n)
		b.logger.Debug("Received data", zap.Int("bytes", n))
		return buf[:n], nil
	}
	if err == nil {
		// zero-length datagram
		b.stats.recordReceive(0)
		return buf[:0], nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}
	return nil, b.fail("receive", err)
}

// SendAndReceive measures from just before the send to just after the receive
func (b *baseTransport) SendAndReceive(ctx context.Context, data []byte, maxBytes int, measureLatency bool) ([]byte, time.Duration, error) {
	start := time.Now()

	if err := b.Send(ctx, data); err != nil {
		return nil, 0, err
	}
	resp, err := b.Receive(ctx, maxBytes)
	if err != nil {
		return nil, 0, err
	}

	latency := time.Since(start)
	b.stats.recordLatency(latency)
	if !measureLatency {
		return resp, 0, nil
	}
	return resp, latency, nil
}

// fail classifies err, counts it and logs it
func (b *baseTransport) fail(op string, err error) error {
	opErr := newOpError(op, b.kind, b.endpoint, err)

	switch Classify(err) {
	case ErrTimeout:
		b.stats.recordTimeout()
		b.logger.Debug("Transport timeout", zap.String("op", op), zap.Duration("timeout", b.Timeout()))
	case ErrClosed:
		b.stats.recordError()
		b.stats.setConnected(false)
		b.logger.Warn("Transport closed during operation", zap.String("op", op), zap.Error(err))
	default:
		b.stats.recordError()
		b.logger.Error("Transport operation failed", zap.String("op", op), zap.Error(err))
	}
	return opErr
}

// deadline is now+timeout, or the context deadline when that is earlier
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// statsRecorder guards Stats with a mutex
type statsRecorder struct {
	mu sync.Mutex
	s  Stats
}

func (r *statsRecorder) recordSend(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.PacketsSent++
	r.s.BytesSent += uint64(n)
	r.s.LastActivity = time.Now()
}

func (r *statsRecorder) recordReceive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.PacketsReceived++
	r.s.BytesReceived += uint64(n)
	r.s.LastActivity = time.Now()
}

// recordLatency keeps an exponential moving average (0.9 old, 0.1 new),
// seeded with the first sample.
func (r *statsRecorder) recordLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.AverageLatency == 0 {
		r.s.AverageLatency = d
		return
	}
	r.s.AverageLatency = time.Duration(0.9*float64(r.s.AverageLatency) + 0.1*float64(d))
}

func (r *statsRecorder) recordError() {
	r.mu.Lock()
	r.s.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) recordTimeout() {
	r.mu.Lock()
	r.s.Timeouts++
	r.mu.Unlock()
}

func (r *statsRecorder) setConnected(connected bool) {
	r.mu.Lock()
	r.s.IsConnected = connected
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

// reset clears the counters but keeps the connection flag
func (r *statsRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s = Stats{IsConnected: r.s.IsConnected}
}
