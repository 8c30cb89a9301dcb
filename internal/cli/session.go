// internal/cli/session.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziutek/telnet"
	"go.uber.org/zap"

	"dut-service/internal/model"
	"dut-service/internal/protocol"
)

var (
	// ErrAuthenticationFailed means the login exchange did not end at a prompt.
	// The session is closed and must be reconnected.
	ErrAuthenticationFailed = errors.New("cli authentication failed")
	// ErrNotReady is returned for commands issued before the session reached Ready.
	ErrNotReady = errors.New("cli session not ready")
)

const (
	// DefaultBannerDelay is how long Connect waits before reading the banner
	DefaultBannerDelay = 500 * time.Millisecond
	// DefaultPromptWait caps how long one command may take to reach the prompt
	DefaultPromptWait = 5 * time.Second
	// DefaultAuthTimeout bounds each read of the login exchange
	DefaultAuthTimeout = 2 * time.Second

	readChunkSize = 1024
)

// Option customises a Session
type Option func(*Session)

// WithDialer replaces the TCP dialer used to reach the console port
func WithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(s *Session) { s.dial = dial }
}

// WithBannerDelay overrides DefaultBannerDelay
func WithBannerDelay(d time.Duration) Option {
	return func(s *Session) { s.bannerDelay = d }
}

// WithPromptWait overrides DefaultPromptWait
func WithPromptWait(d time.Duration) Option {
	return func(s *Session) { s.promptWait = d }
}

// WithAuthTimeout overrides DefaultAuthTimeout
func WithAuthTimeout(d time.Duration) Option {
	return func(s *Session) { s.authTimeout = d }
}

// Session is a Telnet console on the DUT. Commands are serialised; one
// command is sent and its output read up to the prompt before the next
// one starts.
type Session struct {
	config model.DUTConfig
	logger *zap.Logger
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	bannerDelay time.Duration
	promptWait  time.Duration
	authTimeout time.Duration

	// mutex is held for a whole login or command. state is written under
	// it but read without it, so State never waits on the console.
	mutex sync.Mutex
	conn  *telnet.Conn
	state atomic.Value
}

// NewSession creates a disconnected console session
func NewSession(config model.DUTConfig, logger *zap.Logger, opts ...Option) *Session {
	s := &Session{
		config:      config,
		logger:      logger.With(zap.String("component", "cli"), zap.String("endpoint", config.CLIAddress())),
		bannerDelay: DefaultBannerDelay,
		promptWait:  DefaultPromptWait,
		authTimeout: DefaultAuthTimeout,
	}
	s.state.Store(model.CLIDisconnected)
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		dialer := &net.Dialer{}
		s.dial = dialer.DialContext
	}
	return s
}

// State returns the current session state
func (s *Session) State() model.CLISessionState {
	return s.state.Load().(model.CLISessionState)
}

// IsReady reports whether commands can be executed
func (s *Session) IsReady() bool {
	return s.State() == model.CLIReady
}

// Connect opens the console, consumes the banner and logs in when a
// username is configured. Connecting a ready session is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State() == model.CLIReady {
		return nil
	}
	s.closeLocked()

	addr := s.config.CLIAddress()
	s.logger.Info("Connecting to DUT console")

	dialCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	raw, err := s.dial(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		s.logger.Error("Console connection failed", zap.Error(err))
		return &protocol.ConnectError{Protocol: model.ProtocolTCP, Addr: addr, Attempts: 1, Err: err}
	}

	conn, err := telnet.NewConn(raw)
	if err != nil {
		raw.Close()
		return &protocol.ConnectError{Protocol: model.ProtocolTCP, Addr: addr, Attempts: 1, Err: err}
	}
	conn.SetUnixWriteMode(true)
	s.conn = conn
	s.state.Store(model.CLIAwaitingBanner)

	if err := sleepContext(ctx, s.bannerDelay); err != nil {
		s.closeLocked()
		return err
	}

	banner, err := s.readUntil(ctx, s.config.Timeout, s.promptWait, func(out string) bool {
		return s.atPrompt(out) || (s.config.HasCLICredentials() && (isLoginPrompt(out) || isPasswordPrompt(out)))
	})
	if err != nil {
		s.closeLocked()
		return translate("banner", err)
	}

	if s.config.HasCLICredentials() {
		s.state.Store(model.CLIAuthenticating)
		if err := s.authenticate(ctx, banner); err != nil {
			s.closeLocked()
			s.logger.Error("Console login failed", zap.String("username", s.config.CLIUsername), zap.Error(err))
			return err
		}
	}

	s.state.Store(model.CLIReady)
	s.logger.Info("Console ready")
	return nil
}

// authenticate answers the username and password prompts. banner is
// whatever Connect already read, which may hold the first prompt.
func (s *Session) authenticate(ctx context.Context, banner string) error {
	chunk := banner
	if !isLoginPrompt(chunk) && !isPasswordPrompt(chunk) {
		var err error
		if chunk, err = s.readUntil(ctx, s.authTimeout, s.authTimeout, isLoginPrompt); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, translate("login", err))
		}
	}

	if isLoginPrompt(chunk) {
		if err := s.writeLine(s.config.CLIUsername); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		var err error
		if chunk, err = s.readUntil(ctx, s.authTimeout, s.authTimeout, isPasswordPrompt); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, translate("login", err))
		}
	}

	if isPasswordPrompt(chunk) {
		if err := s.writeLine(s.config.CLIPassword); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
	}

	resp, err := s.readUntil(ctx, s.authTimeout, s.authTimeout, s.atPrompt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, translate("login", err))
	}
	if !s.atPrompt(resp) {
		return ErrAuthenticationFailed
	}
	return nil
}

// ExecuteCommand sends one command and returns its output with the echo
// and the trailing prompt removed. A positive timeout replaces the read
// timeout for this command only. Commands are never retried.
func (s *Session) ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State() != model.CLIReady || s.conn == nil {
		return "", ErrNotReady
	}

	readTimeout := s.config.Timeout
	if timeout > 0 {
		readTimeout = timeout
	}

	s.logger.Debug("Executing CLI command", zap.String("command", command))
	if err := s.writeLine(command); err != nil {
		s.dropIfClosed(err)
		return "", err
	}

	raw, err := s.readUntil(ctx, readTimeout, s.promptWait, s.atPrompt)
	if err != nil {
		err = translate("read", err)
		s.dropIfClosed(err)
		return "", err
	}

	output := CleanOutput(raw, command, s.config.Prompt())
	s.logger.Debug("CLI command completed", zap.String("command", command), zap.Int("output_len", len(output)))
	return output, nil
}

// ExecuteCommands runs commands in order. A failed command yields an
// empty string and the rest still run.
func (s *Session) ExecuteCommands(ctx context.Context, commands []string) []string {
	results := make([]string, len(commands))
	for i, cmd := range commands {
		out, err := s.ExecuteCommand(ctx, cmd, 0)
		if err != nil {
			s.logger.Warn("CLI command failed", zap.String("command", cmd), zap.Error(err))
			continue
		}
		results[i] = out
	}
	return results
}

// Close closes the console. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		s.state.Store(model.CLIDisconnected)
		return nil
	}
	s.closeLocked()
	s.logger.Info("Console closed")
	return nil
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state.Store(model.CLIDisconnected)
}

func (s *Session) dropIfClosed(err error) {
	if protocol.IsClosed(err) {
		s.logger.Warn("Console closed by peer")
		s.closeLocked()
	}
}

func (s *Session) writeLine(line string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.Timeout)); err != nil {
		return translate("write", err)
	}
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		return translate("write", err)
	}
	return nil
}

// readUntil collects console output until done reports true, the total
// wait exceeds ceiling, or a single read sees nothing for perRead.
// Running out of time is not an error; the output so far is returned.
func (s *Session) readUntil(ctx context.Context, perRead, ceiling time.Duration, done func(string) bool) (string, error) {
	conn := s.conn
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	var out strings.Builder
	buf := make([]byte, readChunkSize)
	end := time.Now().Add(ceiling)

	for time.Now().Before(end) {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}

		dl := time.Now().Add(perRead)
		if dl.After(end) {
			dl = end
		}
		if err := conn.SetReadDeadline(dl); err != nil {
			return out.String(), err
		}

		n, err := conn.Read(buf)
		out.Write(buf[:n])
		if done(out.String()) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out.String(), ctxErr
			}
			if protocol.IsTimeout(protocol.Classify(err)) {
				break
			}
			return out.String(), err
		}
	}
	return strings.ToValidUTF8(out.String(), ""), nil
}

func (s *Session) atPrompt(out string) bool {
	if strings.Contains(out, s.config.Prompt()) {
		return true
	}
	trimmed := strings.TrimSpace(out)
	return strings.HasSuffix(trimmed, ">") || strings.HasSuffix(trimmed, "#")
}

func isLoginPrompt(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "username") || strings.Contains(lower, "login")
}

func isPasswordPrompt(out string) bool {
	return strings.Contains(strings.ToLower(out), "password")
}

// translate maps console I/O errors onto the transport taxonomy
func translate(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if kind := protocol.Classify(err); kind != nil && !errors.Is(err, kind) {
		return fmt.Errorf("cli %s: %w: %w", op, kind, err)
	}
	return fmt.Errorf("cli %s: %w", op, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
