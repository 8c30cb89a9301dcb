// internal/discovery/tcp/scanner.go
package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"dut-service/internal/discovery"
	"dut-service/internal/model"
)

const (
	// DefaultConcurrency caps simultaneous port dials
	DefaultConcurrency = 16
	// DefaultSweepPrefix is the subnet swept around the configured host
	DefaultSweepPrefix = 24
	// MinSweepPrefix keeps a sweep to at most 65534 hosts
	MinSweepPrefix = 16

	sweepConcurrency = 64
	sweepTimeout     = 300 * time.Millisecond
)

// PortResult is the outcome of one TCP probe
type PortResult struct {
	Host    string        `json:"host,omitempty"`
	Port    int           `json:"port"`
	Open    bool          `json:"open"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// ProbePorts dials host on each port in parallel and reports which
// accept a connection. Results are sorted by port.
func ProbePorts(ctx context.Context, host string, ports []int, timeout time.Duration) []PortResult {
	results := make([]PortResult, len(ports))
	bounded(len(ports), DefaultConcurrency, func(i int) {
		results[i] = probe(ctx, host, ports[i], timeout)
	})

	sort.Slice(results, func(a, b int) bool { return results[a].Port < results[b].Port })
	return results
}

// bounded runs fn(0..n-1) with at most limit calls in flight
func bounded(n, limit int, fn func(i int)) {
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// SweepHosts lists the host addresses of host's IPv4 subnet of the given
// prefix length, excluding host itself and, below /31, the network and
// broadcast addresses.
func SweepHosts(host string, prefix int) ([]net.IP, error) {
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, fmt.Errorf("sweep needs an IPv4 address, got %q", host)
	}
	if prefix < MinSweepPrefix || prefix > 32 {
		return nil, fmt.Errorf("sweep prefix must be %d..32, got %d", MinSweepPrefix, prefix)
	}

	self := binary.BigEndian.Uint32(ip)
	mask := ^uint32(0) << (32 - prefix)
	first, last := self&mask, self|^mask
	if prefix < 31 {
		first++
		last--
	}

	var hosts []net.IP
	for a := first; a <= last && a >= first; a++ {
		if a == self {
			continue
		}
		addr := make(net.IP, 4)
		binary.BigEndian.PutUint32(addr, a)
		hosts = append(hosts, addr)
	}
	return hosts, nil
}

// Sweep dials port on every host and returns the ones that accept,
// in host order.
func Sweep(ctx context.Context, hosts []net.IP, port int, timeout time.Duration) []PortResult {
	results := make([]PortResult, len(hosts))
	bounded(len(hosts), sweepConcurrency, func(i int) {
		if ctx.Err() != nil {
			return
		}
		results[i] = probe(ctx, hosts[i].String(), port, timeout)
	})

	var found []PortResult
	for _, r := range results {
		if r.Open {
			found = append(found, r)
		}
	}
	return found
}

func probe(ctx context.Context, host string, port int, timeout time.Duration) PortResult {
	res := PortResult{Host: host, Port: port}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Latency = time.Since(start)
	res.Open = true
	conn.Close()
	return res
}

// Scanner checks whether the configured DUT answers on its data and
// console ports, then sweeps the surrounding subnet for other hosts
// answering on the data port.
type Scanner struct {
	logger       *zap.Logger
	config       model.DUTConfig
	timeout      time.Duration
	sweepPrefix  int
	sweepTimeout time.Duration
}

// Option configures a Scanner
type Option func(*Scanner)

// WithSweepPrefix sets the swept subnet size. 0 disables the sweep.
func WithSweepPrefix(prefix int) Option {
	return func(s *Scanner) { s.sweepPrefix = prefix }
}

// WithSweepTimeout sets the per-host dial timeout of the sweep. Zero
// keeps the default.
func WithSweepTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.sweepTimeout = d
		}
	}
}

// NewScanner creates a scanner for config's host
func NewScanner(logger *zap.Logger, config model.DUTConfig, opts ...Option) *Scanner {
	s := &Scanner{
		logger:       logger.With(zap.String("scanner", "tcp")),
		config:       config,
		timeout:      config.Timeout,
		sweepPrefix:  DefaultSweepPrefix,
		sweepTimeout: sweepTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Type() string { return "tcp" }

func (s *Scanner) IsAvailable() bool {
	return s.config.Host != ""
}

func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Endpoint, error) {
	ports := []int{s.config.Port}
	if s.config.CLIPort > 0 && s.config.CLIPort != s.config.Port {
		ports = append(ports, s.config.CLIPort)
	}

	s.logger.Info("Probing DUT ports", zap.String("host", s.config.Host), zap.Ints("ports", ports))

	var found []*discovery.Endpoint
	for _, r := range ProbePorts(ctx, s.config.Host, ports, s.timeout) {
		if !r.Open {
			continue
		}
		role := "data"
		if r.Port == s.config.CLIPort {
			role = "cli"
		}
		found = append(found, endpoint(r, role, "configured"))
	}

	if s.sweepPrefix == 0 || ctx.Err() != nil {
		return found, nil
	}
	hosts, err := SweepHosts(s.config.Host, s.sweepPrefix)
	if err != nil {
		s.logger.Debug("Skipping subnet sweep", zap.Error(err))
		return found, nil
	}

	s.logger.Info("Sweeping subnet",
		zap.String("host", s.config.Host),
		zap.Int("prefix", s.sweepPrefix),
		zap.Int("hosts", len(hosts)),
		zap.Int("port", s.config.Port),
	)
	for _, r := range Sweep(ctx, hosts, s.config.Port, s.sweepTimeout) {
		found = append(found, endpoint(r, "data", "sweep"))
	}
	return found, nil
}

func endpoint(r PortResult, role, source string) *discovery.Endpoint {
	return &discovery.Endpoint{
		Protocol: model.ProtocolTCP,
		Address:  net.JoinHostPort(r.Host, strconv.Itoa(r.Port)),
		Details: map[string]interface{}{
			"role":       role,
			"source":     source,
			"latency_ms": float64(r.Latency) / float64(time.Millisecond),
		},
	}
}
