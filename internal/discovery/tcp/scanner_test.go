package tcp

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dut-service/internal/model"
)

func openPort(t *testing.T) int {
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
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestProbePorts(t *testing.T) {
	open := openPort(t)
	closed := closedPort(t)

	results := ProbePorts(context.Background(), "127.0.0.1", []int{closed, open}, time.Second)
	require.Len(t, results, 2)

	byPort := map[int]PortResult{}
	for _, r := range results {
		byPort[r.Port] = r
	}
	assert.True(t, byPort[open].Open)
	assert.Empty(t, byPort[open].Error)
	assert.False(t, byPort[closed].Open)
	assert.NotEmpty(t, byPort[closed].Error)

	assert.Less(t, results[0].Port, results[1].Port, "sorted by port")
}

func TestScannerReportsDataAndConsole(t *testing.T) {
	cfg := model.DefaultDUTConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = openPort(t)
	cfg.CLIPort = closedPort(t)
	cfg.Timeout = time.Second

	s := NewScanner(zap.NewNop(), cfg)
	assert.True(t, s.IsAvailable())

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, model.ProtocolTCP, found[0].Protocol)
	assert.Equal(t, "data", found[0].Details["role"])
}

func TestSweepHosts(t *testing.T) {
	hosts, err := SweepHosts("192.168.10.5", 29)
	require.NoError(t, err)

	var got []string
	for _, h := range hosts {
		got = append(got, h.String())
	}
	// network .0, broadcast .7 and the host itself are left out
	assert.Equal(t, []string{"192.168.10.1", "192.168.10.2", "192.168.10.3", "192.168.10.4", "192.168.10.6"}, got)

	hosts, err = SweepHosts("10.0.0.1", 24)
	require.NoError(t, err)
	assert.Len(t, hosts, 253)

	hosts, err = SweepHosts("10.0.0.1", 31)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.0", hosts[0].String())
}

func TestSweepHostsRejects(t *testing.T) {
	cases := map[string]struct {
		host   string
		prefix int
	}{
		"hostname":    {"dut.local", 24},
		"ipv6":        {"fe80::1", 24},
		"too wide":    {"10.0.0.1", 8},
		"past thirty": {"10.0.0.1", 33},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := SweepHosts(tc.host, tc.prefix)
			assert.Error(t, err)
		})
	}
}

func TestScannerSweepsSubnet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.2:0")
	if err != nil {
		t.Skipf("127.0.0.2 not routable here: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	cfg := model.DefaultDUTConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.CLIPort = 0
	cfg.Timeout = time.Second

	s := NewScanner(zap.NewNop(), cfg, WithSweepPrefix(30), WithSweepTimeout(time.Second))
	found, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, net.JoinHostPort("127.0.0.2", strconv.Itoa(cfg.Port)), found[0].Address)
	assert.Equal(t, "sweep", found[0].Details["source"])
	assert.Equal(t, "data", found[0].Details["role"])
}

func TestScannerSweepDisabled(t *testing.T) {
	cfg := model.DefaultDUTConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = openPort(t)
	cfg.CLIPort = 0
	cfg.Timeout = time.Second

	found, err := NewScanner(zap.NewNop(), cfg, WithSweepPrefix(0)).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "configured", found[0].Details["source"])
}
