// internal/metrics/collector.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dut-service/internal/protocol"
)

// Collector holds the DUT link metrics on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	connectAttempts *prometheus.CounterVec
	packets         *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	exchangeLatency prometheus.Histogram
	cliCommands     *prometheus.CounterVec
	cliDuration     prometheus.Histogram
	connected       prometheus.Gauge
	cliReady        prometheus.Gauge
}

// NewCollector creates and registers all metrics under namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_total",
			Help:      "Data link connect calls by result.",
		}, []string{"result"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets exchanged with the DUT by direction.",
		}, []string{"direction"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes exchanged with the DUT by direction.",
		}, []string{"direction"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Failed data link operations by error class.",
		}, []string{"kind"}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_latency_seconds",
			Help:      "Round trip time of send-and-receive exchanges.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		cliCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cli_commands_total",
			Help:      "Console commands by result.",
		}, []string{"result"}),
		cliDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cli_command_duration_seconds",
			Help:      "Time from sending a console command to reading its prompt.",
			Buckets:   prometheus.DefBuckets,
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the data link is open.",
		}),
		cliReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cli_ready",
			Help:      "1 while the console session is ready.",
		}),
	}

	c.registry.MustRegister(
		c.connectAttempts,
		c.packets,
		c.bytes,
		c.transportErrors,
		c.exchangeLatency,
		c.cliCommands,
		c.cliDuration,
		c.connected,
		c.cliReady,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveConnect(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.connectAttempts.WithLabelValues("failure").Inc()
		return
	}
	c.connectAttempts.WithLabelValues("success").Inc()
	c.connected.Set(1)
}

func (c *Collector) ObserveDisconnect() {
	if c == nil {
		return
	}
	c.connected.Set(0)
	c.cliReady.Set(0)
}

// ObserveSend counts one outbound packet
func (c *Collector) ObserveSend(n int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ObserveError(err)
		return
	}
	c.packets.WithLabelValues("sent").Inc()
	c.bytes.WithLabelValues("sent").Add(float64(n))
}

// ObserveReceive counts one inbound packet
func (c *Collector) ObserveReceive(n int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ObserveError(err)
		return
	}
	c.packets.WithLabelValues("received").Inc()
	c.bytes.WithLabelValues("received").Add(float64(n))
}

// ObserveExchange records a completed round trip
func (c *Collector) ObserveExchange(sent, received int, latency time.Duration) {
	if c == nil {
		return
	}
	c.ObserveSend(sent, nil)
	c.ObserveReceive(received, nil)
	c.exchangeLatency.Observe(latency.Seconds())
}

// ObserveError counts a failed operation under its error class
func (c *Collector) ObserveError(err error) {
	if c == nil || err == nil {
		return
	}
	c.transportErrors.WithLabelValues(ErrorKind(err)).Inc()
}

func (c *Collector) ObserveCommand(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.cliCommands.WithLabelValues(result).Inc()
	c.cliDuration.Observe(d.Seconds())
}

func (c *Collector) SetCLIReady(ready bool) {
	if c == nil {
		return
	}
	if ready {
		c.cliReady.Set(1)
		return
	}
	c.cliReady.Set(0)
}

// ErrorKind returns the label used for err in transport_errors_total
func ErrorKind(err error) string {
	switch protocol.Classify(err) {
	case protocol.ErrTimeout:
		return "timeout"
	case protocol.ErrClosed:
		return "closed"
	case protocol.ErrPermissionDenied:
		return "permission"
	case protocol.ErrNotConnected:
		return "not_connected"
	default:
		return "other"
	}
}
