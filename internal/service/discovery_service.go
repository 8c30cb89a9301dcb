// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dut-service/internal/discovery"
	serialscan "dut-service/internal/discovery/serial"
	"dut-service/internal/discovery/tcp"
	"dut-service/internal/model"
	"dut-service/internal/utils"
)

// DefaultScanTimeout bounds a whole scan when the request names none
const DefaultScanTimeout = 10 * time.Second

// DiscoveryService finds local interfaces and endpoints a DUT link can use
type DiscoveryService struct {
	scannerManager *discovery.Manager
	logger         *utils.ServiceLogger
}

// ScanRequest selects the scanners to run. ScanType is "all" or a
// scanner type; Timeout is a duration string.
type ScanRequest struct {
	ScanType string
	Timeout  string
}

// NewDiscoveryService registers the nic, serial and tcp scanners. The
// tcp scanner probes the configured DUT and sweeps its subnet as opts
// direct.
func NewDiscoveryService(dutConfig model.DUTConfig, logger *zap.Logger, opts ...tcp.Option) *DiscoveryService {
	ds := &DiscoveryService{
		scannerManager: discovery.NewManager(logger),
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}

	ds.scannerManager.Register(discovery.NICScanner{})
	ds.scannerManager.Register(serialscan.NewScanner(logger, dutConfig.BaudRate))
	ds.scannerManager.Register(tcp.NewScanner(logger, dutConfig, opts...))

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", ds.scannerManager.Available()),
	)
	return ds
}

// Scanners lists the usable scanner types
func (ds *DiscoveryService) Scanners() []string {
	return ds.scannerManager.Available()
}

// ScanEndpoints runs the requested scanners
func (ds *DiscoveryService) ScanEndpoints(ctx context.Context, req *ScanRequest) ([]*discovery.Endpoint, error) {
	timeout := DefaultScanTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: timeout %q", ErrInvalidRequest, req.Timeout)
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ds.logger.Info("Starting endpoint scan", zap.String("type", req.ScanType))

	var (
		found []*discovery.Endpoint
		err   error
	)
	if req.ScanType == "" || req.ScanType == "all" {
		found = ds.scannerManager.ScanAll(ctx)
	} else {
		found, err = ds.scannerManager.ScanByType(ctx, req.ScanType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	ds.logger.Info("Endpoint scan completed",
		zap.Int("endpoints_found", len(found)),
		zap.String("scan_type", req.ScanType),
	)
	return found, nil
}

// Interfaces describes every local network interface
func (ds *DiscoveryService) Interfaces() ([]*discovery.InterfaceInfo, error) {
	names, err := discovery.ListInterfaces()
	if err != nil {
		return nil, err
	}

	infos := make([]*discovery.InterfaceInfo, 0, len(names))
	for _, name := range names {
		info, err := discovery.GetInterfaceInfo(name)
		if err != nil {
			ds.logger.Debug("Skipping interface", zap.String("name", name), zap.Error(err))
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Interface describes one interface by name
func (ds *DiscoveryService) Interface(name string) (*discovery.InterfaceInfo, error) {
	return discovery.GetInterfaceInfo(name)
}

// ProbePorts reports which TCP ports on host accept connections
func (ds *DiscoveryService) ProbePorts(ctx context.Context, host string, ports []int, timeout time.Duration) ([]tcp.PortResult, error) {
	if host == "" || len(ports) == 0 {
		return nil, fmt.Errorf("%w: host and ports are required", ErrInvalidRequest)
	}
	for _, p := range ports {
		if p <= 0 || p > 65535 {
			return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidRequest, p)
		}
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return tcp.ProbePorts(ctx, host, ports, timeout), nil
}
