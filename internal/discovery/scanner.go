// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"dut-service/internal/model"
)

// Scanner finds endpoints a DUT link could be opened on
type Scanner interface {
	Scan(ctx context.Context) ([]*Endpoint, error)
	Type() string
	IsAvailable() bool
}

// Endpoint is one candidate link to a DUT
type Endpoint struct {
	Protocol model.ProtocolKind     `json:"protocol"`
	Address  string                 `json:"address"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Manager runs the registered scanners
type Manager struct {
	mutex    sync.RWMutex
	scanners map[string]Scanner
	logger   *zap.Logger
}

// NewManager creates a manager with no scanners
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		scanners: make(map[string]Scanner),
		logger:   logger.With(zap.String("component", "discovery")),
	}
}

// Register adds or replaces the scanner for its type
func (m *Manager) Register(scanner Scanner) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.scanners[scanner.Type()] = scanner
	m.logger.Debug("Scanner registered", zap.String("type", scanner.Type()))
}

// ScanAll runs every available scanner. A failing scanner is logged and skipped.
func (m *Manager) ScanAll(ctx context.Context) []*Endpoint {
	var all []*Endpoint
	for _, scannerType := range m.Available() {
		found, err := m.ScanByType(ctx, scannerType)
		if err != nil {
			m.logger.Warn("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}
		m.logger.Info("Scanner completed", zap.String("type", scannerType), zap.Int("found", len(found)))
		all = append(all, found...)
	}
	return all
}

// ScanByType runs one scanner
func (m *Manager) ScanByType(ctx context.Context, scannerType string) ([]*Endpoint, error) {
	m.mutex.RLock()
	scanner, ok := m.scanners[scannerType]
	m.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}
	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}
	return scanner.Scan(ctx)
}

// Available lists the usable scanner types in name order
func (m *Manager) Available() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var types []string
	for t, s := range m.scanners {
		if s.IsAvailable() {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}
