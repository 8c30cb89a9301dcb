// internal/service/operation_service.go
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dut-service/internal/dut"
	"dut-service/internal/model"
	"dut-service/internal/protocol"
	"dut-service/internal/utils"
	"dut-service/pkg/packet"
)

const (
	// MaxOperationDuration caps any single run
	MaxOperationDuration = 10 * time.Minute
	// DefaultOperationHistory is how many finished operations are kept
	DefaultOperationHistory = 100

	maxProbeCount = 10000
	maxBurstCount = 100000
)

// ErrOperationNotFound is returned for an unknown or evicted operation id
var ErrOperationNotFound = errors.New("operation not found")

// OperationRequest starts a link test. Exactly one of the parameter
// blocks matching OperationType is used.
type OperationRequest struct {
	OperationType model.OperationType
	Latency       model.LatencyProbeParams
	Burst         model.BurstParams
	Stress        model.StressParams
}

// OperationService runs latency probes, bursts and stress runs against
// the DUT in the background and keeps a short in-memory history.
type OperationService struct {
	conn      *dut.Connection
	publisher Publisher
	logger    *utils.ServiceLogger
	history   int

	mutex      sync.RWMutex
	operations map[uuid.UUID]*model.Operation
	cancels    map[uuid.UUID]context.CancelFunc
	order      []uuid.UUID
	wg         sync.WaitGroup
}

// NewOperationService creates an operation service for the connection
// owned by dutService.
func NewOperationService(dutService *DUTService, publisher Publisher, logger *zap.Logger) *OperationService {
	return &OperationService{
		conn:       dutService.Connection(),
		publisher:  publisher,
		logger:     utils.NewServiceLogger(logger, "operation-service"),
		history:    DefaultOperationHistory,
		operations: make(map[uuid.UUID]*model.Operation),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// ExecuteOperation validates req and starts it. The returned snapshot is
// RUNNING; poll GetOperation for the outcome.
func (os *OperationService) ExecuteOperation(req *OperationRequest) (*model.Operation, error) {
	run, params, err := os.prepare(req)
	if err != nil {
		return nil, err
	}
	if !os.conn.IsConnected() {
		return nil, fmt.Errorf("start %s: %w", req.OperationType, protocol.ErrNotConnected)
	}

	operation := &model.Operation{
		ID:            uuid.New(),
		SessionID:     os.conn.SessionID(),
		OperationType: req.OperationType,
		Parameters:    params,
		Status:        model.OperationStatusRunning,
		StartedAt:     time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), MaxOperationDuration)

	os.mutex.Lock()
	os.operations[operation.ID] = operation
	os.cancels[operation.ID] = cancel
	os.order = append(os.order, operation.ID)
	os.evictLocked()
	snapshot := *operation
	os.mutex.Unlock()

	os.wg.Add(1)
	go os.run(ctx, operation, run)

	return &snapshot, nil
}

type runFunc func(ctx context.Context) (map[string]interface{}, error)

func (os *OperationService) run(ctx context.Context, operation *model.Operation, fn runFunc) {
	defer os.wg.Done()

	opLogger := utils.NewOperationLogger(os.logger.Logger, string(operation.OperationType), operation.ID.String())
	opLogger.Start(zap.Any("parameters", operation.Parameters))

	result, err := fn(ctx)

	status := model.OperationStatusSuccess
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		status = model.OperationStatusCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = model.OperationStatusTimeout
	case err != nil:
		status = model.OperationStatusFailed
	}

	os.mutex.Lock()
	if cancel, ok := os.cancels[operation.ID]; ok {
		cancel()
		delete(os.cancels, operation.ID)
	}
	operation.Complete(status, result, err)
	data := model.OperationEventData{
		OperationID:   operation.ID,
		OperationType: operation.OperationType,
		Status:        status,
		DurationMs:    *operation.DurationMs,
	}
	os.mutex.Unlock()

	if err != nil {
		opLogger.Error(err, zap.String("status", string(status)))
	} else {
		opLogger.Success(zap.String("status", string(status)), zap.Any("result", result))
	}

	severity := model.SeverityInfo
	if status != model.OperationStatusSuccess {
		severity = model.SeverityWarning
	}
	if os.publisher != nil {
		os.publisher.Publish(model.NewDUTEvent(model.EventOperationDone, operation.SessionID, severity, data.ToMap()))
	}
}

// GetOperation returns a snapshot of one operation
func (os *OperationService) GetOperation(id uuid.UUID) (*model.Operation, error) {
	os.mutex.RLock()
	defer os.mutex.RUnlock()

	operation, ok := os.operations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	snapshot := *operation
	return &snapshot, nil
}

// ListOperations returns snapshots, newest first
func (os *OperationService) ListOperations() []*model.Operation {
	os.mutex.RLock()
	defer os.mutex.RUnlock()

	list := make([]*model.Operation, 0, len(os.operations))
	for _, operation := range os.operations {
		snapshot := *operation
		list = append(list, &snapshot)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	return list
}

// CancelOperation stops a running operation. Cancelling a finished one
// is a no-op.
func (os *OperationService) CancelOperation(id uuid.UUID) error {
	os.mutex.RLock()
	_, known := os.operations[id]
	cancel, running := os.cancels[id]
	os.mutex.RUnlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	if running {
		os.logger.Info("Cancelling operation", zap.String("operation_id", id.String()))
		cancel()
	}
	return nil
}

// Stop cancels every running operation and waits for them to finish
func (os *OperationService) Stop() {
	os.mutex.RLock()
	for _, cancel := range os.cancels {
		cancel()
	}
	os.mutex.RUnlock()
	os.wg.Wait()
}

// evictLocked drops the oldest finished operations beyond the history limit
func (os *OperationService) evictLocked() {
	for len(os.order) > os.history {
		evicted := false
		for i, id := range os.order {
			if os.operations[id].IsCompleted() {
				delete(os.operations, id)
				os.order = append(os.order[:i], os.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func (os *OperationService) prepare(req *OperationRequest) (runFunc, map[string]interface{}, error) {
	switch req.OperationType {
	case model.OperationTypeLatencyProbe:
		p := req.Latency
		if p.Count <= 0 || p.Count > maxProbeCount {
			return nil, nil, fmt.Errorf("%w: count must be 1..%d", ErrInvalidRequest, maxProbeCount)
		}
		payload, err := decodePayload(p.PayloadHex)
		if err != nil {
			return nil, nil, err
		}
		frame, err := packet.Encode(p.Command, payload, 0, true)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		params := map[string]interface{}{"command": p.Command, "payload_hex": p.PayloadHex, "count": p.Count, "interval_ms": p.IntervalMs}
		return func(ctx context.Context) (map[string]interface{}, error) {
			return os.latencyProbe(ctx, frame, p.Count, time.Duration(p.IntervalMs)*time.Millisecond)
		}, params, nil

	case model.OperationTypeBurst:
		p := req.Burst
		if p.Count <= 0 || p.Count > maxBurstCount {
			return nil, nil, fmt.Errorf("%w: count must be 1..%d", ErrInvalidRequest, maxBurstCount)
		}
		payload, err := decodePayload(p.PayloadHex)
		if err != nil {
			return nil, nil, err
		}
		frames := make([][]byte, p.Count)
		for i := range frames {
			frames[i], err = packet.Encode(p.Command, payload, uint16(i), p.Checksum)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
		}
		params := map[string]interface{}{"command": p.Command, "payload_hex": p.PayloadHex, "count": p.Count, "checksum": p.Checksum}
		return func(ctx context.Context) (map[string]interface{}, error) {
			start := time.Now()
			sent := os.conn.BurstSend(ctx, frames)
			result := map[string]interface{}{
				"requested":   len(frames),
				"sent":        sent,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if sent < len(frames) {
				return result, fmt.Errorf("burst sent %d of %d packets", sent, len(frames))
			}
			return result, nil
		}, params, nil

	case model.OperationTypeStress:
		p := req.Stress
		d := time.Duration(p.DurationMs) * time.Millisecond
		if d <= 0 || d > MaxOperationDuration {
			return nil, nil, fmt.Errorf("%w: duration_ms must be 1..%d", ErrInvalidRequest, MaxOperationDuration.Milliseconds())
		}
		if p.PacketSize <= 0 || p.PacketSize > packet.MaxPayloadSize {
			return nil, nil, fmt.Errorf("%w: packet_size must be 1..%d", ErrInvalidRequest, packet.MaxPayloadSize)
		}
		params := map[string]interface{}{"duration_ms": p.DurationMs, "packet_size": p.PacketSize}
		return func(ctx context.Context) (map[string]interface{}, error) {
			res := os.conn.StressTest(ctx, d, p.PacketSize)
			result := map[string]interface{}{
				"packets_sent":    res.PacketsSent,
				"bytes_sent":      res.BytesSent,
				"errors":          res.Errors,
				"duration_ms":     res.Duration.Milliseconds(),
				"throughput_mbps": res.ThroughputMbps,
			}
			if res.PacketsSent == 0 && res.Errors > 0 {
				return result, errors.New("stress run sent no packets")
			}
			return result, nil
		}, params, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown operation type %q", ErrInvalidRequest, req.OperationType)
	}
}

func (os *OperationService) latencyProbe(ctx context.Context, frame []byte, count int, interval time.Duration) (map[string]interface{}, error) {
	var (
		samples  []float64
		failures int
		lastErr  error
	)
	for i := 0; i < count; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
		rtt, err := os.conn.MeasureLatency(ctx, frame)
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		samples = append(samples, float64(rtt)/float64(time.Millisecond))
	}

	result := map[string]interface{}{
		"sent":       len(samples) + failures,
		"received":   len(samples),
		"failures":   failures,
		"samples_ms": samples,
	}
	if len(samples) > 0 {
		lo, hi, sum := samples[0], samples[0], 0.0
		for _, s := range samples {
			lo, hi = min(lo, s), max(hi, s)
			sum += s
		}
		result["min_ms"], result["max_ms"], result["avg_ms"] = lo, hi, sum/float64(len(samples))
	}
	if len(samples) == 0 && lastErr != nil {
		return result, lastErr
	}
	return result, nil
}

func decodePayload(s string) ([]byte, error) {
	payload, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: payload_hex: %w", ErrInvalidRequest, err)
	}
	return payload, nil
}
