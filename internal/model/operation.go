// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType is a long-running link test run against the DUT
type OperationType string

const (
	OperationTypeLatencyProbe OperationType = "LATENCY_PROBE"
	OperationTypeBurst        OperationType = "BURST"
	OperationTypeStress       OperationType = "STRESS"
)

// OperationStatus represents the status of an operation
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "PENDING"
	OperationStatusRunning   OperationStatus = "RUNNING"
	OperationStatusSuccess   OperationStatus = "SUCCESS"
	OperationStatusFailed    OperationStatus = "FAILED"
	OperationStatusTimeout   OperationStatus = "TIMEOUT"
	OperationStatusCancelled OperationStatus = "CANCELLED"
)

// Operation is one link test run. Operations live in memory only.
type Operation struct {
	ID            uuid.UUID              `json:"id"`
	SessionID     uuid.UUID              `json:"session_id"`
	OperationType OperationType          `json:"operation_type"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Status        OperationStatus        `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	DurationMs    *int64                 `json:"duration_ms,omitempty"`
	ErrorMessage  *string                `json:"error_message,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty"`
}

// IsCompleted checks if operation is completed (success or failed)
func (op *Operation) IsCompleted() bool {
	return op.Status == OperationStatusSuccess ||
		op.Status == OperationStatusFailed ||
		op.Status == OperationStatusTimeout ||
		op.Status == OperationStatusCancelled
}

// Complete stamps the end of the run
func (op *Operation) Complete(status OperationStatus, result map[string]interface{}, err error) {
	now := time.Now()
	ms := now.Sub(op.StartedAt).Milliseconds()
	op.Status = status
	op.CompletedAt = &now
	op.DurationMs = &ms
	op.Result = result
	if err != nil {
		msg := err.Error()
		op.ErrorMessage = &msg
	}
}

// LatencyProbeParams sends Count ping packets and records each round trip
type LatencyProbeParams struct {
	Command    byte   `json:"command"`
	PayloadHex string `json:"payload_hex"`
	Count      int    `json:"count"`
	IntervalMs int    `json:"interval_ms"`
}

// BurstParams sends Count packets back to back without waiting for replies
type BurstParams struct {
	Command    byte   `json:"command"`
	PayloadHex string `json:"payload_hex"`
	Count      int    `json:"count"`
	Checksum   bool   `json:"checksum"`
}

// StressParams floods the link with PacketSize byte packets for DurationMs
type StressParams struct {
	DurationMs int `json:"duration_ms"`
	PacketSize int `json:"packet_size"`
}

// OperationEventData reports a finished operation
type OperationEventData struct {
	OperationID   uuid.UUID       `json:"operation_id"`
	OperationType OperationType   `json:"operation_type"`
	Status        OperationStatus `json:"status"`
	DurationMs    int64           `json:"duration_ms"`
}

func (d OperationEventData) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"operation_id":   d.OperationID.String(),
		"operation_type": d.OperationType,
		"status":         d.Status,
		"duration_ms":    d.DurationMs,
	}
}
