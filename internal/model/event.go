// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDUTConnected    EventType = "DUT_CONNECTED"
	EventDUTDisconnected EventType = "DUT_DISCONNECTED"
	EventDUTError        EventType = "DUT_ERROR"
	EventCLIReady        EventType = "CLI_READY"
	EventCLICommand      EventType = "CLI_COMMAND"
	EventPacketExchanged EventType = "PACKET_EXCHANGED"
	EventHealthUpdate    EventType = "HEALTH_UPDATE"
	EventStatusChange    EventType = "STATUS_CHANGE"
	EventOperationDone   EventType = "OPERATION_COMPLETED"
)

// Severity levels
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// DUTEvent is published on the event bus and streamed to websocket clients
type DUTEvent struct {
	ID        uuid.UUID              `json:"id"`
	EventType EventType              `json:"event_type"`
	SessionID uuid.UUID              `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Severity  string                 `json:"severity"`
}

// NewDUTEvent stamps a new event with an ID and the current time
func NewDUTEvent(eventType EventType, sessionID uuid.UUID, severity string, data map[string]interface{}) *DUTEvent {
	return &DUTEvent{
		ID:        uuid.New(),
		EventType: eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now(),
		Source:    "dut-service",
		Severity:  severity,
	}
}

// ErrorEventData describes a failed DUT operation
type ErrorEventData struct {
	Operation    string    `json:"operation"`
	ErrorMessage string    `json:"error_message"`
	ErrorTime    time.Time `json:"error_time"`
	Recoverable  bool      `json:"recoverable"`
}

// HealthUpdateEventData reports the result of one health probe
type HealthUpdateEventData struct {
	Healthy      bool    `json:"healthy"`
	ResponseTime float64 `json:"response_time_ms"`
	Consecutive  int     `json:"consecutive_failures"`
}

// ToMap converts event data to the generic payload carried by DUTEvent
func (d ErrorEventData) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"operation":     d.Operation,
		"error_message": d.ErrorMessage,
		"error_time":    d.ErrorTime,
		"recoverable":   d.Recoverable,
	}
}

func (d HealthUpdateEventData) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"healthy":              d.Healthy,
		"response_time_ms":     d.ResponseTime,
		"consecutive_failures": d.Consecutive,
	}
}
