package model

import (
	"encoding/json"
	"time"
)

// ActivityType classifies an activity event.
type ActivityType string

const (
	EventEngineStarted  ActivityType = "engine_started"
	EventEngineStopped  ActivityType = "engine_stopped"
	EventEmergencyStop  ActivityType = "emergency_stop"
	EventSignal         ActivityType = "signal_generated"
	EventOrderCreated   ActivityType = "order_created"
	EventOrderPlaced    ActivityType = "order_placed"
	EventOrderFilled    ActivityType = "order_filled"
	EventOrderRejected  ActivityType = "order_rejected"
	EventPositionOpened ActivityType = "position_opened"
	EventPositionClosed ActivityType = "position_closed"
	EventRiskBreach     ActivityType = "risk_breach"
	EventAutoExit       ActivityType = "auto_exit"
	EventSystem         ActivityType = "system"
)

// Event is one entry on the activity stream.
type Event struct {
	ID        string         `json:"id"`
	Type      ActivityType   `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// JSON returns the JSON-encoded event.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
