package models

import "time"

// CommandEnvelope is the canonical outbound command. Created by the caller,
// consumed exactly once by the adapter owning the target device.
type CommandEnvelope struct {
	DeviceID   string                 `json:"device_id"`
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
	CommandID  string                 `json:"command_id"` // Correlates an eventual response.
}

// OutcomeStatus is the reported disposition of a dispatched command.
type OutcomeStatus string

const (
	OutcomeCompleted  OutcomeStatus = "completed"
	OutcomeError      OutcomeStatus = "error"
	OutcomeProcessing OutcomeStatus = "processing"
)

// CommandOutcome reports how a command dispatch ended. Push transports that
// only hand the message to the broker or socket report "processing"; the
// polled-HTTP transport sees the device's response and reports a final state.
type CommandOutcome struct {
	Status    OutcomeStatus `json:"status"`
	CommandID string        `json:"command_id"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
