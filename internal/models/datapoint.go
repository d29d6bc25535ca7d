package models

import "time"

// DataPoint is the canonical, transport-independent reading produced by an
// adapter from one inbound device message. Immutable once built.
type DataPoint struct {
	DeviceID  string        `json:"device_id"`
	Transport TransportKind `json:"protocol"` // Provenance, not routing.
	Timestamp time.Time     `json:"timestamp"`

	// Parameters is an open map of measurement name to value. The schema is
	// owned by the device, never interpreted by the gateway.
	Parameters map[string]interface{} `json:"parameters"`

	// ExperimentID correlates readings into a run. Nil when the device did
	// not report one.
	ExperimentID *string `json:"experiment_id"`
}
