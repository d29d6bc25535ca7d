package models

import "time"

// TransportKind identifies the transport family that owns a device.
type TransportKind string

const (
	// TransportBus is topic-addressed publish/subscribe messaging (MQTT).
	TransportBus TransportKind = "bus"

	// TransportStream is persistent bidirectional socket messaging (WebSocket).
	TransportStream TransportKind = "stream"

	// TransportPolledHTTP is request/response messaging read on a timer or on demand.
	TransportPolledHTTP TransportKind = "polled-http"
)

// Valid reports whether t is one of the supported transport kinds.
func (t TransportKind) Valid() bool {
	switch t {
	case TransportBus, TransportStream, TransportPolledHTTP:
		return true
	}
	return false
}

// DeviceStatus is the lifecycle state of a registered device.
type DeviceStatus string

const (
	StatusRegistered DeviceStatus = "registered"
	StatusOnline     DeviceStatus = "online"
	StatusOffline    DeviceStatus = "offline"
	StatusError      DeviceStatus = "error"

	// StatusArchived is terminal. An archived device keeps its historical
	// data points but its identity cannot be registered again without an
	// explicit reactivation.
	StatusArchived DeviceStatus = "archived"
)

// ConnectionDetails carries the transport-specific addressing for a device.
// The registry treats it as opaque; only the owning adapter reads the fields
// that its transport requires.
type ConnectionDetails struct {
	// Bus transport.
	DataTopic    string `json:"data_topic,omitempty"`    // Inbound topic the adapter subscribes to.
	ControlTopic string `json:"control_topic,omitempty"` // Outbound topic for command messages.

	// Stream transport.
	EndpointURL string `json:"endpoint_url,omitempty"` // WebSocket endpoint; devices sharing it share one socket.
	SubProtocol string `json:"sub_protocol,omitempty"`

	// Polled-HTTP transport.
	BaseURL           string `json:"base_url,omitempty"`
	DataPath          string `json:"data_path,omitempty"`
	ControlPath       string `json:"control_path,omitempty"`
	PollingIntervalMs int    `json:"polling_interval_ms,omitempty"` // 0 means pull-only, no background polling.
	AuthToken         string `json:"auth_token,omitempty"`
}

// DeviceMetadata is descriptive only and never drives routing.
type DeviceMetadata struct {
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// DeviceRecord is the canonical device registration shared by the registry,
// the adapters, and the directory.
type DeviceRecord struct {
	// DeviceID is the identity key for all routing. Assigned by the caller
	// or generated at registration time.
	DeviceID string `json:"device_id"`

	// Transport selects the owning adapter. Immutable for the lifetime of
	// the registration.
	Transport TransportKind `json:"protocol"`

	ConnectionDetails ConnectionDetails `json:"connection_details"`
	Metadata          DeviceMetadata    `json:"metadata"`

	Status   DeviceStatus `json:"status,omitempty"`
	LastSeen time.Time    `json:"last_seen,omitempty"`

	// Replace permits re-registering an existing device id under a different
	// transport. Without it such a registration is rejected.
	Replace bool `json:"replace,omitempty"`
}
