package adapters

import (
	"context"

	"github.com/labconnect/lcp-gateway/internal/models"
)

// DataHandler receives every canonical DataPoint an adapter produces from an
// inbound device message. Adapters invoke it exactly once per translated
// message; translation failures are dropped inside the adapter and never
// reach the handler.
type DataHandler func(point models.DataPoint)

// TransportAdapter is the uniform contract every transport family implements.
// The registry is the only caller; it selects the adapter once at
// registration time and stores the binding in its routing table.
type TransportAdapter interface {
	// Kind reports the transport family this adapter owns.
	Kind() models.TransportKind

	// Connect establishes the transport-level connection. Idempotent:
	// connecting while already connected is a no-op. A failure is returned
	// but must not terminate the process; the registry decides severity.
	Connect(ctx context.Context) error

	// RegisterDevice binds a device identity into the adapter's internal
	// routing. Fails with a *MissingDetailError when ConnectionDetails
	// lacks a field this transport requires.
	RegisterDevice(ctx context.Context, record models.DeviceRecord) error

	// SendCommand serializes the envelope into the transport's native
	// command message and transmits it to the device-specific destination.
	SendCommand(ctx context.Context, envelope models.CommandEnvelope) (models.CommandOutcome, error)

	// FetchData performs one synchronous read and returns exactly one
	// DataPoint. Push-only transports return ErrCapabilityNotSupported.
	FetchData(ctx context.Context, deviceID string) (models.DataPoint, error)

	// DisconnectDevice tears down one device's binding. Best effort.
	DisconnectDevice(deviceID string) error

	// Disconnect tears down all bindings and the underlying transport
	// connection. Best effort, always completes.
	Disconnect() error
}
