package adapters

import (
	"errors"
	"fmt"

	"github.com/labconnect/lcp-gateway/internal/models"
)

var (
	// ErrDeviceNotRegistered reports an operation on a device id this
	// adapter has no binding for.
	ErrDeviceNotRegistered = errors.New("device is not registered with this adapter")

	// ErrCapabilityNotSupported reports an operation the transport cannot
	// perform, such as a synchronous fetch on a push-only transport.
	ErrCapabilityNotSupported = errors.New("operation is not supported by this transport")

	// ErrDestinationMissing reports a command whose device binding lacks
	// the outbound destination (control topic, control path or socket).
	ErrDestinationMissing = errors.New("no command destination in connection details")

	// ErrNotConnected reports an operation attempted before the
	// transport-level connection was established.
	ErrNotConnected = errors.New("adapter is not connected")

	// ErrTimeout reports a read or dispatch that exceeded its bounded
	// per-transport deadline.
	ErrTimeout = errors.New("operation timed out")
)

// MissingDetailError names the connection-detail field a transport requires
// but the registration record did not supply.
type MissingDetailError struct {
	Transport models.TransportKind
	Field     string
}

func (e *MissingDetailError) Error() string {
	return fmt.Sprintf("%s registration requires connection detail %q", e.Transport, e.Field)
}

// DetailConflictError reports a connection-detail value another registered
// device already claims, such as two devices sharing one data topic.
type DetailConflictError struct {
	Transport models.TransportKind
	Field     string
	Value     string
	OwnerID   string
}

func (e *DetailConflictError) Error() string {
	return fmt.Sprintf("%s connection detail %s=%q is already registered to device %q",
		e.Transport, e.Field, e.Value, e.OwnerID)
}

// ConnectionError wraps a transport-level connectivity failure. The device
// registration is unaffected; the operation may succeed on a later attempt.
type ConnectionError struct {
	Transport models.TransportKind
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s transport connection failed: %v", e.Transport, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a command the transport rejected or failed to
// deliver. It names the device and command for the caller.
type CommandError struct {
	DeviceID string
	Command  string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q to device %q failed: %v", e.Command, e.DeviceID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
