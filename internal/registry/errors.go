package registry

import (
	"errors"
	"fmt"

	"github.com/labconnect/lcp-gateway/internal/models"
)

var (
	// ErrDeviceNotFound reports a device id absent from the routing table.
	ErrDeviceNotFound = errors.New("device not found in routing table")

	// ErrDeviceArchived reports a registration attempt against an archived
	// identity. Reactivation is the only path back.
	ErrDeviceArchived = errors.New("device id is archived; reactivate it before re-registering")

	// ErrDeviceNotArchived reports a reactivation of an id that was never
	// archived.
	ErrDeviceNotArchived = errors.New("device id is not archived")
)

// ValidationError reports a malformed registration or command shape. The
// caller's fault; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnsupportedTransportError names the transport kind no adapter is bound to.
type UnsupportedTransportError struct {
	Transport models.TransportKind
}

func (e *UnsupportedTransportError) Error() string {
	return fmt.Sprintf("no adapter bound for transport %q", e.Transport)
}

// TransportConflictError reports a re-registration that would move a device
// to a different transport without the explicit replace flag.
type TransportConflictError struct {
	DeviceID  string
	Existing  models.TransportKind
	Requested models.TransportKind
}

func (e *TransportConflictError) Error() string {
	return fmt.Sprintf("device %q is registered on transport %q; re-registering on %q requires the replace flag",
		e.DeviceID, e.Existing, e.Requested)
}
