package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/labconnect/lcp-gateway/internal/adapters"
	"github.com/labconnect/lcp-gateway/internal/models"
)

// AdapterRegistry is the single point of truth for which transport owns
// which device, and the only component that calls into adapters. It is
// constructed once at process start and passed to every collaborator.
type AdapterRegistry struct {
	adapters map[models.TransportKind]adapters.TransportAdapter

	// routes is the deviceId -> transport routing table shared by every
	// call path. archived holds identities that left via ArchiveDevice and
	// may not be reused without reactivation. mu serializes mutations so
	// two concurrent registrations (or a registration racing an archive)
	// of the same id cannot produce inconsistent adapter bindings.
	routes   cmap.ConcurrentMap[string, models.TransportKind]
	archived cmap.ConcurrentMap[string, models.TransportKind]
	mu       sync.Mutex

	handler adapters.DataHandler
	metrics *Metrics
	logger  zerolog.Logger
}

// NewAdapterRegistry creates an empty registry. The handler receives every
// inbound DataPoint from every adapter; adapters are attached with
// BindAdapter and should be constructed with the registry's HandleInbound
// as their data handler.
func NewAdapterRegistry(handler adapters.DataHandler, metrics *Metrics, logger zerolog.Logger) *AdapterRegistry {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &AdapterRegistry{
		adapters: make(map[models.TransportKind]adapters.TransportAdapter),
		routes:   cmap.New[models.TransportKind](),
		archived: cmap.New[models.TransportKind](),
		handler:  handler,
		metrics:  metrics,
		logger:   logger,
	}
}

// BindAdapter attaches an adapter for its transport kind. One adapter per
// kind; binding happens at startup, before any registration.
func (r *AdapterRegistry) BindAdapter(adapter adapters.TransportAdapter) error {
	kind := adapter.Kind()
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("adapter for transport %q is already bound", kind)
	}
	r.adapters[kind] = adapter
	r.logger.Info().Str("transport", string(kind)).Msg("Transport adapter bound")
	return nil
}

// HandleInbound is the single inbound callback every adapter invokes with a
// completed DataPoint. Translation and validation already happened inside
// the adapter; the registry only counts and forwards.
func (r *AdapterRegistry) HandleInbound(point models.DataPoint) {
	r.metrics.inbound(string(point.Transport))
	r.handler(point)
}

// ConnectAll calls Connect on every bound adapter concurrently. A failure
// in one adapter is logged and does not prevent the others from completing;
// a single misconfigured transport must not take the gateway down.
func (r *AdapterRegistry) ConnectAll(ctx context.Context) {
	var wg sync.WaitGroup
	for kind, adapter := range r.adapters {
		wg.Add(1)
		go func(kind models.TransportKind, adapter adapters.TransportAdapter) {
			defer wg.Done()
			if err := adapter.Connect(ctx); err != nil {
				r.logger.Error().Err(err).Str("transport", string(kind)).
					Msg("Adapter failed to connect; continuing with remaining transports")
			}
		}(kind, adapter)
	}
	wg.Wait()
}

// RegisterDevice validates the transport, delegates to the owning adapter
// and, only on success, records the routing entry. Re-registering an id on
// the same transport replaces its bindings; moving it to a different
// transport requires the record's replace flag and tears the old binding
// down first.
func (r *AdapterRegistry) RegisterDevice(ctx context.Context, record models.DeviceRecord) error {
	if record.DeviceID == "" {
		err := &ValidationError{Field: "device_id", Reason: "must not be empty"}
		r.metrics.registration(string(record.Transport), err)
		return err
	}

	adapter, ok := r.adapters[record.Transport]
	if !ok {
		err := &UnsupportedTransportError{Transport: record.Transport}
		r.metrics.registration(string(record.Transport), err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.archived.Has(record.DeviceID) {
		r.metrics.registration(string(record.Transport), ErrDeviceArchived)
		return ErrDeviceArchived
	}

	if existing, registered := r.routes.Get(record.DeviceID); registered && existing != record.Transport {
		if !record.Replace {
			err := &TransportConflictError{
				DeviceID: record.DeviceID, Existing: existing, Requested: record.Transport,
			}
			r.metrics.registration(string(record.Transport), err)
			return err
		}

		if err := r.adapters[existing].DisconnectDevice(record.DeviceID); err != nil {
			r.logger.Warn().Err(err).Str("device_id", record.DeviceID).
				Str("transport", string(existing)).Msg("Failed to tear down replaced binding")
		}
		r.routes.Remove(record.DeviceID)
		r.metrics.activeDevices.Dec()
	}

	if err := adapter.RegisterDevice(ctx, record); err != nil {
		// No routing entry may survive a failed adapter-level registration.
		r.metrics.registration(string(record.Transport), err)
		return err
	}

	if !r.routes.Has(record.DeviceID) {
		r.metrics.activeDevices.Inc()
	}
	r.routes.Set(record.DeviceID, record.Transport)
	r.metrics.registration(string(record.Transport), nil)

	r.logger.Info().Str("device_id", record.DeviceID).Str("transport", string(record.Transport)).
		Msg("Device registered")
	return nil
}

// SendCommand looks up the owning transport and delegates the envelope to
// its adapter. A generated command id correlates the eventual outcome.
func (r *AdapterRegistry) SendCommand(ctx context.Context, deviceID, command string, parameters map[string]interface{}) (models.CommandOutcome, error) {
	if command == "" {
		return models.CommandOutcome{}, &ValidationError{Field: "command", Reason: "must not be empty"}
	}

	kind, ok := r.routes.Get(deviceID)
	if !ok {
		return models.CommandOutcome{}, fmt.Errorf("send command %q: device %q: %w", command, deviceID, ErrDeviceNotFound)
	}

	envelope := models.CommandEnvelope{
		DeviceID:   deviceID,
		Command:    command,
		Parameters: parameters,
		CommandID:  uuid.NewString(),
	}

	outcome, err := r.adapters[kind].SendCommand(ctx, envelope)
	r.metrics.command(string(kind), err)
	return outcome, err
}

// FetchData performs a synchronous read through the owning adapter. A
// push-only transport's CapabilityNotSupported is surfaced verbatim.
func (r *AdapterRegistry) FetchData(ctx context.Context, deviceID string) (models.DataPoint, error) {
	kind, ok := r.routes.Get(deviceID)
	if !ok {
		return models.DataPoint{}, fmt.Errorf("fetch data: device %q: %w", deviceID, ErrDeviceNotFound)
	}
	return r.adapters[kind].FetchData(ctx, deviceID)
}

// RegisteredTransport reports the transport owning the device, if any.
func (r *AdapterRegistry) RegisteredTransport(deviceID string) (models.TransportKind, bool) {
	return r.routes.Get(deviceID)
}

// ArchiveDevice tears the device's adapter binding down and retires its
// identity. Archived ids are terminal until ReactivateDevice.
func (r *AdapterRegistry) ArchiveDevice(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind, ok := r.routes.Get(deviceID)
	if !ok {
		return fmt.Errorf("archive: device %q: %w", deviceID, ErrDeviceNotFound)
	}

	if err := r.adapters[kind].DisconnectDevice(deviceID); err != nil {
		// The identity is retired regardless; a binding that failed to
		// clean up is logged, not resurrected.
		r.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Adapter teardown failed during archive")
	}

	r.routes.Remove(deviceID)
	r.archived.Set(deviceID, kind)
	r.metrics.activeDevices.Dec()

	r.logger.Info().Str("device_id", deviceID).Msg("Device archived")
	return nil
}

// ReactivateDevice releases an archived identity so it can be registered
// again. It does not re-register the device; the caller does that with the
// stored record.
func (r *AdapterRegistry) ReactivateDevice(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.archived.Has(deviceID) {
		return fmt.Errorf("reactivate: device %q: %w", deviceID, ErrDeviceNotArchived)
	}
	r.archived.Remove(deviceID)

	r.logger.Info().Str("device_id", deviceID).Msg("Device reactivated")
	return nil
}

// DisconnectAll calls Disconnect on every adapter concurrently, tolerating
// individual failures, then clears the routing table unconditionally: a
// routing table pointing at dead adapters is worse than losing entries for
// bindings that failed to clean up. mu is held across the fan-out so a
// registration racing shutdown cannot complete an adapter-level binding
// after that adapter disconnected.
func (r *AdapterRegistry) DisconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var wg sync.WaitGroup
	for kind, adapter := range r.adapters {
		wg.Add(1)
		go func(kind models.TransportKind, adapter adapters.TransportAdapter) {
			defer wg.Done()
			if err := adapter.Disconnect(); err != nil {
				r.logger.Error().Err(err).Str("transport", string(kind)).Msg("Adapter failed to disconnect")
			}
		}(kind, adapter)
	}
	wg.Wait()

	r.routes.Clear()
	r.metrics.activeDevices.Set(0)

	r.logger.Info().Msg("All adapters disconnected, routing table cleared")
}
