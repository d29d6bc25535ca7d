package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/labconnect/lcp-gateway/internal/adapters"
	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/utils"
	"github.com/labconnect/lcp-gateway/pkg/mqtt"
)

// commandMessage is the bus-native command body published to a device's
// control topic.
type commandMessage struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Adapter owns the shared MQTT broker session and translates between topic
// messages and the canonical device model. One subscription per registered
// device, keyed by its data topic.
type Adapter struct {
	client mqtt.MQTTClient
	qos    byte
	retry  utils.RetryConfig

	handler adapters.DataHandler
	logger  zerolog.Logger

	// topics maps a data topic back to the device id registered on it, the
	// reverse of the registration. devices maps a device id to its stored
	// connection details.
	topics  cmap.ConcurrentMap[string, string]
	devices cmap.ConcurrentMap[string, models.ConnectionDetails]

	connected atomic.Bool
}

// NewAdapter creates a bus adapter over an initialized MQTT client. The
// handler receives every translated inbound DataPoint.
func NewAdapter(client mqtt.MQTTClient, qos byte, retry utils.RetryConfig, handler adapters.DataHandler, logger zerolog.Logger) *Adapter {
	return &Adapter{
		client:  client,
		qos:     qos,
		retry:   retry,
		handler: handler,
		logger:  logger,
		topics:  cmap.New[string](),
		devices: cmap.New[models.ConnectionDetails](),
	}
}

// Kind reports the transport family this adapter owns.
func (a *Adapter) Kind() models.TransportKind {
	return models.TransportBus
}

// Connect establishes the broker session. Calling it while already
// connected is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.connected.Load() {
		return nil
	}

	token := a.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return &adapters.ConnectionError{Transport: models.TransportBus, Err: ctx.Err()}
	}
	if err := token.Error(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to connect to MQTT broker")
		return &adapters.ConnectionError{Transport: models.TransportBus, Err: err}
	}

	a.connected.Store(true)
	a.logger.Info().Msg("Bus adapter connected")
	return nil
}

// RegisterDevice subscribes to the device's data topic and stores its
// control topic for outbound commands. Re-registering the same device
// replaces the previous binding.
func (a *Adapter) RegisterDevice(ctx context.Context, record models.DeviceRecord) error {
	details := record.ConnectionDetails
	if details.DataTopic == "" {
		return &adapters.MissingDetailError{Transport: models.TransportBus, Field: "data_topic"}
	}
	if details.ControlTopic == "" {
		return &adapters.MissingDetailError{Transport: models.TransportBus, Field: "control_topic"}
	}

	// One data topic attributes to exactly one device; a second device
	// claiming it would silently steal the first one's inbound messages.
	if owner, ok := a.topics.Get(details.DataTopic); ok && owner != record.DeviceID {
		return &adapters.DetailConflictError{
			Transport: models.TransportBus,
			Field:     "data_topic",
			Value:     details.DataTopic,
			OwnerID:   owner,
		}
	}

	// A replaced binding must not leave a stale subscription behind.
	if old, ok := a.devices.Get(record.DeviceID); ok && old.DataTopic != details.DataTopic {
		a.unsubscribe(old.DataTopic)
		a.topics.Remove(old.DataTopic)
	}

	token := a.client.Subscribe(details.DataTopic, a.qos, a.handleMessage)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return &adapters.ConnectionError{Transport: models.TransportBus, Err: ctx.Err()}
	}
	if err := token.Error(); err != nil {
		a.logger.Error().Err(err).Str("device_id", record.DeviceID).Str("topic", details.DataTopic).
			Msg("Failed to subscribe to data topic")
		return &adapters.ConnectionError{Transport: models.TransportBus, Err: err}
	}

	a.topics.Set(details.DataTopic, record.DeviceID)
	a.devices.Set(record.DeviceID, details)

	a.logger.Info().Str("device_id", record.DeviceID).Str("topic", details.DataTopic).
		Msg("Bus device registered")
	return nil
}

// SendCommand publishes the envelope's command body to the device's control
// topic, retrying failed publishes per the adapter's retry policy.
func (a *Adapter) SendCommand(ctx context.Context, envelope models.CommandEnvelope) (models.CommandOutcome, error) {
	details, ok := a.devices.Get(envelope.DeviceID)
	if !ok {
		return models.CommandOutcome{}, adapters.ErrDeviceNotRegistered
	}
	if details.ControlTopic == "" {
		return models.CommandOutcome{}, adapters.ErrDestinationMissing
	}

	payload, err := json.Marshal(commandMessage{
		Command:    envelope.Command,
		Parameters: envelope.Parameters,
	})
	if err != nil {
		return models.CommandOutcome{}, &adapters.CommandError{
			DeviceID: envelope.DeviceID, Command: envelope.Command, Err: err,
		}
	}

	err = utils.Retry(ctx, a.retry, func() error {
		token := a.client.Publish(details.ControlTopic, a.qos, false, payload)
		token.Wait()
		return token.Error()
	})
	if err != nil {
		a.logger.Error().Err(err).Str("device_id", envelope.DeviceID).Str("command", envelope.Command).
			Msg("Failed to publish command")
		return models.CommandOutcome{}, &adapters.CommandError{
			DeviceID: envelope.DeviceID, Command: envelope.Command, Err: err,
		}
	}

	// The broker accepted the message; the device outcome arrives, if at
	// all, as a later inbound event.
	return models.CommandOutcome{
		Status:    models.OutcomeProcessing,
		CommandID: envelope.CommandID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FetchData is not supported: the bus transport is push-only.
func (a *Adapter) FetchData(ctx context.Context, deviceID string) (models.DataPoint, error) {
	return models.DataPoint{}, adapters.ErrCapabilityNotSupported
}

// DisconnectDevice removes one device's subscription and routing entries.
func (a *Adapter) DisconnectDevice(deviceID string) error {
	details, ok := a.devices.Get(deviceID)
	if !ok {
		return nil
	}

	a.unsubscribe(details.DataTopic)
	a.topics.Remove(details.DataTopic)
	a.devices.Remove(deviceID)

	a.logger.Info().Str("device_id", deviceID).Msg("Bus device disconnected")
	return nil
}

// Disconnect tears down every device binding and the broker session.
// Best effort: subscription cleanup failures are logged, never returned.
func (a *Adapter) Disconnect() error {
	for item := range a.topics.IterBuffered() {
		a.unsubscribe(item.Key)
	}
	a.topics.Clear()
	a.devices.Clear()

	if a.connected.Swap(false) {
		a.client.Disconnect(250)
		a.logger.Info().Msg("Bus adapter disconnected")
	}
	return nil
}

// ConnectionCount reports 1 while the shared broker session is up.
func (a *Adapter) ConnectionCount() int {
	if a.connected.Load() {
		return 1
	}
	return 0
}

func (a *Adapter) unsubscribe(topic string) {
	token := a.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		a.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to unsubscribe from data topic")
	}
}

// handleMessage translates one inbound topic message into a DataPoint.
// Unresolvable topics and malformed payloads are dropped and logged; they
// must never crash the adapter or reach a caller.
func (a *Adapter) handleMessage(_ MQTT.Client, msg MQTT.Message) {
	deviceID, ok := a.topics.Get(msg.Topic())
	if !ok {
		a.logger.Warn().Str("topic", msg.Topic()).Msg("Dropping message from unregistered topic")
		return
	}

	point, err := adapters.BuildDataPoint(deviceID, models.TransportBus, msg.Payload())
	if err != nil {
		a.logger.Warn().Err(err).Str("device_id", deviceID).Str("topic", msg.Topic()).
			Msg("Dropping malformed payload")
		return
	}

	a.handler(point)
}
