package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/labconnect/lcp-gateway/internal/adapters"
	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/utils"
)

// Conn is the subset of a WebSocket connection the adapter uses.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a WebSocket connection to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint, subProtocol string) (Conn, error)
}

// WebsocketDialer dials with gorilla's default dialer.
type WebsocketDialer struct {
	Timeout time.Duration
}

// Dial opens the connection, negotiating the sub-protocol when one is given.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint, subProtocol string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.Timeout,
	}
	if subProtocol != "" {
		dialer.Subprotocols = []string{subProtocol}
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// commandMessage is the stream-native command body. The device id lets a
// device demultiplex commands on a socket shared with its neighbours.
type commandMessage struct {
	DeviceID   string                 `json:"device_id"`
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
	CommandID  string                 `json:"command_id"`
}

// endpointConn is one pooled socket and the set of devices sharing it.
type endpointConn struct {
	conn    Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	devices map[string]struct{}

	done chan struct{}
}

func (ec *endpointConn) addDevice(deviceID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.devices[deviceID] = struct{}{}
}

// removeDevice reports whether the connection is now unused.
func (ec *endpointConn) removeDevice(deviceID string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	delete(ec.devices, deviceID)
	return len(ec.devices) == 0
}

// soleDevice returns the only device on this connection, if there is
// exactly one.
func (ec *endpointConn) soleDevice() (string, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.devices) != 1 {
		return "", false
	}
	for id := range ec.devices {
		return id, true
	}
	return "", false
}

func (ec *endpointConn) hasDevice(deviceID string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	_, ok := ec.devices[deviceID]
	return ok
}

// Adapter owns zero-to-many WebSocket connections, pooled by endpoint URL:
// devices registered against the same endpoint share one socket.
type Adapter struct {
	dialer       Dialer
	writeTimeout time.Duration
	retry        utils.RetryConfig

	handler adapters.DataHandler
	logger  zerolog.Logger

	// pool maps an endpoint URL to its shared connection; devices maps a
	// device id to its stored connection details, which outlive the socket:
	// a lost connection is redialed on the next registration or command.
	// poolMu serializes pool mutations so concurrent operations against one
	// endpoint open a single socket.
	pool    cmap.ConcurrentMap[string, *endpointConn]
	devices cmap.ConcurrentMap[string, models.ConnectionDetails]
	poolMu  sync.Mutex
}

// NewAdapter creates a stream adapter. The handler receives every
// translated inbound DataPoint.
func NewAdapter(dialer Dialer, writeTimeout time.Duration, retry utils.RetryConfig, handler adapters.DataHandler, logger zerolog.Logger) *Adapter {
	return &Adapter{
		dialer:       dialer,
		writeTimeout: writeTimeout,
		retry:        retry,
		handler:      handler,
		logger:       logger,
		pool:         cmap.New[*endpointConn](),
		devices:      cmap.New[models.ConnectionDetails](),
	}
}

// Kind reports the transport family this adapter owns.
func (a *Adapter) Kind() models.TransportKind {
	return models.TransportStream
}

// Connect is a no-op: stream sockets are dialed per endpoint when the first
// device registers against it.
func (a *Adapter) Connect(ctx context.Context) error {
	return nil
}

// RegisterDevice binds the device to the pooled connection for its endpoint,
// dialing the endpoint if no connection to it is open yet.
func (a *Adapter) RegisterDevice(ctx context.Context, record models.DeviceRecord) error {
	details := record.ConnectionDetails
	if details.EndpointURL == "" {
		return &adapters.MissingDetailError{Transport: models.TransportStream, Field: "endpoint_url"}
	}

	a.poolMu.Lock()
	defer a.poolMu.Unlock()

	// Moving a device between endpoints must release its old slot first.
	if old, ok := a.devices.Get(record.DeviceID); ok && old.EndpointURL != details.EndpointURL {
		a.releaseDeviceLocked(record.DeviceID, old.EndpointURL)
	}

	ec, err := a.ensureConnLocked(ctx, details)
	if err != nil {
		a.logger.Error().Err(err).Str("device_id", record.DeviceID).
			Str("endpoint", details.EndpointURL).Msg("Failed to dial stream endpoint")
		return err
	}

	ec.addDevice(record.DeviceID)
	a.devices.Set(record.DeviceID, details)

	a.logger.Info().Str("device_id", record.DeviceID).Str("endpoint", details.EndpointURL).
		Msg("Stream device registered")
	return nil
}

// SendCommand writes the stream-native command message on the device's
// pooled socket, retrying failed writes per the adapter's retry policy. A
// lost endpoint connection is redialed before the write.
func (a *Adapter) SendCommand(ctx context.Context, envelope models.CommandEnvelope) (models.CommandOutcome, error) {
	details, ok := a.devices.Get(envelope.DeviceID)
	if !ok {
		return models.CommandOutcome{}, adapters.ErrDeviceNotRegistered
	}

	a.poolMu.Lock()
	ec, err := a.ensureConnLocked(ctx, details)
	a.poolMu.Unlock()
	if err != nil {
		return models.CommandOutcome{}, err
	}

	payload, err := json.Marshal(commandMessage{
		DeviceID:   envelope.DeviceID,
		Command:    envelope.Command,
		Parameters: envelope.Parameters,
		CommandID:  envelope.CommandID,
	})
	if err != nil {
		return models.CommandOutcome{}, &adapters.CommandError{
			DeviceID: envelope.DeviceID, Command: envelope.Command, Err: err,
		}
	}

	err = utils.Retry(ctx, a.retry, func() error {
		ec.writeMu.Lock()
		defer ec.writeMu.Unlock()
		if a.writeTimeout > 0 {
			if err := ec.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
				return err
			}
		}
		return ec.conn.WriteMessage(websocket.TextMessage, payload)
	})
	if err != nil {
		a.logger.Error().Err(err).Str("device_id", envelope.DeviceID).Str("command", envelope.Command).
			Msg("Failed to write command to stream")
		return models.CommandOutcome{}, &adapters.CommandError{
			DeviceID: envelope.DeviceID, Command: envelope.Command, Err: err,
		}
	}

	return models.CommandOutcome{
		Status:    models.OutcomeProcessing,
		CommandID: envelope.CommandID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FetchData is not supported: the stream transport is push-only.
func (a *Adapter) FetchData(ctx context.Context, deviceID string) (models.DataPoint, error) {
	return models.DataPoint{}, adapters.ErrCapabilityNotSupported
}

// DisconnectDevice releases one device's slot on its pooled connection and
// closes the socket when no device uses it anymore.
func (a *Adapter) DisconnectDevice(deviceID string) error {
	a.poolMu.Lock()
	defer a.poolMu.Unlock()

	details, ok := a.devices.Get(deviceID)
	if !ok {
		return nil
	}
	a.releaseDeviceLocked(deviceID, details.EndpointURL)

	a.logger.Info().Str("device_id", deviceID).Msg("Stream device disconnected")
	return nil
}

// Disconnect closes every pooled connection. Best effort.
func (a *Adapter) Disconnect() error {
	a.poolMu.Lock()
	defer a.poolMu.Unlock()

	for item := range a.pool.IterBuffered() {
		a.closeConnLocked(item.Key, item.Val)
	}
	a.pool.Clear()
	a.devices.Clear()

	a.logger.Info().Msg("Stream adapter disconnected")
	return nil
}

// ConnectionCount reports the number of open pooled connections.
func (a *Adapter) ConnectionCount() int {
	return a.pool.Count()
}

// ensureConnLocked returns the endpoint's pooled connection, dialing a
// fresh one if none is open. Devices already registered against the
// endpoint keep their slots on the new socket. poolMu must be held.
func (a *Adapter) ensureConnLocked(ctx context.Context, details models.ConnectionDetails) (*endpointConn, error) {
	if ec, ok := a.pool.Get(details.EndpointURL); ok {
		return ec, nil
	}

	conn, err := a.dialer.Dial(ctx, details.EndpointURL, details.SubProtocol)
	if err != nil {
		return nil, &adapters.ConnectionError{Transport: models.TransportStream, Err: err}
	}

	ec := &endpointConn{
		conn:    conn,
		devices: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	for item := range a.devices.IterBuffered() {
		if item.Val.EndpointURL == details.EndpointURL {
			ec.devices[item.Key] = struct{}{}
		}
	}
	a.pool.Set(details.EndpointURL, ec)
	go a.readLoop(details.EndpointURL, ec)
	return ec, nil
}

// dropConn evicts a dead connection from the pool so the next operation
// against the endpoint redials. Device registrations survive the loss.
func (a *Adapter) dropConn(endpoint string, ec *endpointConn) {
	a.poolMu.Lock()
	defer a.poolMu.Unlock()
	if current, ok := a.pool.Get(endpoint); ok && current == ec {
		a.pool.Remove(endpoint)
	}
}

func (a *Adapter) releaseDeviceLocked(deviceID, endpoint string) {
	a.devices.Remove(deviceID)
	ec, ok := a.pool.Get(endpoint)
	if !ok {
		return
	}
	if ec.removeDevice(deviceID) {
		a.closeConnLocked(endpoint, ec)
		a.pool.Remove(endpoint)
	}
}

func (a *Adapter) closeConnLocked(endpoint string, ec *endpointConn) {
	select {
	case <-ec.done:
	default:
		close(ec.done)
	}
	if err := ec.conn.Close(); err != nil {
		a.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to close stream connection")
	}
}

// readLoop reads the shared socket until it closes, translating each
// message and attributing it to the registered device it belongs to.
func (a *Adapter) readLoop(endpoint string, ec *endpointConn) {
	for {
		_, payload, err := ec.conn.ReadMessage()
		if err != nil {
			select {
			case <-ec.done:
				// Deliberate teardown; the closer already updated the pool.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					a.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Stream connection lost")
				}
				// A dead socket must not stay pooled: the next
				// registration or command against the endpoint redials.
				a.dropConn(endpoint, ec)
			}
			return
		}

		deviceID, ok := a.resolveDevice(ec, payload)
		if !ok {
			a.logger.Warn().Str("endpoint", endpoint).
				Msg("Dropping stream message that resolves to no registered device")
			continue
		}

		point, err := adapters.BuildDataPoint(deviceID, models.TransportStream, payload)
		if err != nil {
			a.logger.Warn().Err(err).Str("device_id", deviceID).Str("endpoint", endpoint).
				Msg("Dropping malformed payload")
			continue
		}
		// The demux key is addressing, not a measurement.
		delete(point.Parameters, "device_id")

		a.handler(point)
	}
}

// resolveDevice attributes a shared-socket message to a device: an explicit
// device_id in the payload wins; otherwise a socket carrying exactly one
// device is unambiguous.
func (a *Adapter) resolveDevice(ec *endpointConn, payload []byte) (string, bool) {
	var hint struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.Unmarshal(payload, &hint); err == nil && hint.DeviceID != "" {
		if ec.hasDevice(hint.DeviceID) {
			return hint.DeviceID, true
		}
		return "", false
	}
	return ec.soleDevice()
}
