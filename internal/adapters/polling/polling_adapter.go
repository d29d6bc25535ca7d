package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/labconnect/lcp-gateway/internal/adapters"
	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/utils"
)

// commandMessage is the body POSTed to a device's control path.
type commandMessage struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
	CommandID  string                 `json:"command_id"`
}

// pollJob is one device's background polling loop.
type pollJob struct {
	interval time.Duration
	done     chan struct{}
}

// Adapter reads devices over plain HTTP, either on demand through FetchData
// or on a per-device timer when the registration supplies a polling
// interval. There is no transport-level connection; every read and command
// is its own request.
type Adapter struct {
	client       *http.Client
	fetchTimeout time.Duration
	retry        utils.RetryConfig

	handler adapters.DataHandler
	logger  zerolog.Logger

	devices cmap.ConcurrentMap[string, models.ConnectionDetails]
	jobs    cmap.ConcurrentMap[string, *pollJob]
}

// NewAdapter creates a polling adapter. fetchTimeout bounds every polled
// read; the handler receives each translated DataPoint.
func NewAdapter(client *http.Client, fetchTimeout time.Duration, retry utils.RetryConfig, handler adapters.DataHandler, logger zerolog.Logger) *Adapter {
	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{
		client:       client,
		fetchTimeout: fetchTimeout,
		retry:        retry,
		handler:      handler,
		logger:       logger,
		devices:      cmap.New[models.ConnectionDetails](),
		jobs:         cmap.New[*pollJob](),
	}
}

// Kind reports the transport family this adapter owns.
func (a *Adapter) Kind() models.TransportKind {
	return models.TransportPolledHTTP
}

// Connect is a no-op: the polled transport connects per request.
func (a *Adapter) Connect(ctx context.Context) error {
	return nil
}

// RegisterDevice stores the device's polling parameters and, when an
// interval is supplied, starts its background read-and-translate loop.
// Re-registration replaces any running loop.
func (a *Adapter) RegisterDevice(ctx context.Context, record models.DeviceRecord) error {
	details := record.ConnectionDetails
	if details.BaseURL == "" {
		return &adapters.MissingDetailError{Transport: models.TransportPolledHTTP, Field: "base_url"}
	}
	if details.DataPath == "" {
		return &adapters.MissingDetailError{Transport: models.TransportPolledHTTP, Field: "data_path"}
	}
	if _, err := url.Parse(details.BaseURL); err != nil {
		return &adapters.MissingDetailError{Transport: models.TransportPolledHTTP, Field: "base_url"}
	}

	a.stopJob(record.DeviceID)
	a.devices.Set(record.DeviceID, details)

	if details.PollingIntervalMs > 0 {
		job := &pollJob{
			interval: time.Duration(details.PollingIntervalMs) * time.Millisecond,
			done:     make(chan struct{}),
		}
		a.jobs.Set(record.DeviceID, job)
		go a.pollLoop(record.DeviceID, job)
	}

	a.logger.Info().Str("device_id", record.DeviceID).Str("base_url", details.BaseURL).
		Int("polling_interval_ms", details.PollingIntervalMs).Msg("Polling device registered")
	return nil
}

// SendCommand POSTs the command body to the device's control path. The HTTP
// response is the device's answer, so the outcome is final rather than
// "processing".
func (a *Adapter) SendCommand(ctx context.Context, envelope models.CommandEnvelope) (models.CommandOutcome, error) {
	details, ok := a.devices.Get(envelope.DeviceID)
	if !ok {
		return models.CommandOutcome{}, adapters.ErrDeviceNotRegistered
	}
	if details.ControlPath == "" {
		return models.CommandOutcome{}, adapters.ErrDestinationMissing
	}

	payload, err := json.Marshal(commandMessage{
		Command:    envelope.Command,
		Parameters: envelope.Parameters,
		CommandID:  envelope.CommandID,
	})
	if err != nil {
		return models.CommandOutcome{}, &adapters.CommandError{
			DeviceID: envelope.DeviceID, Command: envelope.Command, Err: err,
		}
	}

	target := joinURL(details.BaseURL, details.ControlPath)
	var status int
	err = utils.Retry(ctx, a.retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		if details.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+details.AuthToken)
		}

		resp, doErr := a.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		status = resp.StatusCode
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("device returned status %d", status)
		}
		return nil
	})
	if err != nil {
		a.logger.Error().Err(err).Str("device_id", envelope.DeviceID).Str("command", envelope.Command).
			Msg("Failed to deliver command")
		return models.CommandOutcome{}, &adapters.CommandError{
			DeviceID: envelope.DeviceID, Command: envelope.Command, Err: err,
		}
	}

	outcome := models.CommandOutcome{
		Status:    models.OutcomeCompleted,
		CommandID: envelope.CommandID,
		Timestamp: time.Now().UTC(),
	}
	if status >= http.StatusBadRequest {
		outcome.Status = models.OutcomeError
		outcome.Error = fmt.Sprintf("device returned status %d", status)
	}
	return outcome, nil
}

// FetchData performs one synchronous read of the device's data path.
func (a *Adapter) FetchData(ctx context.Context, deviceID string) (models.DataPoint, error) {
	details, ok := a.devices.Get(deviceID)
	if !ok {
		return models.DataPoint{}, adapters.ErrDeviceNotRegistered
	}

	ctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	point, err := a.readOnce(ctx, deviceID, details)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.DataPoint{}, fmt.Errorf("fetch from device %q: %w", deviceID, adapters.ErrTimeout)
		}
		return models.DataPoint{}, err
	}
	return point, nil
}

// DisconnectDevice cancels the device's polling loop and drops its
// parameters. A leaked timer would keep feeding the inbound handler for a
// device the registry considers gone, so the loop stops before the entry
// is removed.
func (a *Adapter) DisconnectDevice(deviceID string) error {
	a.stopJob(deviceID)
	a.devices.Remove(deviceID)
	a.logger.Info().Str("device_id", deviceID).Msg("Polling device disconnected")
	return nil
}

// Disconnect cancels every polling loop and clears all bindings.
func (a *Adapter) Disconnect() error {
	for item := range a.jobs.IterBuffered() {
		close(item.Val.done)
	}
	a.jobs.Clear()
	a.devices.Clear()

	a.logger.Info().Msg("Polling adapter disconnected")
	return nil
}

func (a *Adapter) stopJob(deviceID string) {
	if job, ok := a.jobs.Get(deviceID); ok {
		close(job.done)
		a.jobs.Remove(deviceID)
	}
}

// pollLoop runs one device's read-and-translate cycle until the job is
// canceled. Individual read failures are logged and the cadence continues.
func (a *Adapter) pollLoop(deviceID string, job *pollJob) {
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		select {
		case <-job.done:
			return
		case <-ticker.C:
			details, ok := a.devices.Get(deviceID)
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), a.fetchTimeout)
			point, err := a.readOnce(ctx, deviceID, details)
			cancel()
			if err != nil {
				a.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Polled read failed")
				continue
			}

			a.handler(point)
		}
	}
}

func (a *Adapter) readOnce(ctx context.Context, deviceID string, details models.ConnectionDetails) (models.DataPoint, error) {
	target := joinURL(details.BaseURL, details.DataPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.DataPoint{}, err
	}
	if details.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+details.AuthToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return models.DataPoint{}, &adapters.ConnectionError{Transport: models.TransportPolledHTTP, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return models.DataPoint{}, &adapters.ConnectionError{
			Transport: models.TransportPolledHTTP,
			Err:       fmt.Errorf("device returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.DataPoint{}, &adapters.ConnectionError{Transport: models.TransportPolledHTTP, Err: err}
	}

	return adapters.BuildDataPoint(deviceID, models.TransportPolledHTTP, body)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
