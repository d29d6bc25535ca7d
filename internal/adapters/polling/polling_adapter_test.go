package polling

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labconnect/lcp-gateway/internal/adapters"
	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/utils"
)

func pollRecord(deviceID, baseURL string, intervalMs int) models.DeviceRecord {
	return models.DeviceRecord{
		DeviceID:  deviceID,
		Transport: models.TransportPolledHTTP,
		ConnectionDetails: models.ConnectionDetails{
			BaseURL:           baseURL,
			DataPath:          "/api/data",
			ControlPath:       "/api/control",
			PollingIntervalMs: intervalMs,
		},
	}
}

func newTestAdapter(handler adapters.DataHandler, fetchTimeout time.Duration) *Adapter {
	if handler == nil {
		handler = func(models.DataPoint) {}
	}
	if fetchTimeout == 0 {
		fetchTimeout = 2 * time.Second
	}
	return NewAdapter(&http.Client{}, fetchTimeout, utils.RetryConfig{MaxAttempts: 1}, handler, zerolog.Nop())
}

func TestPollingAdapter_RegisterDevice_MissingBaseURL(t *testing.T) {
	adapter := newTestAdapter(nil, 0)

	record := pollRecord("pump-1", "", 0)
	err := adapter.RegisterDevice(context.Background(), record)

	var missing *adapters.MissingDetailError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "base_url", missing.Field)
}

func TestPollingAdapter_RegisterDevice_MissingDataPath(t *testing.T) {
	adapter := newTestAdapter(nil, 0)

	record := pollRecord("pump-1", "http://lab.local/api", 0)
	record.ConnectionDetails.DataPath = ""
	err := adapter.RegisterDevice(context.Background(), record)

	var missing *adapters.MissingDetailError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "data_path", missing.Field)
}

func TestPollingAdapter_FetchData_ReturnsOnePoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"flow_rate": 1.5, "experiment_id": "exp-9"}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(nil, 0)
	require.NoError(t, adapter.RegisterDevice(context.Background(), pollRecord("pump-1", server.URL, 0)))

	point, err := adapter.FetchData(context.Background(), "pump-1")
	require.NoError(t, err)
	assert.Equal(t, "pump-1", point.DeviceID)
	assert.Equal(t, models.TransportPolledHTTP, point.Transport)
	assert.Equal(t, 1.5, point.Parameters["flow_rate"])
	require.NotNil(t, point.ExperimentID)
	assert.Equal(t, "exp-9", *point.ExperimentID)
}

func TestPollingAdapter_FetchData_UnknownDevice(t *testing.T) {
	adapter := newTestAdapter(nil, 0)

	_, err := adapter.FetchData(context.Background(), "ghost")

	assert.ErrorIs(t, err, adapters.ErrDeviceNotRegistered)
}

func TestPollingAdapter_FetchData_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	adapter := newTestAdapter(nil, 100*time.Millisecond)
	require.NoError(t, adapter.RegisterDevice(context.Background(), pollRecord("pump-1", server.URL, 0)))

	_, err := adapter.FetchData(context.Background(), "pump-1")

	assert.ErrorIs(t, err, adapters.ErrTimeout)
}

func TestPollingAdapter_SendsAuthToken(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(nil, 0)
	record := pollRecord("pump-1", server.URL, 0)
	record.ConnectionDetails.AuthToken = "secret-token"
	require.NoError(t, adapter.RegisterDevice(context.Background(), record))

	_, err := adapter.FetchData(context.Background(), "pump-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth.Load())
}

func TestPollingAdapter_PollingCadence(t *testing.T) {
	if testing.Short() {
		t.Skip("cadence test sleeps for 2.5 seconds")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"temperature": 20.5}`))
	}))
	defer server.Close()

	var callbacks atomic.Int64
	adapter := newTestAdapter(func(models.DataPoint) { callbacks.Add(1) }, 0)

	require.NoError(t, adapter.RegisterDevice(context.Background(), pollRecord("pump-1", server.URL, 1000)))
	defer adapter.Disconnect()

	time.Sleep(2500 * time.Millisecond)

	count := callbacks.Load()
	assert.GreaterOrEqual(t, count, int64(2), "expected at least two polled readings")
	assert.LessOrEqual(t, count, int64(3), "expected at most three polled readings")
}

func TestPollingAdapter_DisconnectCancelsTimer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"temperature": 20.5}`))
	}))
	defer server.Close()

	var callbacks atomic.Int64
	adapter := newTestAdapter(func(models.DataPoint) { callbacks.Add(1) }, 0)

	require.NoError(t, adapter.RegisterDevice(context.Background(), pollRecord("pump-1", server.URL, 50)))
	time.Sleep(130 * time.Millisecond)
	require.NoError(t, adapter.DisconnectDevice("pump-1"))

	// A leaked timer would keep feeding the handler after disconnect.
	settled := callbacks.Load()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, callbacks.Load())
}

func TestPollingAdapter_SendCommand_PostsToControlPath(t *testing.T) {
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/control", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		body.Store(raw)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(nil, 0)
	require.NoError(t, adapter.RegisterDevice(context.Background(), pollRecord("pump-1", server.URL, 0)))

	outcome, err := adapter.SendCommand(context.Background(), models.CommandEnvelope{
		DeviceID:   "pump-1",
		Command:    "setFlowRate",
		Parameters: map[string]interface{}{"rate": 2.5},
		CommandID:  "cmd-3",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome.Status)
	assert.Equal(t, "cmd-3", outcome.CommandID)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body.Load().([]byte), &decoded))
	assert.Equal(t, "setFlowRate", decoded["command"])
	assert.Equal(t, map[string]interface{}{"rate": 2.5}, decoded["parameters"])
	assert.Equal(t, "cmd-3", decoded["command_id"])
}

func TestPollingAdapter_SendCommand_DeviceRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad parameters", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	adapter := newTestAdapter(nil, 0)
	require.NoError(t, adapter.RegisterDevice(context.Background(), pollRecord("pump-1", server.URL, 0)))

	outcome, err := adapter.SendCommand(context.Background(), models.CommandEnvelope{
		DeviceID: "pump-1", Command: "setFlowRate", CommandID: "cmd-4",
	})

	// A device-side rejection is a final outcome, not a transport fault.
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeError, outcome.Status)
	assert.NotEmpty(t, outcome.Error)
}

func TestPollingAdapter_SendCommand_MissingControlPath(t *testing.T) {
	adapter := newTestAdapter(nil, 0)
	record := pollRecord("pump-1", "http://lab.local/api", 0)
	record.ConnectionDetails.ControlPath = ""
	require.NoError(t, adapter.RegisterDevice(context.Background(), record))

	_, err := adapter.SendCommand(context.Background(), models.CommandEnvelope{
		DeviceID: "pump-1", Command: "stop",
	})

	assert.ErrorIs(t, err, adapters.ErrDestinationMissing)
}
