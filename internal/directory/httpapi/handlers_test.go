package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/labconnect/lcp-gateway/internal/adapters"
	"github.com/labconnect/lcp-gateway/internal/directory"
	"github.com/labconnect/lcp-gateway/internal/mocks"
	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/registry"
	"github.com/labconnect/lcp-gateway/internal/storage"
)

func newTestAPI(t *testing.T) (*http.ServeMux, *mocks.Registry, *storage.MemoryStore) {
	t.Helper()
	reg := new(mocks.Registry)
	store := storage.NewMemoryStore(100)
	svc := directory.NewService(reg, store, zerolog.Nop())
	return NewHandler(svc, zerolog.Nop()).Routes(), reg, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAPI_RegisterDevice(t *testing.T) {
	mux, reg, store := newTestAPI(t)
	reg.On("RegisterDevice", mock.Anything, mock.Anything).Return(nil)

	rec := doJSON(t, mux, http.MethodPost, "/devices", map[string]interface{}{
		"device_id": "hplc-01",
		"protocol":  "bus",
		"connection_details": map[string]interface{}{
			"data_topic":    "lab/hplc-01/data",
			"control_topic": "lab/hplc-01/control",
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var got models.DeviceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "hplc-01", got.DeviceID)
	assert.Equal(t, models.TransportBus, got.Transport)
	assert.Equal(t, models.StatusRegistered, got.Status)

	_, err := store.GetDevice(context.Background(), "hplc-01")
	assert.NoError(t, err)
}

func TestAPI_RegisterDevice_UnknownProtocol(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodPost, "/devices", map[string]interface{}{
		"device_id": "hplc-01",
		"protocol":  "carrier-pigeon",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RegisterDevice_MalformedBody(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/devices", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetDevice_NotFound(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/devices/ghost", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListDevices_EmptyIsArrayNotNull(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/devices", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAPI_SendCommand(t *testing.T) {
	mux, reg, _ := newTestAPI(t)
	outcome := models.CommandOutcome{Status: models.OutcomeProcessing, CommandID: "cmd-1", Timestamp: time.Now().UTC()}
	reg.On("SendCommand", mock.Anything, "hplc-01", "start_run",
		map[string]interface{}{"method": "gradient-a"}).Return(outcome, nil)

	rec := doJSON(t, mux, http.MethodPost, "/devices/hplc-01/commands", map[string]interface{}{
		"command":    "start_run",
		"parameters": map[string]interface{}{"method": "gradient-a"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.CommandOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.OutcomeProcessing, got.Status)
	assert.Equal(t, "cmd-1", got.CommandID)
}

func TestAPI_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &registry.ValidationError{Field: "command", Reason: "must not be empty"}, http.StatusBadRequest},
		{"missing detail", &adapters.MissingDetailError{Transport: models.TransportBus, Field: "data_topic"}, http.StatusBadRequest},
		{"destination missing", adapters.ErrDestinationMissing, http.StatusBadRequest},
		{"not found", registry.ErrDeviceNotFound, http.StatusNotFound},
		{"archived", registry.ErrDeviceArchived, http.StatusConflict},
		{"transport conflict", &registry.TransportConflictError{DeviceID: "d", Existing: models.TransportBus, Requested: models.TransportStream}, http.StatusConflict},
		{"detail conflict", &adapters.DetailConflictError{Transport: models.TransportBus, Field: "data_topic", Value: "lab/shared/data", OwnerID: "d"}, http.StatusConflict},
		{"capability", adapters.ErrCapabilityNotSupported, http.StatusMethodNotAllowed},
		{"timeout", fmt.Errorf("fetch: %w", adapters.ErrTimeout), http.StatusGatewayTimeout},
		{"command failure", &adapters.CommandError{DeviceID: "d", Command: "start", Err: adapters.ErrNotConnected}, http.StatusBadGateway},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, reg, _ := newTestAPI(t)
			reg.On("SendCommand", mock.Anything, "hplc-01", "start", mock.Anything).
				Return(models.CommandOutcome{}, tc.err)

			rec := doJSON(t, mux, http.MethodPost, "/devices/hplc-01/commands", map[string]interface{}{
				"command": "start",
			})

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAPI_UnclassifiedErrorDetailStaysInLog(t *testing.T) {
	mux, reg, _ := newTestAPI(t)
	reg.On("SendCommand", mock.Anything, "hplc-01", "start", mock.Anything).
		Return(models.CommandOutcome{}, fmt.Errorf("dial postgres://ops:hunter2@db failed"))

	rec := doJSON(t, mux, http.MethodPost, "/devices/hplc-01/commands", map[string]interface{}{
		"command": "start",
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestAPI_ArchiveAndReactivate(t *testing.T) {
	mux, reg, store := newTestAPI(t)
	reg.On("RegisterDevice", mock.Anything, mock.Anything).Return(nil)
	reg.On("ArchiveDevice", "hplc-01").Return(nil)
	reg.On("ReactivateDevice", "hplc-01").Return(nil)

	rec := doJSON(t, mux, http.MethodPost, "/devices", map[string]interface{}{
		"device_id": "hplc-01",
		"protocol":  "bus",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, "/devices/hplc-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := store.GetDevice(context.Background(), "hplc-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, stored.Status)

	rec = doJSON(t, mux, http.MethodPost, "/devices/hplc-01/reactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err = store.GetDevice(context.Background(), "hplc-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, stored.Status)
}

func TestAPI_QueryData_TimeBoundsAndValidation(t *testing.T) {
	mux, _, store := newTestAPI(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveDataPoint(context.Background(), models.DataPoint{
			DeviceID:  "hplc-01",
			Transport: models.TransportBus,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := doJSON(t, mux, http.MethodGet,
		"/devices/hplc-01/data?from="+base.Add(time.Minute).Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var points []models.DataPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Len(t, points, 2)

	rec = doJSON(t, mux, http.MethodGet, "/devices/hplc-01/data?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_LatestData(t *testing.T) {
	mux, _, store := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/devices/hplc-01/data/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, store.SaveDataPoint(context.Background(), models.DataPoint{
		DeviceID:   "hplc-01",
		Transport:  models.TransportStream,
		Timestamp:  time.Now().UTC(),
		Parameters: map[string]interface{}{"absorbance": 0.42},
	}))

	rec = doJSON(t, mux, http.MethodGet, "/devices/hplc-01/data/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var point models.DataPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &point))
	assert.Equal(t, 0.42, point.Parameters["absorbance"])
}

func TestAPI_FetchNow(t *testing.T) {
	mux, reg, store := newTestAPI(t)
	point := models.DataPoint{
		DeviceID:   "hplc-01",
		Transport:  models.TransportPolledHTTP,
		Timestamp:  time.Now().UTC(),
		Parameters: map[string]interface{}{"flow_ml_min": 1.2},
	}
	reg.On("FetchData", mock.Anything, "hplc-01").Return(point, nil)

	rec := doJSON(t, mux, http.MethodPost, "/devices/hplc-01/fetch", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	latest, err := store.LatestDataPoint(context.Background(), "hplc-01")
	require.NoError(t, err)
	assert.Equal(t, 1.2, latest.Parameters["flow_ml_min"])
}

func TestAPI_Health(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
