package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labconnect/lcp-gateway/internal/models"
)

func TestBuildDataPoint(t *testing.T) {
	before := time.Now().UTC()
	point, err := BuildDataPoint("hplc-01", models.TransportBus,
		[]byte(`{"temperature_c": 21.5, "status": "idle"}`))
	require.NoError(t, err)

	assert.Equal(t, "hplc-01", point.DeviceID)
	assert.Equal(t, models.TransportBus, point.Transport)
	assert.Equal(t, 21.5, point.Parameters["temperature_c"])
	assert.Equal(t, "idle", point.Parameters["status"])
	assert.Nil(t, point.ExperimentID)
	assert.False(t, point.Timestamp.Before(before))
	assert.Equal(t, time.UTC, point.Timestamp.Location())
}

func TestBuildDataPoint_LiftsExperimentID(t *testing.T) {
	point, err := BuildDataPoint("hplc-01", models.TransportStream,
		[]byte(`{"experiment_id": "exp-42", "absorbance": 0.33}`))
	require.NoError(t, err)

	require.NotNil(t, point.ExperimentID)
	assert.Equal(t, "exp-42", *point.ExperimentID)
	assert.NotContains(t, point.Parameters, "experiment_id")
	assert.Equal(t, 0.33, point.Parameters["absorbance"])
}

func TestBuildDataPoint_NonStringExperimentIDStaysInParameters(t *testing.T) {
	point, err := BuildDataPoint("hplc-01", models.TransportBus,
		[]byte(`{"experiment_id": 42}`))
	require.NoError(t, err)

	assert.Nil(t, point.ExperimentID)
	assert.Equal(t, float64(42), point.Parameters["experiment_id"])
}

func TestBuildDataPoint_RejectsNonObjectPayloads(t *testing.T) {
	for _, payload := range []string{`[1, 2]`, `"text"`, `not json`, ``} {
		_, err := BuildDataPoint("hplc-01", models.TransportBus, []byte(payload))
		assert.Error(t, err, "payload %q", payload)
	}
}
