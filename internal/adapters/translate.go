package adapters

import (
	"encoding/json"
	"time"

	"github.com/labconnect/lcp-gateway/internal/models"
)

// BuildDataPoint translates one raw transport payload into the canonical
// DataPoint. The payload must be a JSON object; its members become the
// point's parameters. A top-level "experiment_id" string is lifted out of
// the parameters into the point's ExperimentID.
func BuildDataPoint(deviceID string, kind models.TransportKind, payload []byte) (models.DataPoint, error) {
	var params map[string]interface{}
	if err := json.Unmarshal(payload, &params); err != nil {
		return models.DataPoint{}, err
	}

	point := models.DataPoint{
		DeviceID:   deviceID,
		Transport:  kind,
		Timestamp:  time.Now().UTC(),
		Parameters: params,
	}

	if id, ok := params["experiment_id"].(string); ok {
		point.ExperimentID = &id
		delete(params, "experiment_id")
	}

	return point, nil
}
