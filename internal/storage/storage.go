package storage

import (
	"context"
	"errors"
	"time"

	"github.com/labconnect/lcp-gateway/internal/models"
)

// ErrNotFound reports a lookup for a device or reading that does not exist.
var ErrNotFound = errors.New("not found")

// DeviceStore persists canonical device records.
type DeviceStore interface {
	SaveDevice(ctx context.Context, record models.DeviceRecord) error
	GetDevice(ctx context.Context, deviceID string) (models.DeviceRecord, error)
	ListDevices(ctx context.Context) ([]models.DeviceRecord, error)

	// UpdateStatus mutates only the device's status and, when lastSeen is
	// non-zero, its last-seen timestamp.
	UpdateStatus(ctx context.Context, deviceID string, status models.DeviceStatus, lastSeen time.Time) error
}

// DataPointStore persists canonical data points.
type DataPointStore interface {
	SaveDataPoint(ctx context.Context, point models.DataPoint) error
	LatestDataPoint(ctx context.Context, deviceID string) (models.DataPoint, error)

	// QueryDataPoints returns the device's points with from <= timestamp < to,
	// oldest first. Zero bounds are open.
	QueryDataPoints(ctx context.Context, deviceID string, from, to time.Time) ([]models.DataPoint, error)
}

// Store combines both stores; every provided implementation satisfies it.
type Store interface {
	DeviceStore
	DataPointStore
}
