package storage

import (
	"context"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/labconnect/lcp-gateway/internal/models"
)

// MemoryStore is the in-process Store. Data points are held in a bounded
// per-device window: once a device reaches the cap, the oldest point is
// evicted for each new one.
type MemoryStore struct {
	devices cmap.ConcurrentMap[string, models.DeviceRecord]

	mu        sync.RWMutex
	points    map[string][]models.DataPoint
	maxPoints int
}

// NewMemoryStore creates a store retaining at most maxPointsPerDevice data
// points per device.
func NewMemoryStore(maxPointsPerDevice int) *MemoryStore {
	if maxPointsPerDevice <= 0 {
		maxPointsPerDevice = 1000
	}
	return &MemoryStore{
		devices:   cmap.New[models.DeviceRecord](),
		points:    make(map[string][]models.DataPoint),
		maxPoints: maxPointsPerDevice,
	}
}

// SaveDevice inserts or replaces the device record.
func (s *MemoryStore) SaveDevice(ctx context.Context, record models.DeviceRecord) error {
	s.devices.Set(record.DeviceID, record)
	return nil
}

// GetDevice returns the record or ErrNotFound.
func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (models.DeviceRecord, error) {
	record, ok := s.devices.Get(deviceID)
	if !ok {
		return models.DeviceRecord{}, ErrNotFound
	}
	return record, nil
}

// ListDevices returns every stored record, archived ones included.
func (s *MemoryStore) ListDevices(ctx context.Context) ([]models.DeviceRecord, error) {
	records := make([]models.DeviceRecord, 0, s.devices.Count())
	for item := range s.devices.IterBuffered() {
		records = append(records, item.Val)
	}
	return records, nil
}

// UpdateStatus mutates the stored record's status and last-seen timestamp.
func (s *MemoryStore) UpdateStatus(ctx context.Context, deviceID string, status models.DeviceStatus, lastSeen time.Time) error {
	record, ok := s.devices.Get(deviceID)
	if !ok {
		return ErrNotFound
	}
	record.Status = status
	if !lastSeen.IsZero() {
		record.LastSeen = lastSeen
	}
	s.devices.Set(deviceID, record)
	return nil
}

// SaveDataPoint appends the point to the device's window, evicting the
// oldest point once the cap is reached.
func (s *MemoryStore) SaveDataPoint(ctx context.Context, point models.DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.points[point.DeviceID]
	if len(window) >= s.maxPoints {
		copy(window, window[1:])
		window = window[:len(window)-1]
	}
	s.points[point.DeviceID] = append(window, point)
	return nil
}

// LatestDataPoint returns the most recently stored point for the device.
func (s *MemoryStore) LatestDataPoint(ctx context.Context, deviceID string) (models.DataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.points[deviceID]
	if len(window) == 0 {
		return models.DataPoint{}, ErrNotFound
	}
	return window[len(window)-1], nil
}

// QueryDataPoints returns the device's points inside [from, to), oldest
// first. Points arrive in storage order; out-of-order timestamps are kept
// as received.
func (s *MemoryStore) QueryDataPoints(ctx context.Context, deviceID string, from, to time.Time) ([]models.DataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.DataPoint
	for _, point := range s.points[deviceID] {
		if !from.IsZero() && point.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !point.Timestamp.Before(to) {
			continue
		}
		result = append(result, point)
	}
	return result, nil
}
