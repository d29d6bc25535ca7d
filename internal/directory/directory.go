package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/storage"
)

// Registry is the adapter registry surface the directory consumes.
// *registry.AdapterRegistry implements it.
type Registry interface {
	RegisterDevice(ctx context.Context, record models.DeviceRecord) error
	SendCommand(ctx context.Context, deviceID, command string, parameters map[string]interface{}) (models.CommandOutcome, error)
	FetchData(ctx context.Context, deviceID string) (models.DataPoint, error)
	ArchiveDevice(deviceID string) error
	ReactivateDevice(deviceID string) error
}

// Service is the thin external-facing device directory. It fulfills
// register/status/data/command requests by combining the registry with the
// storage layer; all transport work stays behind the registry.
type Service struct {
	registry Registry
	store    storage.Store
	logger   zerolog.Logger
}

// NewService creates the directory over a registry and a store.
func NewService(registry Registry, store storage.Store, logger zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		store:    store,
		logger:   logger,
	}
}

// Register routes the record through the registry and persists it. An empty
// device id is assigned a generated one; the completed record is returned.
func (s *Service) Register(ctx context.Context, record models.DeviceRecord) (models.DeviceRecord, error) {
	if record.DeviceID == "" {
		record.DeviceID = uuid.NewString()
	}
	record.Status = models.StatusRegistered

	if err := s.registry.RegisterDevice(ctx, record); err != nil {
		return models.DeviceRecord{}, err
	}

	if err := s.store.SaveDevice(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("device_id", record.DeviceID).Msg("Failed to persist device record")
		return models.DeviceRecord{}, fmt.Errorf("failed to persist device %q: %w", record.DeviceID, err)
	}

	return record, nil
}

// Get returns one stored device record.
func (s *Service) Get(ctx context.Context, deviceID string) (models.DeviceRecord, error) {
	return s.store.GetDevice(ctx, deviceID)
}

// List returns every stored device record.
func (s *Service) List(ctx context.Context) ([]models.DeviceRecord, error) {
	return s.store.ListDevices(ctx)
}

// Archive retires the device. Its record and historical data points are
// kept; only the live adapter binding is torn down.
func (s *Service) Archive(ctx context.Context, deviceID string) error {
	if err := s.registry.ArchiveDevice(deviceID); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(ctx, deviceID, models.StatusArchived, time.Time{}); err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to persist archived status")
	}
	return nil
}

// Reactivate releases the archived identity and re-registers the device
// with its stored record.
func (s *Service) Reactivate(ctx context.Context, deviceID string) (models.DeviceRecord, error) {
	record, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return models.DeviceRecord{}, err
	}

	if err := s.registry.ReactivateDevice(deviceID); err != nil {
		return models.DeviceRecord{}, err
	}

	record.Status = models.StatusRegistered
	record.Replace = false
	if err := s.registry.RegisterDevice(ctx, record); err != nil {
		return models.DeviceRecord{}, err
	}
	if err := s.store.SaveDevice(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to persist reactivated record")
	}

	return record, nil
}

// SendCommand dispatches a command through the registry.
func (s *Service) SendCommand(ctx context.Context, deviceID, command string, parameters map[string]interface{}) (models.CommandOutcome, error) {
	return s.registry.SendCommand(ctx, deviceID, command, parameters)
}

// FetchNow performs a synchronous read through the registry and stores the
// resulting point.
func (s *Service) FetchNow(ctx context.Context, deviceID string) (models.DataPoint, error) {
	point, err := s.registry.FetchData(ctx, deviceID)
	if err != nil {
		return models.DataPoint{}, err
	}
	s.storePoint(ctx, point)
	return point, nil
}

// LatestData returns the device's most recent stored reading.
func (s *Service) LatestData(ctx context.Context, deviceID string) (models.DataPoint, error) {
	return s.store.LatestDataPoint(ctx, deviceID)
}

// QueryData returns the device's stored readings inside [from, to).
func (s *Service) QueryData(ctx context.Context, deviceID string, from, to time.Time) ([]models.DataPoint, error) {
	return s.store.QueryDataPoints(ctx, deviceID, from, to)
}

// HandleDataPoint is the inbound callback handed to the registry at
// construction. Receipt of data means the device is online. Storage
// failures are logged, never propagated: there is no caller to fail for an
// inbound event.
func (s *Service) HandleDataPoint(point models.DataPoint) {
	ctx := context.Background()
	s.storePoint(ctx, point)
	if err := s.store.UpdateStatus(ctx, point.DeviceID, models.StatusOnline, point.Timestamp); err != nil {
		s.logger.Warn().Err(err).Str("device_id", point.DeviceID).Msg("Failed to update device status")
	}
}

func (s *Service) storePoint(ctx context.Context, point models.DataPoint) {
	if err := s.store.SaveDataPoint(ctx, point); err != nil {
		s.logger.Error().Err(err).Str("device_id", point.DeviceID).Msg("Failed to persist data point")
	}
}
