package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/labconnect/lcp-gateway/internal/models"
)

// Registry is a mock implementation of the directory.Registry interface.
type Registry struct {
	mock.Mock
}

func (m *Registry) RegisterDevice(ctx context.Context, record models.DeviceRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *Registry) SendCommand(ctx context.Context, deviceID, command string, parameters map[string]interface{}) (models.CommandOutcome, error) {
	args := m.Called(ctx, deviceID, command, parameters)
	return args.Get(0).(models.CommandOutcome), args.Error(1)
}

func (m *Registry) FetchData(ctx context.Context, deviceID string) (models.DataPoint, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(models.DataPoint), args.Error(1)
}

func (m *Registry) ArchiveDevice(deviceID string) error {
	args := m.Called(deviceID)
	return args.Error(0)
}

func (m *Registry) ReactivateDevice(deviceID string) error {
	args := m.Called(deviceID)
	return args.Error(0)
}
