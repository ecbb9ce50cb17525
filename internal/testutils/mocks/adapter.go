// Package mocks holds testify mocks of the interfaces in internal/device.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/srg/meowctl/internal/device"
)

// MockAdapter is a mock of device.Adapter.
type MockAdapter struct {
	mock.Mock
}

var _ device.Adapter = (*MockAdapter)(nil)

// NewMockAdapter creates a MockAdapter whose expectations are asserted on test cleanup.
func NewMockAdapter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAdapter {
	m := &MockAdapter{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockAdapter) Start(ctx context.Context) error {
	ret := _m.Called(ctx)
	return ret.Error(0)
}

func (_m *MockAdapter) Events() <-chan device.Event {
	ret := _m.Called()
	if ch, ok := ret.Get(0).(<-chan device.Event); ok {
		return ch
	}
	if ch, ok := ret.Get(0).(chan device.Event); ok {
		return ch
	}
	return nil
}

func (_m *MockAdapter) StartScan(filter device.ScanFilter) error {
	ret := _m.Called(filter)
	return ret.Error(0)
}

func (_m *MockAdapter) StopScan() error {
	ret := _m.Called()
	return ret.Error(0)
}

func (_m *MockAdapter) Connect(peripheralID string) error {
	ret := _m.Called(peripheralID)
	if rf, ok := ret.Get(0).(func(string) error); ok {
		return rf(peripheralID)
	}
	return ret.Error(0)
}

func (_m *MockAdapter) Disconnect(peripheralID string) error {
	ret := _m.Called(peripheralID)
	if rf, ok := ret.Get(0).(func(string) error); ok {
		return rf(peripheralID)
	}
	return ret.Error(0)
}

func (_m *MockAdapter) DiscoverServices(peripheralID string) error {
	ret := _m.Called(peripheralID)
	return ret.Error(0)
}

func (_m *MockAdapter) DiscoverCharacteristics(peripheralID, serviceUUID string) error {
	ret := _m.Called(peripheralID, serviceUUID)
	return ret.Error(0)
}

func (_m *MockAdapter) Write(peripheralID, characteristicUUID string, payload []byte) error {
	ret := _m.Called(peripheralID, characteristicUUID, payload)
	return ret.Error(0)
}
