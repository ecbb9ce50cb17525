package central

import (
	"errors"
	"fmt"

	"github.com/srg/meowctl/internal/catalog"
	"github.com/srg/meowctl/internal/device"
)

// Dispatch-time errors. They are returned to the caller and never change
// peripheral state.
var (
	ErrPeripheralNotReady     = errors.New("peripheral not ready")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrUnknownFeature         = catalog.ErrUnknownFeature
	ErrUnsupportedCommand     = catalog.ErrUnsupportedCommand
	ErrWriteRejected          = device.ErrWriteRejected
)

// Lifecycle errors.
var (
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrAlreadyRunning     = errors.New("manager is already running")
	ErrManagerStopped     = errors.New("manager stopped")
	ErrEventStreamClosed  = errors.New("adapter event stream closed")
)

// Peripheral-local failures recorded as a record's last error.
var (
	ErrConnectionFailed              = device.ErrConnectionFailed
	ErrConnectionLost                = device.ErrConnectionLost
	ErrServiceDiscoveryFailed        = device.ErrServiceDiscoveryFailed
	ErrCharacteristicDiscoveryFailed = device.ErrCharacteristicDiscoveryFailed
)

// wrapAs returns err annotated with sentinel unless it already matches it.
func wrapAs(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
