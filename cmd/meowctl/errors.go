package main

import (
	"errors"
	"fmt"

	"github.com/srg/meowctl/internal/catalog"
	"github.com/srg/meowctl/internal/central"
	"github.com/srg/meowctl/internal/device"
)

// Command-level errors
var (
	ErrUnknownRoutine = errors.New("unknown routine")
	ErrInvalidValue   = errors.New("invalid value")
)

// FormatUserError renders err for the terminal, adding a hint for the
// failures users can fix themselves.
func FormatUserError(err error) string {
	msg := err.Error()

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%s (turn Bluetooth on and try again)", msg)
	case errors.Is(err, device.ErrUnauthorized):
		return fmt.Sprintf("%s (grant this terminal Bluetooth access in system settings)", msg)
	case errors.Is(err, central.ErrPeripheralNotReady):
		return fmt.Sprintf("%s (is the toy switched on and in range?)", msg)
	case errors.Is(err, catalog.ErrUnknownFeature):
		return fmt.Sprintf("%s (run 'meowctl features' for the list)", msg)
	case errors.Is(err, ErrUnknownRoutine):
		return fmt.Sprintf("%s (run 'meowctl play --list' for the list)", msg)
	default:
		return msg
	}
}
