package goble

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/srg/meowctl/internal/device"
)

// CoreBluetooth CBManagerState values reported in "have=N" messages.
const (
	cbStateUnknown      = 0
	cbStateResetting    = 1
	cbStateUnsupported  = 2
	cbStateUnauthorized = 3
	cbStatePoweredOff   = 4
	cbStatePoweredOn    = 5
)

var managerStateRe = regexp.MustCompile(`have=(\d+)`)

// NormalizeError maps known go-ble error strings to the device error taxonomy.
// The original error is wrapped to keep its context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if m := managerStateRe.FindStringSubmatch(msg); m != nil && containsIgnoreCase(msg, "central manager has invalid state") {
		state, _ := strconv.Atoi(m[1])
		switch state {
		case cbStatePoweredOff, cbStateResetting:
			return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
		case cbStateUnauthorized:
			return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
		case cbStateUnsupported:
			return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
		}
	}

	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "no devices available"),
		containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "not authorized"):
		return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "context deadline exceeded"):
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
