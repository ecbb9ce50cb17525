package device

import (
	"errors"
	"fmt"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic", "feature"
	UUIDs    []string // One or more identifiers (e.g., [peripheralID] or [peripheralID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parent := "peripheral"
	if e.Resource == "characteristic" && len(e.UUIDs) > 2 {
		parent = "service"
	}
	return fmt.Sprintf("%s %q not found on %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parent, e.UUIDs[len(e.UUIDs)-2])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectFailed    ConnectionState = "connect_failed"
	LinkLost         ConnectionState = "link_lost"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnectionFailed = &ConnectionError{State: ConnectFailed}
	ErrConnectionLost   = &ConnectionError{State: LinkLost}
)

// Adapter availability errors. Each maps onto a non-PoweredOn PowerState.
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnauthorized = errors.New("bluetooth access is not authorized")
	ErrUnsupported  = errors.New("bluetooth low energy is not supported")
)

// Operation errors
var (
	ErrServiceDiscoveryFailed        = errors.New("service discovery failed")
	ErrCharacteristicDiscoveryFailed = errors.New("characteristic discovery failed")
	ErrWriteRejected                 = errors.New("write rejected")
	ErrTimeout                       = errors.New("timeout")
)

// PowerStateFromError maps a normalized backend error onto the adapter power
// state it implies. Errors unrelated to adapter availability map to Unknown.
func PowerStateFromError(err error) PowerState {
	switch {
	case err == nil:
		return PoweredOn
	case errors.Is(err, ErrBluetoothOff):
		return PoweredOff
	case errors.Is(err, ErrUnauthorized):
		return Unauthorized
	case errors.Is(err, ErrUnsupported):
		return Unsupported
	default:
		return Unknown
	}
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
