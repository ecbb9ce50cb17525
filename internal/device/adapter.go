package device

import (
	"context"
	"strings"
)

// PowerState is the process-wide radio state reported by an Adapter.
type PowerState int

const (
	Unknown PowerState = iota
	PoweredOff
	PoweredOn
	Unauthorized
	Unsupported
)

func (s PowerState) String() string {
	switch s {
	case PoweredOff:
		return "poweredOff"
	case PoweredOn:
		return "poweredOn"
	case Unauthorized:
		return "unauthorized"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s PowerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ScanFilter decides which advertisements are worth managing.
// It is built once from configuration and never mutated afterwards.
type ScanFilter struct {
	NamePrefix   string
	ServiceUUIDs []string // normalized; any one of them must be advertised
}

// NewScanFilter normalizes the service UUIDs of a filter.
func NewScanFilter(prefix string, serviceUUIDs ...string) ScanFilter {
	return ScanFilter{
		NamePrefix:   prefix,
		ServiceUUIDs: NormalizeUUIDs(serviceUUIDs),
	}
}

// Accept evaluates the filter against an advertised name and service list.
// An empty prefix accepts nothing.
func (f ScanFilter) Accept(name string, serviceUUIDs []string) bool {
	if f.NamePrefix == "" || !strings.HasPrefix(name, f.NamePrefix) {
		return false
	}
	if len(f.ServiceUUIDs) == 0 {
		return true
	}
	for _, advertised := range serviceUUIDs {
		normalized := NormalizeUUID(advertised)
		for _, required := range f.ServiceUUIDs {
			if normalized == required {
				return true
			}
		}
	}
	return false
}

// Adapter is the capability set the controller requires from a BLE stack.
//
// Every operation except Write is a request: it returns as soon as the request
// is issued, and its outcome is reported later on Events(). A non-nil return
// value means the request could not even be issued.
type Adapter interface {
	// Start powers the radio up and begins reporting events until ctx is done.
	Start(ctx context.Context) error
	// Events delivers power, advertisement, link and discovery events in order.
	Events() <-chan Event

	StartScan(filter ScanFilter) error
	StopScan() error

	Connect(peripheralID string) error
	// Disconnect releases the link to the peripheral. No Disconnected event
	// follows; the caller already considers the link gone.
	Disconnect(peripheralID string) error
	DiscoverServices(peripheralID string) error
	DiscoverCharacteristics(peripheralID, serviceUUID string) error

	// Write hands payload to the stack for transmission. A nil result means the
	// write was accepted, not that the peripheral executed it.
	Write(peripheralID, characteristicUUID string, payload []byte) error
}
