package tinygo

import (
	"errors"
	"fmt"
	"strconv"

	"tinygo.org/x/bluetooth"
)

// radio is the slice of the tinygo stack the adapter drives. Its concrete
// types carry platform state, so the adapter talks to them through here.
type radio interface {
	Enable() error
	Scan(handler func(scanResult)) error
	StopScan() error
	Connect(address string) (peer, error)
	OnDisconnect(handler func(address string))
}

type peer interface {
	DiscoverServices() ([]service, error)
	Disconnect() error
}

type service interface {
	UUID() string
	DiscoverCharacteristics() ([]characteristic, error)
}

type characteristic interface {
	UUID() string
	Write(payload []byte) error
}

type scanResult struct {
	Address string
	Name    string
	RSSI    int
	// Advertises reports whether the given normalized service UUID is advertised.
	Advertises func(uuid string) bool
}

// stackRadio binds radio to a tinygo adapter.
type stackRadio struct {
	adapter *bluetooth.Adapter
}

func newStackRadio() *stackRadio {
	return &stackRadio{adapter: bluetooth.DefaultAdapter}
}

func (r *stackRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *stackRadio) Scan(handler func(scanResult)) error {
	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		handler(scanResult{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
			Advertises: func(uuid string) bool {
				u, err := parseUUID(uuid)
				return err == nil && result.HasServiceUUID(u)
			},
		})
	})
}

func (r *stackRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *stackRadio) Connect(address string) (peer, error) {
	var addr bluetooth.Address
	addr.Set(address)
	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return stackPeer{dev: dev}, nil
}

func (r *stackRadio) OnDisconnect(handler func(address string)) {
	r.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if !connected {
			handler(dev.Address.String())
		}
	})
}

type stackPeer struct {
	dev bluetooth.Device
}

func (p stackPeer) DiscoverServices() ([]service, error) {
	found, err := p.dev.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	out := make([]service, 0, len(found))
	for _, svc := range found {
		out = append(out, stackService{svc: svc})
	}
	return out, nil
}

func (p stackPeer) Disconnect() error {
	return p.dev.Disconnect()
}

type stackService struct {
	svc bluetooth.DeviceService
}

func (s stackService) UUID() string {
	return s.svc.UUID().String()
}

func (s stackService) DiscoverCharacteristics() ([]characteristic, error) {
	found, err := s.svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, err
	}
	out := make([]characteristic, 0, len(found))
	for _, c := range found {
		out = append(out, stackCharacteristic{char: c})
	}
	return out, nil
}

type stackCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c stackCharacteristic) UUID() string {
	return c.char.UUID().String()
}

func (c stackCharacteristic) Write(payload []byte) error {
	_, err := c.char.WriteWithoutResponse(payload)
	return err
}

// parseUUID converts a normalized UUID into the stack's representation.
func parseUUID(normalized string) (bluetooth.UUID, error) {
	switch len(normalized) {
	case 4:
		v, err := strconv.ParseUint(normalized, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, err
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(normalized, 16, 32)
		if err != nil {
			return bluetooth.UUID{}, err
		}
		return bluetooth.New32BitUUID(uint32(v)), nil
	case 32:
		n := normalized
		return bluetooth.ParseUUID(n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:32])
	default:
		return bluetooth.UUID{}, fmt.Errorf("%w: %q", errInvalidUUID, normalized)
	}
}

var errInvalidUUID = errors.New("invalid UUID")
