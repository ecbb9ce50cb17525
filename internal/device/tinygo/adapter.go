// Package tinygo implements device.Adapter on top of tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows).
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/groutine"
)

const (
	DefaultPowerPollInterval = 2 * time.Second
	DefaultEventBuffer       = 64
)

type Options struct {
	PowerPollInterval time.Duration
	EventBuffer       int
	Logger            *logrus.Logger
}

// Adapter drives the process-wide tinygo Bluetooth adapter.
type Adapter struct {
	opts   Options
	logger *logrus.Logger
	events chan device.Event
	radio  radio

	mu       sync.Mutex
	ctx      context.Context
	enabled  bool
	power    device.PowerState
	probing  bool
	scanning bool
	scanGen  uint64
	links    map[string]*link
}

var _ device.Adapter = (*Adapter)(nil)

type link struct {
	id   string
	peer peer

	mu       sync.Mutex
	services map[string]service
	chars    map[string]characteristic
}

// New creates an adapter bound to bluetooth.DefaultAdapter.
func New(opts Options) *Adapter {
	return newAdapter(newStackRadio(), opts)
}

func newAdapter(r radio, opts Options) *Adapter {
	if opts.PowerPollInterval <= 0 {
		opts.PowerPollInterval = DefaultPowerPollInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Adapter{
		opts:   opts,
		logger: opts.Logger,
		events: make(chan device.Event, opts.EventBuffer),
		radio:  r,
		ctx:    context.Background(),
		links:  make(map[string]*link),
	}
}

func (a *Adapter) Events() <-chan device.Event {
	return a.events
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.radio.OnDisconnect(a.onLinkDown)
	a.startPowerPoll()

	groutine.Go(ctx, "tinygo-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		a.release()
	})
	return nil
}

func (a *Adapter) startPowerPoll() {
	a.mu.Lock()
	if a.probing {
		a.mu.Unlock()
		return
	}
	a.probing = true
	ctx := a.ctx
	a.mu.Unlock()

	groutine.Go(ctx, "tinygo-power-poll", func(ctx context.Context) {
		ticker := time.NewTicker(a.opts.PowerPollInterval)
		defer ticker.Stop()

		for {
			err := a.radio.Enable()
			if err == nil {
				a.mu.Lock()
				a.enabled = true
				a.probing = false
				a.mu.Unlock()
				a.setPower(device.PoweredOn)
				return
			}

			norm := normalizeError(err)
			a.logger.WithError(norm).Debug("Bluetooth adapter not available")
			a.setPower(device.PowerStateFromError(norm))

			select {
			case <-ctx.Done():
				a.mu.Lock()
				a.probing = false
				a.mu.Unlock()
				return
			case <-ticker.C:
			}
		}
	})
}

func (a *Adapter) setPower(state device.PowerState) {
	a.mu.Lock()
	changed := a.power != state
	a.power = state
	a.mu.Unlock()

	if changed {
		a.logger.WithField("power", state.String()).Debug("Bluetooth power state changed")
		a.emit(device.PowerStateChanged{State: state})
	}
}

// release stops scanning and drops every link without reporting them.
func (a *Adapter) release() {
	a.mu.Lock()
	a.enabled = false
	wasScanning := a.scanning
	a.scanning = false
	a.scanGen++
	links := a.links
	a.links = make(map[string]*link)
	a.mu.Unlock()

	if wasScanning {
		_ = a.radio.StopScan()
	}
	for _, l := range links {
		if err := l.peer.Disconnect(); err != nil {
			a.logger.WithError(err).WithField("address", l.id).Debug("Failed to disconnect peripheral")
		}
	}
}

func (a *Adapter) emit(ev device.Event) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}

func (a *Adapter) isEnabled() (context.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx, a.enabled
}

// StartScan runs the stack's blocking scan on its own goroutine.
func (a *Adapter) StartScan(filter device.ScanFilter) error {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return device.ErrBluetoothOff
	}
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = true
	a.scanGen++
	gen := a.scanGen
	ctx := a.ctx
	a.mu.Unlock()

	groutine.Go(ctx, "tinygo-scan", func(ctx context.Context) {
		err := a.radio.Scan(func(res scanResult) {
			a.onScanResult(filter, res)
		})

		a.mu.Lock()
		current := a.scanGen == gen
		if current {
			a.scanning = false
		}
		a.mu.Unlock()

		if err == nil || !current {
			return
		}
		norm := normalizeError(err)
		state := device.PowerStateFromError(norm)
		if state == device.Unknown || state == device.PoweredOn {
			a.logger.WithError(norm).Warn("BLE scan stopped unexpectedly")
			return
		}
		a.logger.WithError(norm).Warn("Bluetooth radio became unavailable")
		a.release()
		a.setPower(state)
		a.startPowerPoll()
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	if !a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = false
	a.scanGen++
	a.mu.Unlock()

	return a.radio.StopScan()
}

func (a *Adapter) onScanResult(filter device.ScanFilter, res scanResult) {
	var services []string
	for _, uuid := range filter.ServiceUUIDs {
		if res.Advertises != nil && res.Advertises(uuid) {
			services = append(services, uuid)
		}
	}
	if !filter.Accept(res.Name, services) {
		return
	}
	a.emit(device.AdvertisementReceived{
		ID:           res.Address,
		Name:         res.Name,
		ServiceUUIDs: services,
		RSSI:         res.RSSI,
	})
}

func (a *Adapter) Connect(peripheralID string) error {
	ctx, ok := a.isEnabled()
	if !ok {
		return device.ErrBluetoothOff
	}
	if _, ok := a.link(peripheralID); ok {
		return device.ErrAlreadyConnected
	}

	groutine.Go(ctx, "tinygo-connect", func(ctx context.Context) {
		a.logger.WithField("address", peripheralID).Debug("Connecting to BLE device...")
		p, err := a.radio.Connect(peripheralID)
		if err != nil {
			norm := normalizeError(err)
			a.logger.WithError(norm).WithField("address", peripheralID).Warn("Failed to connect to BLE device")
			a.emit(device.Disconnected{ID: peripheralID, Err: fmt.Errorf("%w: %w", device.ErrConnectionFailed, norm)})
			return
		}

		a.mu.Lock()
		a.links[peripheralID] = &link{
			id:       peripheralID,
			peer:     p,
			services: make(map[string]service),
			chars:    make(map[string]characteristic),
		}
		a.mu.Unlock()
		a.emit(device.Connected{ID: peripheralID})
	})
	return nil
}

// Disconnect forgets the link before the stack tears it down, so onLinkDown
// stays quiet for it.
func (a *Adapter) Disconnect(peripheralID string) error {
	a.mu.Lock()
	l, ok := a.links[peripheralID]
	delete(a.links, peripheralID)
	ctx := a.ctx
	a.mu.Unlock()
	if !ok {
		return device.ErrNotConnected
	}

	groutine.Go(ctx, "tinygo-disconnect", func(context.Context) {
		if err := l.peer.Disconnect(); err != nil {
			a.logger.WithError(normalizeError(err)).WithField("address", peripheralID).Debug("Failed to disconnect peripheral")
		}
	})
	return nil
}

// onLinkDown runs on the stack's callback when a connection ends.
func (a *Adapter) onLinkDown(address string) {
	a.mu.Lock()
	_, ok := a.links[address]
	delete(a.links, address)
	a.mu.Unlock()

	if !ok {
		return
	}
	a.logger.WithField("address", address).Info("BLE link lost")
	a.emit(device.Disconnected{ID: address, Err: device.ErrConnectionLost})
}

func (a *Adapter) link(id string) (*link, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[id]
	return l, ok
}

func (a *Adapter) DiscoverServices(peripheralID string) error {
	l, ok := a.link(peripheralID)
	if !ok {
		return device.ErrNotConnected
	}
	ctx, _ := a.isEnabled()

	groutine.Go(ctx, "tinygo-discover-services", func(ctx context.Context) {
		l.mu.Lock()
		found, err := l.peer.DiscoverServices()
		var uuids []string
		if err == nil {
			l.services = make(map[string]service, len(found))
			l.chars = make(map[string]characteristic)
			for _, svc := range found {
				uuid := device.NormalizeUUID(svc.UUID())
				if uuid == "" {
					continue
				}
				l.services[uuid] = svc
				uuids = append(uuids, uuid)
			}
		}
		l.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%w: %w", device.ErrServiceDiscoveryFailed, normalizeError(err))
		}
		a.emit(device.ServicesDiscovered{ID: peripheralID, Services: uuids, Err: err})
	})
	return nil
}

func (a *Adapter) DiscoverCharacteristics(peripheralID, serviceUUID string) error {
	l, ok := a.link(peripheralID)
	if !ok {
		return device.ErrNotConnected
	}
	uuid := device.NormalizeUUID(serviceUUID)

	l.mu.Lock()
	svc, ok := l.services[uuid]
	l.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{peripheralID, serviceUUID}}
	}
	ctx, _ := a.isEnabled()

	groutine.Go(ctx, "tinygo-discover-characteristics", func(ctx context.Context) {
		l.mu.Lock()
		found, err := svc.DiscoverCharacteristics()
		var uuids []string
		if err == nil {
			for _, c := range found {
				cu := device.NormalizeUUID(c.UUID())
				if cu == "" {
					continue
				}
				l.chars[cu] = c
				uuids = append(uuids, cu)
			}
		}
		l.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%w: %w", device.ErrCharacteristicDiscoveryFailed, normalizeError(err))
		}
		a.emit(device.CharacteristicsDiscovered{ID: peripheralID, Service: uuid, Characteristics: uuids, Err: err})
	})
	return nil
}

func (a *Adapter) Write(peripheralID, characteristicUUID string, payload []byte) error {
	l, ok := a.link(peripheralID)
	if !ok {
		return fmt.Errorf("%w: %w", device.ErrWriteRejected, device.ErrNotConnected)
	}
	uuid := device.NormalizeUUID(characteristicUUID)

	l.mu.Lock()
	char, ok := l.chars[uuid]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %w", device.ErrWriteRejected,
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{peripheralID, characteristicUUID}})
	}

	data := append([]byte(nil), payload...)
	ctx, _ := a.isEnabled()
	groutine.Go(ctx, "tinygo-write", func(ctx context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := char.Write(data); err != nil {
			a.logger.WithError(normalizeError(err)).WithFields(logrus.Fields{
				"address":        peripheralID,
				"characteristic": uuid,
			}).Warn("BLE write failed")
		}
	})
	return nil
}

// normalizeError maps tinygo stack errors onto the device error taxonomy.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if device.PowerStateFromError(err) != device.Unknown || errors.Is(err, device.ErrTimeout) {
		return err
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "powered off", "turned off", "not powered", "poweredoff"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsAny(msg, "not authorized", "permission denied", "unauthorized", "accessdenied"):
		return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
	case containsAny(msg, "no adapter", "not supported", "unsupported", "no bluetooth"):
		return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	default:
		return err
	}
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
