// Package goble implements device.Adapter on top of github.com/go-ble/ble
// (CoreBluetooth on macOS, HCI sockets on Linux).
package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/groutine"
)

const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultPowerPollInterval = 2 * time.Second
	DefaultEventBuffer       = 64
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDefaultDevice

// Options tunes the adapter. Zero values select defaults.
type Options struct {
	ConnectTimeout    time.Duration
	PowerPollInterval time.Duration
	AllowDuplicates   bool
	EventBuffer       int
	Logger            *logrus.Logger
}

// Adapter drives one ble.Device. Every request runs on its own named
// goroutine and reports back through Events.
type Adapter struct {
	opts    Options
	logger  *logrus.Logger
	events  chan device.Event
	factory func() (ble.Device, error)

	mu         sync.Mutex
	ctx        context.Context
	dev        ble.Device
	power      device.PowerState
	probing    bool
	scanCancel context.CancelFunc
	scanGen    uint64
	links      map[string]*link
}

var _ device.Adapter = (*Adapter)(nil)

// New creates an adapter. Start must be called before any request.
func New(opts Options) *Adapter {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
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
		opts:    opts,
		logger:  opts.Logger,
		events:  make(chan device.Event, opts.EventBuffer),
		factory: DeviceFactory,
		links:   make(map[string]*link),
		ctx:     context.Background(),
	}
}

func (a *Adapter) Events() <-chan device.Event {
	return a.events
}

// Start begins probing the radio. The first power state is reported as soon
// as the device has been created or has failed to be.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.startPowerPoll()

	groutine.Go(ctx, "goble-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		a.release()
	})
	return nil
}

// startPowerPoll keeps trying to open the device until it succeeds or ctx ends.
func (a *Adapter) startPowerPoll() {
	a.mu.Lock()
	if a.probing {
		a.mu.Unlock()
		return
	}
	a.probing = true
	ctx := a.ctx
	a.mu.Unlock()

	groutine.Go(ctx, "goble-power-poll", func(ctx context.Context) {
		ticker := time.NewTicker(a.opts.PowerPollInterval)
		defer ticker.Stop()

		for {
			dev, err := a.factory()
			if err == nil {
				a.mu.Lock()
				a.dev = dev
				a.probing = false
				a.mu.Unlock()
				a.setPower(device.PoweredOn)
				return
			}

			norm := NormalizeError(err)
			a.logger.WithError(norm).Debug("Bluetooth device not available")
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

// setPower records and reports a power state if it differs from the last one.
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

// powerLost tears down the device and every link, reports state, and resumes probing.
func (a *Adapter) powerLost(state device.PowerState) {
	a.release()
	a.setPower(state)
	a.startPowerPoll()
}

// release stops scanning, cancels every link and stops the device.
func (a *Adapter) release() {
	a.mu.Lock()
	dev := a.dev
	a.dev = nil
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	links := a.links
	a.links = make(map[string]*link)
	a.mu.Unlock()

	for _, l := range links {
		l.close()
	}
	if dev != nil {
		if err := dev.Stop(); err != nil {
			a.logger.WithError(err).Debug("Failed to stop BLE device")
		}
	}
}

// emit delivers an event in order, giving up only when the adapter context ends.
func (a *Adapter) emit(ev device.Event) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}

// openDevice returns the open device or ErrBluetoothOff.
func (a *Adapter) openDevice() (ble.Device, context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil, nil, device.ErrBluetoothOff
	}
	return a.dev, a.ctx, nil
}

// handleRadioError turns errors that imply the radio went away into a power change.
// It reports whether the error was consumed that way.
func (a *Adapter) handleRadioError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	state := device.PowerStateFromError(err)
	if state == device.Unknown || state == device.PoweredOn {
		return false
	}
	a.logger.WithError(err).Warn("Bluetooth radio became unavailable")
	a.powerLost(state)
	return true
}
