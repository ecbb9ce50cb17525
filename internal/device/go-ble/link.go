package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/groutine"
)

// link is one established GATT client connection and the handles discovered on it.
type link struct {
	id     string
	client ble.Client
	cancel context.CancelFunc

	mu       sync.Mutex // serializes GATT traffic and guards the handle tables
	services map[string]*ble.Service
	chars    map[string]*ble.Characteristic
}

func newLink(id string, client ble.Client, cancel context.CancelFunc) *link {
	return &link{
		id:       id,
		client:   client,
		cancel:   cancel,
		services: make(map[string]*ble.Service),
		chars:    make(map[string]*ble.Characteristic),
	}
}

func (l *link) close() {
	l.cancel()
	_ = l.client.CancelConnection()
}

// Connect dials the peripheral in the background. The outcome arrives as
// Connected or Disconnected.
func (a *Adapter) Connect(peripheralID string) error {
	dev, ctx, err := a.openDevice()
	if err != nil {
		return err
	}
	if _, ok := a.link(peripheralID); ok {
		return device.ErrAlreadyConnected
	}

	groutine.Go(ctx, "goble-dial", func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
		defer cancel()

		a.logger.WithFields(logrus.Fields{
			"address": peripheralID,
			"timeout": a.opts.ConnectTimeout,
		}).Debug("Dialing BLE device...")

		client, err := dev.Dial(dialCtx, ble.NewAddr(peripheralID))
		if err != nil {
			norm := NormalizeError(err)
			a.logger.WithError(norm).WithField("address", peripheralID).Warn("Failed to dial BLE device")
			a.emit(device.Disconnected{ID: peripheralID, Err: fmt.Errorf("%w: %w", device.ErrConnectionFailed, norm)})
			return
		}

		linkCtx, linkCancel := context.WithCancel(ctx)
		l := newLink(peripheralID, client, linkCancel)

		a.mu.Lock()
		a.links[peripheralID] = l
		a.mu.Unlock()

		a.emit(device.Connected{ID: peripheralID})
		a.monitor(linkCtx, l)
	})
	return nil
}

// Disconnect forgets the link at once and cancels the connection in the
// background, so the peripheral can be dialled again right away.
func (a *Adapter) Disconnect(peripheralID string) error {
	a.mu.Lock()
	l, ok := a.links[peripheralID]
	delete(a.links, peripheralID)
	ctx := a.ctx
	a.mu.Unlock()
	if !ok {
		return device.ErrNotConnected
	}

	a.logger.WithField("address", peripheralID).Debug("Releasing BLE link")
	l.cancel()
	groutine.Go(ctx, "goble-disconnect", func(context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			a.logger.WithError(NormalizeError(err)).WithField("address", peripheralID).Debug("Failed to cancel BLE connection")
		}
	})
	return nil
}

// monitor reports a dropped link once. Links released on purpose are not reported.
func (a *Adapter) monitor(ctx context.Context, l *link) {
	watcher, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		a.logger.Debug("Client does not expose a Disconnected() channel")
		return
	}

	groutine.Go(ctx, "goble-link-monitor", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Disconnected():
		}

		if !a.dropLink(l) {
			return
		}
		a.logger.WithField("address", l.id).Info("BLE link lost")
		l.cancel()
		a.emit(device.Disconnected{ID: l.id, Err: device.ErrConnectionLost})
	})
}

// dropLink forgets l if it is still the current link for its peripheral.
func (a *Adapter) dropLink(l *link) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.links[l.id]; !ok || cur != l {
		return false
	}
	delete(a.links, l.id)
	return true
}

func (a *Adapter) link(id string) (*link, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[id]
	return l, ok
}

// DiscoverServices enumerates the primary services of a connected peripheral.
func (a *Adapter) DiscoverServices(peripheralID string) error {
	l, ok := a.link(peripheralID)
	if !ok {
		return device.ErrNotConnected
	}
	ctx := a.context()

	groutine.Go(ctx, "goble-discover-services", func(ctx context.Context) {
		l.mu.Lock()
		found, err := l.client.DiscoverServices(nil)
		var uuids []string
		if err == nil {
			l.services = make(map[string]*ble.Service, len(found))
			l.chars = make(map[string]*ble.Characteristic)
			for _, svc := range found {
				uuid := device.NormalizeUUID(svc.UUID.String())
				if uuid == "" {
					continue
				}
				l.services[uuid] = svc
				uuids = append(uuids, uuid)
			}
		}
		l.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%w: %w", device.ErrServiceDiscoveryFailed, NormalizeError(err))
		}
		a.emit(device.ServicesDiscovered{ID: peripheralID, Services: uuids, Err: err})
	})
	return nil
}

// DiscoverCharacteristics enumerates the characteristics of one discovered service.
func (a *Adapter) DiscoverCharacteristics(peripheralID, serviceUUID string) error {
	l, ok := a.link(peripheralID)
	if !ok {
		return device.ErrNotConnected
	}
	service := device.NormalizeUUID(serviceUUID)

	l.mu.Lock()
	svc, ok := l.services[service]
	l.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{peripheralID, serviceUUID}}
	}

	groutine.Go(a.context(), "goble-discover-characteristics", func(ctx context.Context) {
		l.mu.Lock()
		found, err := l.client.DiscoverCharacteristics(nil, svc)
		var uuids []string
		if err == nil {
			for _, c := range found {
				uuid := device.NormalizeUUID(c.UUID.String())
				if uuid == "" {
					continue
				}
				l.chars[uuid] = c
				uuids = append(uuids, uuid)
			}
		}
		l.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%w: %w", device.ErrCharacteristicDiscoveryFailed, NormalizeError(err))
		}
		a.emit(device.CharacteristicsDiscovered{ID: peripheralID, Service: service, Characteristics: uuids, Err: err})
	})
	return nil
}

// Write queues payload for transmission. Characteristics that only allow
// write-without-response are written that way.
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

	noRsp := char.Property&ble.CharWrite == 0 && char.Property&ble.CharWriteNR != 0
	data := append([]byte(nil), payload...)

	groutine.Go(a.context(), "goble-write", func(ctx context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.client.WriteCharacteristic(char, data, noRsp); err != nil {
			a.logger.WithError(NormalizeError(err)).WithFields(logrus.Fields{
				"address":        peripheralID,
				"characteristic": uuid,
			}).Warn("BLE write failed")
		}
	})
	return nil
}

func (a *Adapter) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}
