// Package central is the BLE central controller: it owns adapter power state,
// scan filtering, the per-peripheral connection lifecycle, service and
// characteristic discovery, and feature command dispatch.
//
// All registry mutation happens on the single goroutine running Manager.Run.
// Consumers read immutable snapshots and submit dispatch requests that are
// marshaled onto that goroutine.
package central

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/catalog"
	"github.com/srg/meowctl/internal/device"
)

const (
	defaultRequestBuffer    = 16
	defaultSubscriberBuffer = 64
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Filter  device.ScanFilter
	Catalog *catalog.Catalog
	Logger  *logrus.Logger

	// SubscriberBuffer is the per-subscriber change backlog.
	SubscriberBuffer int

	// Now is the clock used for snapshot timestamps.
	Now func() time.Time
}

type dispatchRequest struct {
	peripheralID string
	feature      string
	on           bool
	reply        chan error
}

// Manager drives one Adapter and keeps the peripheral registry.
type Manager struct {
	adapter device.Adapter
	filter  device.ScanFilter
	catalog *catalog.Catalog
	logger  *logrus.Logger

	registry *registry
	notifier *notifier
	subBuf   int

	requests chan dispatchRequest
	done     chan struct{}
	running  atomic.Bool

	// Loop-owned state.
	power    device.PowerState
	scanning bool
	sweep    map[string]struct{} // reconnect attempts issued on the last PoweredOn

	powerView atomic.Int32
}

// NewManager creates a manager for adapter. Run must be called to start it.
func NewManager(adapter device.Adapter, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}

	return &Manager{
		adapter:  adapter,
		filter:   opts.Filter,
		catalog:  opts.Catalog,
		logger:   opts.Logger,
		registry: newRegistry(opts.Now),
		notifier: newNotifier(),
		subBuf:   opts.SubscriberBuffer,
		requests: make(chan dispatchRequest, defaultRequestBuffer),
		done:     make(chan struct{}),
		sweep:    make(map[string]struct{}),
		power:    device.Unknown,
	}
}

// Run starts the adapter and processes its events and dispatch requests until
// ctx is cancelled or the adapter closes its event stream. It may be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		close(m.done)
		m.notifier.close()
	}()

	if err := m.adapter.Start(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}

	m.logger.WithField("filter", m.filter.NamePrefix).Debug("Central manager started")

	events := m.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				m.logger.Warn("Adapter event stream closed")
				return ErrEventStreamClosed
			}
			m.handle(ev)

		case req := <-m.requests:
			req.reply <- m.dispatch(req.peripheralID, req.feature, req.on)
		}
	}
}

// Done is closed when Run returns.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) shutdown() {
	if m.scanning {
		if err := m.adapter.StopScan(); err != nil {
			m.logger.WithError(err).Debug("Failed to stop scan on shutdown")
		}
		m.scanning = false
	}
}

// handle applies one adapter event. Events for peripherals that are unknown,
// or that no longer match the record's state, are stale and dropped.
func (m *Manager) handle(ev device.Event) {
	switch e := ev.(type) {
	case device.PowerStateChanged:
		m.onPowerState(e.State)
	case device.AdvertisementReceived:
		m.onAdvertisement(e)
	case device.Connected:
		m.onConnected(e.ID)
	case device.Disconnected:
		m.onDisconnected(e.ID, e.Err)
	case device.ServicesDiscovered:
		m.onServicesDiscovered(e)
	case device.CharacteristicsDiscovered:
		m.onCharacteristicsDiscovered(e)
	default:
		m.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Ignoring unknown adapter event")
	}
}

// Dispatch writes the command for feature to the peripheral. It returns once the
// write has been handed to the adapter; success means accepted for
// transmission, not executed by the device.
func (m *Manager) Dispatch(ctx context.Context, peripheralID, feature string, on bool) error {
	req := dispatchRequest{
		peripheralID: peripheralID,
		feature:      feature,
		on:           on,
		reply:        make(chan error, 1),
	}

	select {
	case m.requests <- req:
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListPeripherals returns every managed peripheral in the order it was first accepted.
func (m *Manager) ListPeripherals() []Peripheral {
	return m.registry.list()
}

// Peripheral returns the snapshot of one peripheral.
func (m *Manager) Peripheral(id string) (Peripheral, bool) {
	return m.registry.view(id)
}

// ListCharacteristics returns the discovered characteristics of a peripheral.
// The list is empty unless the peripheral is Ready.
func (m *Manager) ListCharacteristics(id string) ([]Characteristic, error) {
	p, ok := m.registry.view(id)
	if !ok {
		return nil, &device.NotFoundError{Resource: "peripheral", UUIDs: []string{id}}
	}
	return p.Characteristics, nil
}

// Lookup finds a peripheral by id, or else by display name ignoring case.
func (m *Manager) Lookup(ref string) (Peripheral, bool) {
	if p, ok := m.registry.view(ref); ok {
		return p, true
	}
	for _, p := range m.registry.list() {
		if p.Name != "" && strings.EqualFold(p.Name, ref) {
			return p, true
		}
	}
	return Peripheral{}, false
}

// AnyReady reports whether at least one peripheral is Ready.
func (m *Manager) AnyReady() bool {
	return m.registry.anyReady()
}

// Power returns the last adapter power state seen by the event loop.
func (m *Manager) Power() device.PowerState {
	return device.PowerState(m.powerView.Load())
}

// Catalog returns the feature catalog used for dispatch.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.catalog
}

// Subscribe opens a change-notification stream. The caller must Close it.
func (m *Manager) Subscribe() *Subscription {
	return m.notifier.subscribe(m.subBuf)
}

// WaitReady blocks until a peripheral matching ref (id or display name) is
// Ready, or until ctx is done. An empty ref matches any peripheral.
func (m *Manager) WaitReady(ctx context.Context, ref string) (Peripheral, error) {
	sub := m.Subscribe()
	defer sub.Close()

	match := func() (Peripheral, bool) {
		if ref == "" {
			for _, p := range m.ListPeripherals() {
				if p.State == Ready {
					return p, true
				}
			}
			return Peripheral{}, false
		}
		p, ok := m.Lookup(ref)
		return p, ok && p.State == Ready
	}

	for {
		if p, ok := match(); ok {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return Peripheral{}, fmt.Errorf("%w: %q: %w", ErrPeripheralNotReady, ref, ctx.Err())
		case <-m.done:
			return Peripheral{}, ErrManagerStopped
		case _, ok := <-sub.C():
			if !ok {
				return Peripheral{}, ErrManagerStopped
			}
		}
	}
}

func (m *Manager) notify(kind ChangeKind, p Peripheral) {
	m.notifier.publish(Change{
		Kind:       kind,
		Peripheral: p,
		Power:      m.power,
		At:         m.registry.now(),
	})
}

// transition moves rec to state, publishes the new snapshot and notifies.
func (m *Manager) transition(rec *record, state ConnectionState) {
	from := rec.state
	rec.state = state
	snap := m.registry.publish(rec)

	entry := m.logger.WithFields(logrus.Fields{
		"peripheral": rec.id,
		"from":       from.String(),
		"state":      state.String(),
	})
	if rec.lastErr != nil && state == Disconnected {
		entry = entry.WithField("error", rec.lastErr)
	}
	entry.Debug("Peripheral state changed")

	m.notify(StateChanged, snap)
}
