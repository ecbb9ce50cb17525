package central

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/device"
)

func (m *Manager) onPowerState(state device.PowerState) {
	prev := m.power
	m.power = state
	m.powerView.Store(int32(state))

	if prev != state {
		m.logger.WithFields(logrus.Fields{
			"from":  prev.String(),
			"power": state.String(),
		}).Info("Adapter power state changed")
		m.notify(PowerChanged, Peripheral{})
	}

	if state == device.PoweredOn {
		m.onPoweredOn()
		return
	}
	m.onPowerLost(state)
}

// onPoweredOn reconnects known peripherals that are not linked, or scans when
// there are none. Reconnect sweeps and scanning never overlap.
func (m *Manager) onPoweredOn() {
	var candidates []*record
	m.registry.each(func(rec *record) {
		if rec.state.connectable() {
			candidates = append(candidates, rec)
		}
	})

	if len(candidates) == 0 {
		if len(m.sweep) == 0 {
			m.startScan()
		}
		return
	}

	m.stopScan()
	m.logger.WithField("count", len(candidates)).Info("Reconnecting known peripherals")
	for _, rec := range candidates {
		m.sweep[rec.id] = struct{}{}
	}
	for _, rec := range candidates {
		m.connect(rec)
	}
}

func (m *Manager) onPowerLost(state device.PowerState) {
	m.logger.WithField("power", state.String()).Warn("Bluetooth adapter unavailable")

	if m.scanning {
		// The radio is already down; a failing stop only means there is nothing to stop.
		if err := m.adapter.StopScan(); err != nil {
			m.logger.WithError(err).Debug("Failed to stop scan")
		}
		m.scanning = false
	}
	clear(m.sweep)

	m.registry.each(func(rec *record) {
		rec.resetDiscovery()
		if rec.state == Disconnected {
			return
		}
		rec.lastErr = ErrAdapterUnavailable
		m.transition(rec, Disconnected)
	})
}

func (m *Manager) startScan() {
	if m.scanning || m.power != device.PoweredOn {
		return
	}
	if err := m.adapter.StartScan(m.filter); err != nil {
		m.logger.WithError(err).Warn("Failed to start scan")
		return
	}
	m.scanning = true
	m.logger.WithField("prefix", m.filter.NamePrefix).Debug("Scanning for peripherals")
}

func (m *Manager) stopScan() {
	if !m.scanning {
		return
	}
	if err := m.adapter.StopScan(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop scan")
	}
	m.scanning = false
}

// sweepDone drops id from the reconnect sweep and resumes scanning once every
// sweep attempt has resolved.
func (m *Manager) sweepDone(id string) {
	if _, ok := m.sweep[id]; !ok {
		return
	}
	delete(m.sweep, id)
	if len(m.sweep) == 0 {
		m.startScan()
	}
}

func (m *Manager) onAdvertisement(e device.AdvertisementReceived) {
	if m.power != device.PoweredOn {
		return
	}
	if !m.filter.Accept(e.Name, e.ServiceUUIDs) {
		return
	}

	rec, ok := m.registry.get(e.ID)
	if !ok {
		rec = m.registry.add(e.ID, e.Name, e.RSSI)
		m.logger.WithFields(logrus.Fields{
			"peripheral": e.ID,
			"name":       e.Name,
			"rssi":       e.RSSI,
		}).Info("Discovered peripheral")
		m.notify(PeripheralAdded, rec.snapshot())
		m.connect(rec)
		return
	}

	if !rec.state.connectable() {
		return
	}
	if e.Name != "" {
		rec.name = e.Name
	}
	rec.rssi = e.RSSI
	m.connect(rec)
}

// connect issues a connect request. A request the adapter refuses outright
// demotes the record immediately; otherwise the outcome arrives as an event.
func (m *Manager) connect(rec *record) {
	rec.lastErr = nil
	m.transition(rec, Connecting)

	err := m.adapter.Connect(rec.id)
	if errors.Is(err, device.ErrAlreadyConnected) {
		// The adapter still holds a link from an earlier cycle; start over.
		m.releaseLink(rec.id)
		err = m.adapter.Connect(rec.id)
	}
	if err != nil {
		m.logger.WithField("peripheral", rec.id).WithError(err).Warn("Connect request failed")
		rec.lastErr = wrapAs(ErrConnectionFailed, err)
		m.transition(rec, Disconnected)
		m.sweepDone(rec.id)
	}
}

func (m *Manager) onConnected(id string) {
	rec, ok := m.registry.get(id)
	if !ok || rec.state.connectable() {
		m.logger.WithField("peripheral", id).Debug("Releasing link nothing is waiting for")
		m.releaseLink(id)
		return
	}
	if rec.state != Connecting {
		m.logger.WithField("peripheral", id).Debug("Ignoring stale connect event")
		return
	}

	m.logger.WithField("peripheral", id).Info("Peripheral connected")
	m.transition(rec, Connected)
	m.sweepDone(id)
	m.discoverServices(rec)
}

func (m *Manager) onDisconnected(id string, err error) {
	rec, ok := m.registry.get(id)
	if !ok || rec.state.connectable() {
		return
	}

	if rec.state == Connecting {
		rec.lastErr = wrapAs(ErrConnectionFailed, err)
	} else {
		rec.lastErr = wrapAs(ErrConnectionLost, err)
	}
	rec.resetDiscovery()

	m.logger.WithFields(logrus.Fields{
		"peripheral": id,
		"error":      rec.lastErr,
	}).Warn("Peripheral disconnected")
	m.transition(rec, Disconnected)
	m.sweepDone(id)
}

// releaseLink asks the adapter to drop a link the registry no longer counts on.
func (m *Manager) releaseLink(id string) {
	err := m.adapter.Disconnect(id)
	if err != nil && !errors.Is(err, device.ErrNotConnected) {
		m.logger.WithField("peripheral", id).WithError(err).Debug("Failed to release link")
	}
}
