package central

import (
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/meowctl/internal/device"
)

func (m *Manager) discoverServices(rec *record) {
	if err := m.adapter.DiscoverServices(rec.id); err != nil {
		m.failDiscovery(rec, wrapAs(ErrServiceDiscoveryFailed, err))
		return
	}
	m.transition(rec, DiscoveringServices)
}

func (m *Manager) onServicesDiscovered(e device.ServicesDiscovered) {
	rec, ok := m.registry.get(e.ID)
	if !ok || rec.state != DiscoveringServices {
		return
	}
	if e.Err != nil {
		m.failDiscovery(rec, wrapAs(ErrServiceDiscoveryFailed, e.Err))
		return
	}

	services := dedupe(device.NormalizeUUIDs(e.Services))
	rec.staged = orderedmap.New[string, Characteristic]()
	rec.pending = make(map[string]struct{}, len(services))
	for _, svc := range services {
		rec.pending[svc] = struct{}{}
	}
	m.transition(rec, DiscoveringCharacteristics)

	if len(services) == 0 {
		m.logger.WithField("peripheral", rec.id).Info("Peripheral exposes no services")
		m.completeDiscovery(rec)
		return
	}

	for _, svc := range services {
		if err := m.adapter.DiscoverCharacteristics(rec.id, svc); err != nil {
			m.logger.WithFields(logrus.Fields{
				"peripheral": rec.id,
				"service":    svc,
				"error":      wrapAs(ErrCharacteristicDiscoveryFailed, err),
			}).Warn("Characteristic discovery request failed")
			delete(rec.pending, svc)
		}
	}
	if len(rec.pending) == 0 {
		m.completeDiscovery(rec)
	}
}

func (m *Manager) onCharacteristicsDiscovered(e device.CharacteristicsDiscovered) {
	rec, ok := m.registry.get(e.ID)
	if !ok || rec.state != DiscoveringCharacteristics {
		return
	}
	svc := device.NormalizeUUID(e.Service)
	if _, ok := rec.pending[svc]; !ok {
		return
	}
	delete(rec.pending, svc)

	if e.Err != nil {
		m.logger.WithFields(logrus.Fields{
			"peripheral": rec.id,
			"service":    svc,
			"error":      wrapAs(ErrCharacteristicDiscoveryFailed, e.Err),
		}).Warn("Characteristic discovery failed, continuing with remaining services")
	} else {
		for _, uuid := range device.NormalizeUUIDs(e.Characteristics) {
			rec.staged.Set(uuid, Characteristic{
				UUID:       uuid,
				Service:    svc,
				Peripheral: rec.id,
				Name:       m.catalog.NameOf(uuid),
			})
		}
	}

	if len(rec.pending) == 0 {
		m.completeDiscovery(rec)
	}
}

// completeDiscovery replaces the characteristic table wholesale and marks rec Ready.
func (m *Manager) completeDiscovery(rec *record) {
	rec.characteristics = rec.staged
	rec.resetDiscovery()

	m.logger.WithFields(logrus.Fields{
		"peripheral":      rec.id,
		"characteristics": rec.characteristics.Len(),
	}).Info("Peripheral ready")

	m.transition(rec, Ready)
	if rec.characteristics.Len() > 0 {
		m.notify(CharacteristicsUpdated, rec.snapshot())
	}
}

// failDiscovery releases the link and demotes rec. Discovery is not retried;
// the next connection cycle starts it over.
func (m *Manager) failDiscovery(rec *record, err error) {
	m.logger.WithFields(logrus.Fields{
		"peripheral": rec.id,
		"error":      err,
	}).Warn("Service discovery failed")

	rec.lastErr = err
	rec.resetDiscovery()
	m.releaseLink(rec.id)
	m.transition(rec, Disconnected)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
