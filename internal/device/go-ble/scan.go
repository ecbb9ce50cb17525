package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/groutine"
)

// StartScan starts a background scan. Advertisements that fail the filter are
// dropped here so the controller only sees candidates. Scanning twice is a no-op.
func (a *Adapter) StartScan(filter device.ScanFilter) error {
	dev, ctx, err := a.openDevice()
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanCancel != nil {
		a.mu.Unlock()
		return nil
	}
	scanCtx, cancel := context.WithCancel(ctx)
	a.scanCancel = cancel
	a.scanGen++
	gen := a.scanGen
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"prefix":   filter.NamePrefix,
		"services": filter.ServiceUUIDs,
	}).Debug("Starting BLE scan")

	groutine.Go(scanCtx, "goble-scan", func(scanCtx context.Context) {
		err := dev.Scan(scanCtx, a.opts.AllowDuplicates, func(adv ble.Advertisement) {
			a.onAdvertisement(filter, adv)
		})
		stopped := scanCtx.Err() != nil

		a.mu.Lock()
		if a.scanGen == gen && a.scanCancel != nil {
			a.scanCancel()
			a.scanCancel = nil
		}
		a.mu.Unlock()

		if err == nil || stopped {
			return
		}
		norm := NormalizeError(err)
		if !a.handleRadioError(norm) {
			a.logger.WithError(norm).Warn("BLE scan stopped unexpectedly")
		}
	})
	return nil
}

// StopScan cancels the running scan, if any.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	cancel := a.scanCancel
	a.scanCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		a.logger.Debug("Stopping BLE scan")
		cancel()
	}
	return nil
}

func (a *Adapter) onAdvertisement(filter device.ScanFilter, adv ble.Advertisement) {
	name := adv.LocalName()
	services := advertisedServices(adv)
	if !filter.Accept(name, services) {
		return
	}
	a.emit(device.AdvertisementReceived{
		ID:           adv.Addr().String(),
		Name:         name,
		ServiceUUIDs: services,
		RSSI:         adv.RSSI(),
	})
}

func advertisedServices(adv ble.Advertisement) []string {
	uuids := adv.Services()
	raw := make([]string, 0, len(uuids))
	for _, u := range uuids {
		raw = append(raw, u.String())
	}
	return device.NormalizeUUIDs(raw)
}
