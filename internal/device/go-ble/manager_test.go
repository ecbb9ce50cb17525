package goble

import (
	"context"
	"errors"
	"time"

	"github.com/go-ble/ble"

	"github.com/srg/meowctl/internal/central"
	"github.com/srg/meowctl/internal/device"
)

func (s *AdapterSuite) TestManagerRecoversFromDiscoveryFailure() {
	// GOAL: Verify a peripheral whose service discovery failed reconnects on its next advertisement
	//
	// TEST SCENARIO: manager on this adapter → MeowBox-1 advertised → services time out → Disconnected → error cleared, advertised again → Ready

	advert := fakeAdvertisement{name: "MeowBox-1", addr: testAddr, rssi: -50, services: []ble.UUID{ble.MustParse(testService)}}
	s.dev.adverts = []ble.Advertisement{advert}
	s.dev.client.setServiceError(errors.New("att: timeout"))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.adapter = New(Options{
		PowerPollInterval: 10 * time.Millisecond,
		ConnectTimeout:    time.Second,
		Logger:            s.helper.Logger,
	})
	m := central.NewManager(s.adapter, central.Options{
		Filter: device.NewScanFilter("Meow"),
		Logger: s.helper.Logger,
	})
	go func() { _ = m.Run(ctx) }()

	s.Require().Eventually(func() bool {
		p, ok := m.Lookup("MeowBox-1")
		return ok && p.State == central.Disconnected
	}, 2*time.Second, 5*time.Millisecond, "MUST demote the peripheral after service discovery fails")
	p, _ := m.Lookup("MeowBox-1")
	s.Contains(p.LastError, "att: timeout")
	s.Eventually(func() bool { return s.dev.client.Canceled() >= 1 }, time.Second, 5*time.Millisecond,
		"MUST release the link that failed discovery")

	s.dev.client.setServiceError(nil)
	select {
	case s.dev.live <- advert:
	case <-time.After(2 * time.Second):
		s.FailNow("MUST still be scanning after the failure")
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	p, err := m.WaitReady(waitCtx, "MeowBox-1")
	s.Require().NoError(err, "MUST reach Ready on the next connection cycle")
	s.Empty(p.LastError)
}
