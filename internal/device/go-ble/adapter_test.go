package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/suite"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/testutils"
)

const (
	testAddr    = "AA:BB:CC:DD:EE:01"
	testService = "12345678-1234-1234-1234-123456789012"
	testLED     = "87654321-4321-4321-4321-210987654321"
	testSound   = "87654323-4321-4321-4321-210987654321"
)

type AdapterSuite struct {
	suite.Suite

	helper   *testutils.TestHelper
	dev      *fakeDevice
	adapter  *Adapter
	cancel   context.CancelFunc
	original func() (ble.Device, error)
}

func (s *AdapterSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.dev = newFakeDevice()
	s.dev.client.profile = []*ble.Service{{
		UUID: ble.MustParse(testService),
		Characteristics: []*ble.Characteristic{
			{UUID: ble.MustParse(testLED), Property: ble.CharWrite | ble.CharWriteNR},
			{UUID: ble.MustParse(testSound), Property: ble.CharWriteNR},
		},
	}}
	s.original = DeviceFactory
	DeviceFactory = factorySequence(s.dev)
}

func (s *AdapterSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	DeviceFactory = s.original
}

func (s *AdapterSuite) start() *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.adapter = New(Options{
		PowerPollInterval: 10 * time.Millisecond,
		ConnectTimeout:    time.Second,
		Logger:            s.helper.Logger,
	})
	s.Require().NoError(s.adapter.Start(ctx))
	return s.adapter
}

func (s *AdapterSuite) next() device.Event {
	select {
	case ev := <-s.adapter.Events():
		return ev
	case <-time.After(2 * time.Second):
		s.FailNow("MUST deliver an event within 2s")
		return nil
	}
}

func (s *AdapterSuite) startPoweredOn() *Adapter {
	a := s.start()
	s.Require().Equal(device.PowerStateChanged{State: device.PoweredOn}, s.next(), "MUST report PoweredOn once the device opens")
	return a
}

func (s *AdapterSuite) connect() {
	s.Require().NoError(s.adapter.Connect(testAddr))
	s.Require().Equal(device.Connected{ID: testAddr}, s.next())
}

func (s *AdapterSuite) TestPowerPollRetries() {
	// GOAL: Verify the adapter keeps polling an unavailable radio and reports each transition
	//
	// TEST SCENARIO: factory fails with a CoreBluetooth off state → PoweredOff, then opens → PoweredOn

	DeviceFactory = factorySequence(s.dev,
		errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
		errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
	)
	s.start()

	s.Equal(device.PowerStateChanged{State: device.PoweredOff}, s.next(), "MUST report PoweredOff first")
	s.Equal(device.PowerStateChanged{State: device.PoweredOn}, s.next(), "MUST report PoweredOn once only, after the retry succeeds")
}

func (s *AdapterSuite) TestRequestsBeforePowerOn() {
	// GOAL: Verify requests are refused while no device is open

	DeviceFactory = func() (ble.Device, error) { return nil, errors.New("socket: operation not permitted") }
	a := s.start()
	s.Equal(device.PowerStateChanged{State: device.Unauthorized}, s.next())

	s.ErrorIs(a.Connect(testAddr), device.ErrBluetoothOff)
	s.ErrorIs(a.StartScan(device.NewScanFilter("Meow")), device.ErrBluetoothOff)
	s.ErrorIs(a.DiscoverServices(testAddr), device.ErrNotConnected)
	s.ErrorIs(a.Write(testAddr, testLED, []byte("ON")), device.ErrWriteRejected)
}

func (s *AdapterSuite) TestScanFiltersAdvertisements() {
	// GOAL: Verify only advertisements passing the filter reach the event stream

	s.dev.adverts = []ble.Advertisement{
		fakeAdvertisement{name: "Speaker", addr: "AA:BB:CC:DD:EE:99", rssi: -40},
		fakeAdvertisement{name: "Meow Toy", addr: testAddr, rssi: -55, services: []ble.UUID{ble.MustParse(testService)}},
	}
	a := s.startPoweredOn()

	s.Require().NoError(a.StartScan(device.NewScanFilter("Meow")))
	s.Require().NoError(a.StartScan(device.NewScanFilter("Meow")), "MUST treat a second StartScan as a no-op")

	ev := s.next()
	s.Equal(device.AdvertisementReceived{
		ID:           testAddr,
		Name:         "Meow Toy",
		ServiceUUIDs: []string{"12345678123412341234123456789012"},
		RSSI:         -55,
	}, ev, "MUST forward the matching advertisement with normalized services")

	s.NoError(a.StopScan())
	s.NoError(a.StopScan(), "MUST tolerate stopping an idle scan")
}

func (s *AdapterSuite) TestScanRadioFailure() {
	// GOAL: Verify a scan failing because the radio went away turns into a power change
	//
	// TEST SCENARIO: Scan returns "powered off" → device stopped, PoweredOff, poll reopens → PoweredOn

	s.dev.scanErr = errors.New("bluetooth is powered off")
	a := s.startPoweredOn()

	s.Require().NoError(a.StartScan(device.NewScanFilter("Meow")))
	s.Equal(device.PowerStateChanged{State: device.PoweredOff}, s.next())
	s.Equal(device.PowerStateChanged{State: device.PoweredOn}, s.next())

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.GreaterOrEqual(s.dev.stopped, 1, "MUST stop the lost device")
}

func (s *AdapterSuite) TestDiscoveryAndWrite() {
	// GOAL: Verify connect, discovery and write round-trip through the event stream

	a := s.startPoweredOn()
	s.connect()
	s.ErrorIs(a.Connect(testAddr), device.ErrAlreadyConnected)

	s.Require().NoError(a.DiscoverServices(testAddr))
	s.Equal(device.ServicesDiscovered{ID: testAddr, Services: []string{"12345678123412341234123456789012"}}, s.next())

	s.Require().NoError(a.DiscoverCharacteristics(testAddr, testService))
	s.Equal(device.CharacteristicsDiscovered{
		ID:      testAddr,
		Service: "12345678123412341234123456789012",
		Characteristics: []string{
			"87654321432143214321210987654321",
			"87654323432143214321210987654321",
		},
	}, s.next())

	s.Require().NoError(a.Write(testAddr, testLED, []byte("ON")))
	s.Require().NoError(a.Write(testAddr, testSound, []byte("PLAY")))
	s.Eventually(func() bool { return len(s.dev.client.Writes()) == 2 }, time.Second, 5*time.Millisecond)

	byUUID := map[string]write{}
	for _, w := range s.dev.client.Writes() {
		byUUID[w.UUID] = w
	}
	s.Equal("ON", string(byUUID["87654321432143214321210987654321"].Data))
	s.False(byUUID["87654321432143214321210987654321"].NoRsp, "MUST use write-with-response when allowed")
	s.Equal("PLAY", string(byUUID["87654323432143214321210987654321"].Data))
	s.True(byUUID["87654323432143214321210987654321"].NoRsp, "MUST fall back to write-without-response")

	err := a.Write(testAddr, "2a19", []byte("ON"))
	s.ErrorIs(err, device.ErrWriteRejected)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *AdapterSuite) TestDiscoverCharacteristicsUnknownService() {
	a := s.startPoweredOn()
	s.connect()

	var nf *device.NotFoundError
	s.ErrorAs(a.DiscoverCharacteristics(testAddr, "180d"), &nf, "MUST refuse services that were never discovered")
}

func (s *AdapterSuite) TestDiscoveryFailures() {
	// GOAL: Verify GATT failures arrive as event errors with the discovery taxonomy

	s.dev.client.svcErr = errors.New("att: timeout")
	a := s.startPoweredOn()
	s.connect()

	s.Require().NoError(a.DiscoverServices(testAddr))
	ev, ok := s.next().(device.ServicesDiscovered)
	s.Require().True(ok)
	s.ErrorIs(ev.Err, device.ErrServiceDiscoveryFailed)
	s.Empty(ev.Services)
}

func (s *AdapterSuite) TestDialFailure() {
	s.dev.dialErr = errors.New("context deadline exceeded")
	a := s.startPoweredOn()

	s.Require().NoError(a.Connect(testAddr))
	ev, ok := s.next().(device.Disconnected)
	s.Require().True(ok, "MUST report a failed dial as Disconnected")
	s.Equal(testAddr, ev.ID)
	s.ErrorIs(ev.Err, device.ErrConnectionFailed)
	s.ErrorIs(ev.Err, device.ErrTimeout)
}

func (s *AdapterSuite) TestLinkLoss() {
	// GOAL: Verify a link dropped by the stack is reported once and forgotten

	a := s.startPoweredOn()
	s.connect()

	close(s.dev.client.lost)
	ev, ok := s.next().(device.Disconnected)
	s.Require().True(ok)
	s.ErrorIs(ev.Err, device.ErrConnectionLost)

	s.ErrorIs(a.DiscoverServices(testAddr), device.ErrNotConnected, "MUST forget the lost link")
}

func (s *AdapterSuite) TestDisconnectReleasesLink() {
	// GOAL: Verify a released link is forgotten at once, cancelled on the stack and never reported
	//
	// TEST SCENARIO: release unknown link → ErrNotConnected; connect → release → link gone, connection cancelled → connect again → Connected is the next event

	a := s.startPoweredOn()
	s.ErrorIs(a.Disconnect(testAddr), device.ErrNotConnected)

	s.connect()
	s.Require().NoError(a.Disconnect(testAddr))
	s.ErrorIs(a.DiscoverServices(testAddr), device.ErrNotConnected, "MUST forget the released link")
	s.Eventually(func() bool { return s.dev.client.Canceled() >= 1 }, time.Second, 5*time.Millisecond,
		"MUST cancel the connection on the stack")
	s.ErrorIs(a.Disconnect(testAddr), device.ErrNotConnected, "MUST release a link only once")

	s.connect()
	s.NoError(a.DiscoverServices(testAddr), "MUST accept requests on the new link")
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}
