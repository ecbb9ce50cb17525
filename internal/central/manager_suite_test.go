package central

import (
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/testutils"
)

const (
	peripheralA = "AA:BB:CC:DD:EE:01"
	peripheralB = "AA:BB:CC:DD:EE:02"

	serviceMain  = "12345678123412341234123456789012"
	serviceExtra = "12345679123412341234123456789012"

	charLED     = "87654321432143214321210987654321"
	charFeather = "87654322432143214321210987654321"
	charSound   = "87654323432143214321210987654321"
	charTreat   = "87654324432143214321210987654321"
	charBattery = "2a19"
)

// ManagerSuite drives the state machine directly on the test goroutine, the
// way Run does, so every assertion observes a quiescent registry.
type ManagerSuite struct {
	suite.Suite

	helper  *testutils.TestHelper
	builder *testutils.AdapterBuilder
	radio   *testutils.AdapterHarness
	m       *Manager
	sub     *Subscription
}

func (s *ManagerSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.builder = testutils.NewAdapterBuilder()
	s.radio = nil
	s.m = nil
}

func (s *ManagerSuite) TearDownTest() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// manager builds the adapter and manager on first use, so tests may register
// failures on s.builder beforehand.
func (s *ManagerSuite) manager() *Manager {
	if s.m == nil {
		s.radio = s.builder.Build(s.T())
		fixed := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
		s.m = NewManager(s.radio.Adapter(), Options{
			Filter: device.NewScanFilter("Meow"),
			Logger: s.helper.Logger,
			Now:    func() time.Time { return fixed },
		})
		s.sub = s.m.Subscribe()
	}
	return s.m
}

// emit feeds events to the state machine after the mock has seen them, so its
// link bookkeeping matches what a backend would hold.
func (s *ManagerSuite) emit(events ...device.Event) {
	m := s.manager()
	for _, ev := range events {
		s.radio.Observe(ev)
		m.handle(ev)
	}
}

func (s *ManagerSuite) powerOn() {
	s.emit(device.PowerStateChanged{State: device.PoweredOn})
}

func (s *ManagerSuite) advertise(id, name string, services ...string) {
	s.emit(device.AdvertisementReceived{ID: id, Name: name, ServiceUUIDs: services, RSSI: -50})
}

// makeReady drives a peripheral from first advertisement to Ready with one
// service exposing chars.
func (s *ManagerSuite) makeReady(id, name string, chars ...string) {
	s.advertise(id, name)
	s.emit(
		device.Connected{ID: id},
		device.ServicesDiscovered{ID: id, Services: []string{serviceMain}},
		device.CharacteristicsDiscovered{ID: id, Service: serviceMain, Characteristics: chars},
	)
	s.Require().Equal(Ready, s.state(id), "peripheral %s MUST be Ready", id)
}

func (s *ManagerSuite) state(id string) ConnectionState {
	p, ok := s.manager().Peripheral(id)
	s.Require().True(ok, "peripheral %s MUST be registered", id)
	return p.State
}

// changes drains the change stream without blocking.
func (s *ManagerSuite) changes() []Change {
	var out []Change
	for {
		select {
		case c := <-s.sub.C():
			out = append(out, c)
		default:
			return out
		}
	}
}

// statesOf returns the state sequence announced for id on the change stream.
func statesOf(changes []Change, id string) []ConnectionState {
	var states []ConnectionState
	for _, c := range changes {
		if c.Kind == StateChanged && c.Peripheral.ID == id {
			states = append(states, c.Peripheral.State)
		}
	}
	return states
}
