package testutils

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/testutils/mocks"
)

// AdapterBuilder configures a MockAdapter whose requests succeed unless a
// failure was registered for them.
//
// The built mock owns links like a real backend: an accepted Connect holds the
// link until Disconnect is called or a Disconnected or non-PoweredOn event is
// observed, and Connect on a held link returns ErrAlreadyConnected.
//
//	radio := testutils.NewAdapterBuilder().
//	    WithConnectError("AA", errors.New("out of range")).
//	    Build(t)
//	radio.Emit(device.PowerStateChanged{State: device.PoweredOn})
type AdapterBuilder struct {
	eventBuffer int
	startErr    error
	scanErr     error
	connect     map[string]error
	services    map[string]error
	chars       map[[2]string]error
	writes      map[[2]string]error
}

// NewAdapterBuilder creates a builder with a 64-event buffer and no failures.
func NewAdapterBuilder() *AdapterBuilder {
	return &AdapterBuilder{
		eventBuffer: 64,
		connect:     map[string]error{},
		services:    map[string]error{},
		chars:       map[[2]string]error{},
		writes:      map[[2]string]error{},
	}
}

func (b *AdapterBuilder) WithEventBuffer(n int) *AdapterBuilder {
	b.eventBuffer = n
	return b
}

func (b *AdapterBuilder) WithStartError(err error) *AdapterBuilder {
	b.startErr = err
	return b
}

func (b *AdapterBuilder) WithScanError(err error) *AdapterBuilder {
	b.scanErr = err
	return b
}

// WithConnectError makes Connect(id) refuse the request.
func (b *AdapterBuilder) WithConnectError(id string, err error) *AdapterBuilder {
	b.connect[id] = err
	return b
}

// WithDiscoverServicesError makes DiscoverServices(id) refuse the request.
func (b *AdapterBuilder) WithDiscoverServicesError(id string, err error) *AdapterBuilder {
	b.services[id] = err
	return b
}

// WithDiscoverCharacteristicsError makes DiscoverCharacteristics(id, service) refuse the request.
func (b *AdapterBuilder) WithDiscoverCharacteristicsError(id, service string, err error) *AdapterBuilder {
	b.chars[[2]string{id, service}] = err
	return b
}

// WithWriteError makes Write(id, characteristic, ...) reject the payload.
func (b *AdapterBuilder) WithWriteError(id, characteristic string, err error) *AdapterBuilder {
	b.writes[[2]string{id, characteristic}] = err
	return b
}

// Build registers the expectations. Failures are registered before the
// catch-all successes since testify matches expectations in order.
func (b *AdapterBuilder) Build(t mock.TestingT) *AdapterHarness {
	m := &mocks.MockAdapter{}
	m.Test(t)
	events := make(chan device.Event, b.eventBuffer)
	h := &AdapterHarness{Mock: m, events: events, links: map[string]bool{}}

	m.On("Start", mock.Anything).Return(b.startErr).Maybe()
	m.On("Events").Return((<-chan device.Event)(events)).Maybe()
	m.On("StartScan", mock.Anything).Return(b.scanErr).Maybe()
	m.On("StopScan").Return(nil).Maybe()

	for id, err := range b.connect {
		m.On("Connect", id).Return(err).Maybe()
	}
	m.On("Connect", mock.Anything).Return(h.connect).Maybe()
	m.On("Disconnect", mock.Anything).Return(h.disconnect).Maybe()

	for id, err := range b.services {
		m.On("DiscoverServices", id).Return(err).Maybe()
	}
	m.On("DiscoverServices", mock.Anything).Return(nil).Maybe()

	for key, err := range b.chars {
		m.On("DiscoverCharacteristics", key[0], key[1]).Return(err).Maybe()
	}
	m.On("DiscoverCharacteristics", mock.Anything, mock.Anything).Return(nil).Maybe()

	for key, err := range b.writes {
		m.On("Write", key[0], key[1], mock.Anything).Return(err).Maybe()
	}
	m.On("Write", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	return h
}

// AdapterHarness is a built mock adapter plus its event stream.
type AdapterHarness struct {
	Mock   *mocks.MockAdapter
	events chan device.Event

	mu    sync.Mutex
	links map[string]bool
}

func (h *AdapterHarness) connect(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.links[id] {
		return device.ErrAlreadyConnected
	}
	h.links[id] = true
	return nil
}

func (h *AdapterHarness) disconnect(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.links[id] {
		return device.ErrNotConnected
	}
	delete(h.links, id)
	return nil
}

// Linked reports whether the mock currently holds a link to id.
func (h *AdapterHarness) Linked(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[id]
}

// Observe applies the link bookkeeping a real backend does when it reports
// events. Emit calls it; tests feeding events to the manager directly call it
// themselves.
func (h *AdapterHarness) Observe(events ...device.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range events {
		switch e := ev.(type) {
		case device.Connected:
			h.links[e.ID] = true
		case device.Disconnected:
			delete(h.links, e.ID)
		case device.PowerStateChanged:
			if e.State != device.PoweredOn {
				clear(h.links)
			}
		}
	}
}

// Adapter returns the mock as a device.Adapter.
func (h *AdapterHarness) Adapter() device.Adapter {
	return h.Mock
}

// Emit queues events for delivery in order.
func (h *AdapterHarness) Emit(events ...device.Event) {
	for _, ev := range events {
		h.Observe(ev)
		h.events <- ev
	}
}

// EmitContext queues events unless ctx ends first.
func (h *AdapterHarness) EmitContext(ctx context.Context, events ...device.Event) error {
	for _, ev := range events {
		h.Observe(ev)
		select {
		case h.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CloseEvents ends the event stream.
func (h *AdapterHarness) CloseEvents() {
	close(h.events)
}

// CallsTo returns the recorded calls of one method in call order. It must not
// race with calls into the mock.
func (h *AdapterHarness) CallsTo(method string) []mock.Call {
	var calls []mock.Call
	for _, c := range h.Mock.Calls {
		if c.Method == method {
			calls = append(calls, c)
		}
	}
	return calls
}

// CallCount is len(CallsTo(method)).
func (h *AdapterHarness) CallCount(method string) int {
	return len(h.CallsTo(method))
}

// Written returns the payloads passed to Write as strings, in call order.
func (h *AdapterHarness) Written() []string {
	var out []string
	for _, c := range h.CallsTo("Write") {
		out = append(out, string(c.Arguments.Get(2).([]byte)))
	}
	return out
}

// ResetCalls forgets recorded calls while keeping expectations.
func (h *AdapterHarness) ResetCalls() {
	h.Mock.Calls = nil
}
