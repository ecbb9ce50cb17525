package oscbridge

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/meowctl/internal/central"
	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/testutils"
)

type dispatchCall struct {
	ID      string
	Feature string
	On      bool
}

type fakeController struct {
	mu    sync.Mutex
	calls []dispatchCall
	known map[string]central.Peripheral // by display name
}

func (c *fakeController) Dispatch(_ context.Context, id, feature string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, dispatchCall{id, feature, on})
	return nil
}

func (c *fakeController) Lookup(ref string) (central.Peripheral, bool) {
	p, ok := c.known[ref]
	return p, ok
}

func (c *fakeController) Calls() []dispatchCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dispatchCall(nil), c.calls...)
}

type playCall struct {
	Name   string
	Target string
}

type BridgeSuite struct {
	suite.Suite
	ctrl   *fakeController
	bridge *Bridge
	client *osc.Client
	cancel context.CancelFunc
	served chan error

	mu    sync.Mutex
	plays []playCall
}

func (s *BridgeSuite) SetupTest() {
	helper := testutils.NewTestHelper(s.T())
	s.ctrl = &fakeController{known: map[string]central.Peripheral{
		"Kitty": {ID: "AA:BB:CC:DD:EE:01", Name: "Kitty"},
	}}
	s.plays = nil

	var err error
	s.bridge, err = New(s.ctrl, Options{
		Listen: "127.0.0.1:0",
		Play:   s.play,
		Logger: helper.Logger,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.bridge.Listen())

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.served = make(chan error, 1)
	go func() { s.served <- s.bridge.Serve(ctx) }()

	port := s.bridge.Addr().(*net.UDPAddr).Port
	s.client = osc.NewClient("127.0.0.1", port)
}

func (s *BridgeSuite) TearDownTest() {
	s.cancel()
	select {
	case err := <-s.served:
		s.NoError(err, "MUST stop cleanly on cancel")
	case <-time.After(2 * time.Second):
		s.Fail("MUST stop serving after cancel")
	}
}

func (s *BridgeSuite) play(ctx context.Context, name, target string) error {
	s.mu.Lock()
	s.plays = append(s.plays, playCall{name, target})
	s.mu.Unlock()
	return nil
}

func (s *BridgeSuite) Plays() []playCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playCall(nil), s.plays...)
}

func (s *BridgeSuite) TestDispatchValues() {
	// GOAL: Verify /meow/dispatch decodes every supported value type into an on flag
	//
	// TEST SCENARIO: Send T, int 0, float 1.0 and "off" one by one → manager sees true, false, true, false

	values := []interface{}{true, int32(0), float32(1), "off"}
	for i, v := range values {
		s.Require().NoError(s.client.Send(osc.NewMessage(AddrDispatch, "toy-1", "LED", v)))
		s.Require().Eventually(func() bool { return len(s.ctrl.Calls()) == i+1 }, 2*time.Second, 5*time.Millisecond)
	}

	var flags []bool
	for _, c := range s.ctrl.Calls() {
		s.Equal("toy-1", c.ID)
		s.Equal("LED", c.Feature)
		flags = append(flags, c.On)
	}
	s.Equal([]bool{true, false, true, false}, flags)
}

func (s *BridgeSuite) TestDispatchResolvesDisplayName() {
	s.Require().NoError(s.client.Send(osc.NewMessage(AddrDispatch, "Kitty", "Play Sound", true)))

	s.Require().Eventually(func() bool { return len(s.ctrl.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Equal("AA:BB:CC:DD:EE:01", s.ctrl.Calls()[0].ID)
}

func (s *BridgeSuite) TestMalformedDispatchIgnored() {
	s.Require().NoError(s.client.Send(osc.NewMessage(AddrDispatch, "toy-1", "LED")))
	s.Require().NoError(s.client.Send(osc.NewMessage(AddrDispatch, "toy-1", "LED", "maybe")))
	// A valid message afterwards proves the server kept going.
	s.Require().NoError(s.client.Send(osc.NewMessage(AddrDispatch, "toy-2", "LED", true)))

	s.Require().Eventually(func() bool { return len(s.ctrl.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Equal("toy-2", s.ctrl.Calls()[0].ID)
}

func (s *BridgeSuite) TestRoutine() {
	s.Require().NoError(s.client.Send(osc.NewMessage(AddrRoutine, "Catch it!", "Kitty")))
	s.Require().Eventually(func() bool { return len(s.Plays()) == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Equal(playCall{"Catch it!", "AA:BB:CC:DD:EE:01"}, s.Plays()[0])

	s.Require().NoError(s.client.Send(osc.NewMessage(AddrRoutine, "Where are you")))
	s.Require().Eventually(func() bool { return len(s.Plays()) == 2 }, 2*time.Second, 5*time.Millisecond)
	s.Equal(playCall{"Where are you", ""}, s.Plays()[1])
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}

func TestNewValidation(t *testing.T) {
	_, err := New(&fakeController{}, Options{})
	assert.Error(t, err, "MUST require a listen address")

	_, err = New(&fakeController{}, Options{Listen: "127.0.0.1:0", Feedback: "nohost"})
	assert.Error(t, err)

	_, err = New(&fakeController{}, Options{Listen: "127.0.0.1:0", Feedback: "127.0.0.1:osc"})
	assert.Error(t, err)

	b, err := New(&fakeController{}, Options{Listen: "127.0.0.1:0", Feedback: "127.0.0.1:9001"})
	require.NoError(t, err)
	assert.True(t, b.HasFeedback())
	assert.Nil(t, b.Addr(), "MUST NOT bind before Listen")
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []*osc.Message
	err  error
}

func (r *recordingSender) Send(p osc.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, p.(*osc.Message))
	return r.err
}

func TestForward(t *testing.T) {
	// GOAL: Verify state and power changes become OSC feedback and other changes are skipped

	helper := testutils.NewTestHelper(t)
	b, err := New(&fakeController{}, Options{Listen: "127.0.0.1:0", Logger: helper.Logger})
	require.NoError(t, err)
	rec := &recordingSender{err: errors.New("network unreachable")}
	b.feedback = rec

	changes := make(chan central.Change, 4)
	changes <- central.Change{Kind: central.PowerChanged, Power: device.PoweredOn}
	changes <- central.Change{Kind: central.PeripheralAdded, Peripheral: central.Peripheral{ID: "toy-1", State: central.Discovered}}
	changes <- central.Change{Kind: central.CharacteristicsUpdated, Peripheral: central.Peripheral{ID: "toy-1"}}
	changes <- central.Change{Kind: central.StateChanged, Peripheral: central.Peripheral{ID: "toy-1", State: central.Ready}}
	close(changes)

	b.Forward(context.Background(), changes)

	require.Len(t, rec.msgs, 3, "MUST keep forwarding after a send error")
	assert.Equal(t, AddrPower, rec.msgs[0].Address)
	assert.Equal(t, []interface{}{"poweredOn"}, rec.msgs[0].Arguments)
	assert.Equal(t, AddrState, rec.msgs[1].Address)
	assert.Equal(t, []interface{}{"toy-1", "discovered"}, rec.msgs[1].Arguments)
	assert.Equal(t, []interface{}{"toy-1", "ready"}, rec.msgs[2].Arguments)
}

func TestForwardWithoutFeedback(t *testing.T) {
	b, err := New(&fakeController{}, Options{Listen: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.False(t, b.HasFeedback())

	done := make(chan struct{})
	go func() {
		b.Forward(context.Background(), make(chan central.Change))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MUST return immediately without a feedback address")
	}
}

func TestToOn(t *testing.T) {
	for _, v := range []interface{}{true, int32(3), int64(1), float32(0.5), 1.0, "ON", "true"} {
		on, err := toOn(v)
		require.NoError(t, err, "%v", v)
		assert.True(t, on, "%v", v)
	}
	for _, v := range []interface{}{false, int32(0), float64(0), "off", "0"} {
		on, err := toOn(v)
		require.NoError(t, err, "%v", v)
		assert.False(t, on, "%v", v)
	}
	_, err := toOn(nil)
	assert.ErrorIs(t, err, ErrBadMessage)
}
