package central

import (
	"sync"
	"time"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/ringchan"
)

// ChangeKind classifies a change notification.
type ChangeKind int

const (
	PeripheralAdded ChangeKind = iota
	StateChanged
	CharacteristicsUpdated
	PowerChanged
)

func (k ChangeKind) String() string {
	switch k {
	case PeripheralAdded:
		return "peripheralAdded"
	case StateChanged:
		return "stateChanged"
	case CharacteristicsUpdated:
		return "characteristicsUpdated"
	case PowerChanged:
		return "powerChanged"
	default:
		return "unknown"
	}
}

func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Change is one entry of the change-notification stream.
// Peripheral is set for every kind except PowerChanged; Power is always the
// adapter state at the time of the change.
type Change struct {
	Kind       ChangeKind        `json:"kind"`
	Peripheral Peripheral        `json:"peripheral"`
	Power      device.PowerState `json:"power"`
	At         time.Time         `json:"at"`
}

// Subscription receives change notifications. A slow subscriber loses its
// oldest undelivered changes rather than stalling the event loop.
type Subscription struct {
	ch *ringchan.RingChannel[Change]
	n  *notifier
}

// C delivers changes. It is closed when the subscription is closed or the manager stops.
func (s *Subscription) C() <-chan Change {
	return s.ch.C()
}

// Dropped returns how many changes were discarded because the subscriber fell behind.
func (s *Subscription) Dropped() int64 {
	return s.ch.GetMetrics().Overwritten
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.n.remove(s)
	s.ch.Close()
}

type notifier struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[*Subscription]struct{})}
}

func (n *notifier) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Subscription{ch: ringchan.New[Change](buffer), n: n}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		s.ch.Close()
		return s
	}
	n.subs[s] = struct{}{}
	return s
}

func (n *notifier) remove(s *Subscription) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}

func (n *notifier) publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for s := range n.subs {
		s.ch.Send(c)
	}
}

// close ends every subscription; later subscribers get a closed channel.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for s := range n.subs {
		s.ch.Close()
		delete(n.subs, s)
	}
}
