package central

import (
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Characteristic is a discovered characteristic of a managed peripheral.
type Characteristic struct {
	UUID       string `json:"uuid"`
	Service    string `json:"service"`
	Peripheral string `json:"peripheral"`
	Name       string `json:"name,omitempty"` // logical feature name, empty when not catalogued
}

// Peripheral is an immutable snapshot of one managed peripheral.
// Characteristics is empty unless State is Ready.
type Peripheral struct {
	ID              string           `json:"id"`
	Name            string           `json:"name,omitempty"`
	State           ConnectionState  `json:"state"`
	RSSI            int              `json:"rssi"`
	Characteristics []Characteristic `json:"characteristics,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// record is the mutable registry entry. It is only touched by the event loop.
type record struct {
	id      string
	name    string
	rssi    int
	state   ConnectionState
	lastErr error
	updated time.Time

	// characteristics is the table from the last completed discovery. It is
	// retained across disconnects and replaced wholesale on the next one.
	characteristics *orderedmap.OrderedMap[string, Characteristic]

	// staged accumulates results while discovery is in flight; pending holds the
	// services whose characteristic discovery has not reported back yet.
	staged  *orderedmap.OrderedMap[string, Characteristic]
	pending map[string]struct{}
}

func (r *record) resetDiscovery() {
	r.staged = nil
	r.pending = nil
}

func (r *record) snapshot() Peripheral {
	p := Peripheral{
		ID:        r.id,
		Name:      r.name,
		State:     r.state,
		RSSI:      r.rssi,
		UpdatedAt: r.updated,
	}
	if r.lastErr != nil {
		p.LastError = r.lastErr.Error()
	}
	if r.state == Ready && r.characteristics != nil && r.characteristics.Len() > 0 {
		p.Characteristics = make([]Characteristic, 0, r.characteristics.Len())
		for pair := r.characteristics.Oldest(); pair != nil; pair = pair.Next() {
			p.Characteristics = append(p.Characteristics, pair.Value)
		}
	}
	return p
}

// registry owns the records in insertion order and publishes snapshots that
// consumers may read from any goroutine.
type registry struct {
	records *orderedmap.OrderedMap[string, *record]

	views *hashmap.Map[string, Peripheral]
	order atomic.Pointer[[]string]
	now   func() time.Time
}

func newRegistry(now func() time.Time) *registry {
	if now == nil {
		now = time.Now
	}
	r := &registry{
		records: orderedmap.New[string, *record](),
		views:   hashmap.New[string, Peripheral](),
		now:     now,
	}
	r.order.Store(&[]string{})
	return r
}

func (r *registry) get(id string) (*record, bool) {
	return r.records.Get(id)
}

// add creates a Discovered record. The caller has already checked that id is new.
func (r *registry) add(id, name string, rssi int) *record {
	rec := &record{
		id:      id,
		name:    name,
		rssi:    rssi,
		state:   Discovered,
		updated: r.now(),
	}
	r.records.Set(id, rec)

	order := append(append([]string(nil), *r.order.Load()...), id)
	r.publish(rec)
	r.order.Store(&order)
	return rec
}

// publish refreshes the consumer-visible snapshot of rec.
func (r *registry) publish(rec *record) Peripheral {
	rec.updated = r.now()
	snap := rec.snapshot()
	r.views.Set(rec.id, snap)
	return snap
}

// each visits records in insertion order.
func (r *registry) each(fn func(rec *record)) {
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Value)
	}
}

// list returns published snapshots in insertion order. Safe for concurrent use.
func (r *registry) list() []Peripheral {
	order := *r.order.Load()
	result := make([]Peripheral, 0, len(order))
	for _, id := range order {
		if p, ok := r.views.Get(id); ok {
			result = append(result, p)
		}
	}
	return result
}

// view returns the published snapshot of one peripheral. Safe for concurrent use.
func (r *registry) view(id string) (Peripheral, bool) {
	return r.views.Get(id)
}

// anyReady is derived from the published snapshots on every call.
func (r *registry) anyReady() bool {
	ready := false
	r.views.Range(func(_ string, p Peripheral) bool {
		if p.State == Ready {
			ready = true
			return false
		}
		return true
	})
	return ready
}
