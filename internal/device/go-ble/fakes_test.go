package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
)

// fakeDevice implements the parts of ble.Device the adapter uses.
type fakeDevice struct {
	ble.Device

	mu       sync.Mutex
	adverts  []ble.Advertisement
	scanErr  error
	dialErr  error
	client   *fakeClient
	stopped  int
	scanning chan struct{}
	live     chan ble.Advertisement // delivered to a scan that is already running
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		client:   newFakeClient(),
		scanning: make(chan struct{}, 1),
		live:     make(chan ble.Advertisement),
	}
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	d.mu.Lock()
	adverts := d.adverts
	scanErr := d.scanErr
	d.mu.Unlock()

	select {
	case d.scanning <- struct{}{}:
	default:
	}
	for _, adv := range adverts {
		h(adv)
	}
	if scanErr != nil {
		return scanErr
	}
	for {
		select {
		case adv := <-d.live:
			h(adv)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *fakeDevice) Dial(_ context.Context, _ ble.Addr) (ble.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	return nil
}

type write struct {
	UUID  string
	Data  []byte
	NoRsp bool
}

// fakeClient implements the parts of ble.Client the adapter uses.
type fakeClient struct {
	ble.Client

	mu       sync.Mutex
	profile  []*ble.Service
	svcErr   error
	charErr  error
	writes   []write
	canceled int
	lost     chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{lost: make(chan struct{})}
}

func (c *fakeClient) DiscoverServices(_ []ble.UUID) ([]*ble.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svcErr != nil {
		return nil, c.svcErr
	}
	return c.profile, nil
}

func (c *fakeClient) DiscoverCharacteristics(_ []ble.UUID, svc *ble.Service) ([]*ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.charErr != nil {
		return nil, c.charErr
	}
	return svc.Characteristics, nil
}

func (c *fakeClient) WriteCharacteristic(char *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, write{UUID: char.UUID.String(), Data: value, NoRsp: noRsp})
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled++
	return nil
}

func (c *fakeClient) setServiceError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.svcErr = err
}

func (c *fakeClient) Canceled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

func (c *fakeClient) Disconnected() <-chan struct{} {
	return c.lost
}

func (c *fakeClient) Writes() []write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]write(nil), c.writes...)
}

// fakeAdvertisement implements the parts of ble.Advertisement the adapter reads.
type fakeAdvertisement struct {
	ble.Advertisement

	name     string
	addr     string
	rssi     int
	services []ble.UUID
}

func (a fakeAdvertisement) LocalName() string    { return a.name }
func (a fakeAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.addr) }
func (a fakeAdvertisement) RSSI() int            { return a.rssi }
func (a fakeAdvertisement) Services() []ble.UUID { return a.services }

// factorySequence returns each error in turn, then dev forever.
func factorySequence(dev ble.Device, errs ...error) func() (ble.Device, error) {
	var mu sync.Mutex
	return func() (ble.Device, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(errs) > 0 {
			err := errs[0]
			errs = errs[1:]
			return nil, err
		}
		if dev == nil {
			return nil, errors.New("no devices available")
		}
		return dev, nil
	}
}
