package device

// Event is one notification reported by an Adapter.
type Event interface {
	// Peripheral returns the peripheral the event concerns, or "" for adapter-wide events.
	Peripheral() string
}

// PowerStateChanged reports a new adapter power state.
type PowerStateChanged struct {
	State PowerState
}

// AdvertisementReceived reports an advertisement seen while scanning.
type AdvertisementReceived struct {
	ID           string
	Name         string
	ServiceUUIDs []string
	RSSI         int
}

// Connected reports that a link to the peripheral is up.
type Connected struct {
	ID string
}

// Disconnected reports that a connect attempt failed or an established link dropped.
type Disconnected struct {
	ID  string
	Err error // ErrConnectionFailed or ErrConnectionLost, possibly wrapped
}

// ServicesDiscovered carries the result of DiscoverServices.
type ServicesDiscovered struct {
	ID       string
	Services []string
	Err      error
}

// CharacteristicsDiscovered carries the result of DiscoverCharacteristics for one service.
type CharacteristicsDiscovered struct {
	ID              string
	Service         string
	Characteristics []string
	Err             error
}

func (PowerStateChanged) Peripheral() string           { return "" }
func (e AdvertisementReceived) Peripheral() string     { return e.ID }
func (e Connected) Peripheral() string                 { return e.ID }
func (e Disconnected) Peripheral() string              { return e.ID }
func (e ServicesDiscovered) Peripheral() string        { return e.ID }
func (e CharacteristicsDiscovered) Peripheral() string { return e.ID }
