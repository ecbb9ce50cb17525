package central

import "fmt"

// ConnectionState is the lifecycle position of one managed peripheral.
// On success it advances strictly in declaration order up to Ready; any
// connection loss reverts it to Disconnected.
type ConnectionState int

const (
	Discovered ConnectionState = iota
	Connecting
	Connected
	DiscoveringServices
	DiscoveringCharacteristics
	Ready
	Disconnected
)

var connectionStateNames = [...]string{
	Discovered:                 "discovered",
	Connecting:                 "connecting",
	Connected:                  "connected",
	DiscoveringServices:        "discoveringServices",
	DiscoveringCharacteristics: "discoveringCharacteristics",
	Ready:                      "ready",
	Disconnected:               "disconnected",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionStateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
	return connectionStateNames[s]
}

// MarshalText renders the state by name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// connectable reports whether a connect attempt may be issued from this state.
func (s ConnectionState) connectable() bool {
	return s == Discovered || s == Disconnected
}
