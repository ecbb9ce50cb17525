// Package catalog maps characteristic UUIDs to the logical features they control
// and to the command payloads each feature accepts.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/srg/meowctl/internal/device"
)

// Logical feature names understood by the toy firmware.
const (
	FeatureLED         = "LED"
	FeatureMoveFeather = "Move Feather"
	FeaturePlaySound   = "Play Sound"
	FeatureTreat       = "Dispense Treat"
)

// Command is an exact ASCII payload written to a feature characteristic.
// No framing or terminator is added.
type Command string

const (
	CommandOn       Command = "ON"
	CommandOff      Command = "OFF"
	CommandPlay     Command = "PLAY"
	CommandStop     Command = "STOP"
	CommandDispense Command = "DISPENSE"
)

// Payload returns the bytes written for the command.
func (c Command) Payload() []byte {
	return []byte(c)
}

var (
	ErrUnknownFeature     = errors.New("unknown feature")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// Feature ties a logical name to its characteristic and commands.
// An empty Off means the feature is one-shot and cannot be switched off.
type Feature struct {
	Name string
	UUID string // normalized
	On   Command
	Off  Command
}

// Command resolves the desired value into the payload for this feature.
func (f Feature) Command(on bool) (Command, error) {
	if on {
		return f.On, nil
	}
	if f.Off == "" {
		return "", fmt.Errorf("%w: %q has no off command", ErrUnsupportedCommand, f.Name)
	}
	return f.Off, nil
}

// Catalog is an immutable two-way lookup between feature names and characteristic UUIDs.
type Catalog struct {
	byName map[string]Feature
	byUUID map[string]Feature
}

// DefaultFeatures returns the features exposed by the stock firmware.
func DefaultFeatures() []Feature {
	return []Feature{
		{Name: FeatureLED, UUID: device.NormalizeUUID("87654321-4321-4321-4321-210987654321"), On: CommandOn, Off: CommandOff},
		{Name: FeatureMoveFeather, UUID: device.NormalizeUUID("87654322-4321-4321-4321-210987654321"), On: CommandOn, Off: CommandOff},
		{Name: FeaturePlaySound, UUID: device.NormalizeUUID("87654323-4321-4321-4321-210987654321"), On: CommandPlay, Off: CommandStop},
		{Name: FeatureTreat, UUID: device.NormalizeUUID("87654324-4321-4321-4321-210987654321"), On: CommandDispense},
	}
}

// Default returns a catalog of DefaultFeatures.
func Default() *Catalog {
	c, err := New(DefaultFeatures()...)
	if err != nil {
		panic(err)
	}
	return c
}

// New builds a catalog. Names and UUIDs must both be unique.
func New(features ...Feature) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]Feature, len(features)),
		byUUID: make(map[string]Feature, len(features)),
	}
	for _, f := range features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature name cannot be empty")
		}
		if f.On == "" {
			return nil, fmt.Errorf("feature %q has no on command", f.Name)
		}
		uuid := device.NormalizeUUID(f.UUID)
		if uuid == "" {
			return nil, fmt.Errorf("feature %q has invalid UUID %q", f.Name, f.UUID)
		}
		f.UUID = uuid
		if _, dup := c.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		if other, dup := c.byUUID[uuid]; dup {
			return nil, fmt.Errorf("features %q and %q share UUID %s", other.Name, f.Name, uuid)
		}
		c.byName[f.Name] = f
		c.byUUID[uuid] = f
	}
	return c, nil
}

// Lookup returns the feature bound to a feature name.
func (c *Catalog) Lookup(name string) (Feature, error) {
	f, ok := c.byName[name]
	if !ok {
		return Feature{}, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}
	return f, nil
}

// NameOf returns the logical name for a characteristic UUID, or "" if it is not catalogued.
func (c *Catalog) NameOf(uuid string) string {
	return c.byUUID[device.NormalizeUUID(uuid)].Name
}

// Features lists every catalogued feature sorted by name.
func (c *Catalog) Features() []Feature {
	result := make([]Feature, 0, len(c.byName))
	for _, f := range c.byName {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
