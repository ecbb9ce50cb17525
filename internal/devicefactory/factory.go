// Package devicefactory builds the device.Adapter selected by configuration.
package devicefactory

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/device/go-ble"
	"github.com/srg/meowctl/internal/device/tinygo"
	"github.com/srg/meowctl/pkg/config"
)

// Constructor creates an adapter from configuration.
type Constructor func(cfg *config.Config, logger *logrus.Logger) device.Adapter

// Backends maps backend names to constructors.
// This is a variable so that it can be overridden in tests.
var Backends = map[string]Constructor{
	config.BackendGoBLE: func(cfg *config.Config, logger *logrus.Logger) device.Adapter {
		return goble.New(goble.Options{
			ConnectTimeout:    cfg.ConnectTimeout,
			PowerPollInterval: cfg.PowerPollInterval,
			AllowDuplicates:   cfg.Scan.AllowDuplicates,
			EventBuffer:       cfg.EventBuffer,
			Logger:            logger,
		})
	},
	config.BackendTinyGo: func(cfg *config.Config, logger *logrus.Logger) device.Adapter {
		return tinygo.New(tinygo.Options{
			PowerPollInterval: cfg.PowerPollInterval,
			EventBuffer:       cfg.EventBuffer,
			Logger:            logger,
		})
	},
}

// NewAdapter returns the adapter for cfg.Backend.
func NewAdapter(cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	ctor, ok := Backends[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", cfg.Backend, Names())
	}
	logger.WithField("backend", cfg.Backend).Debug("Creating BLE adapter")
	return ctor(cfg, logger), nil
}

// Names lists the registered backends.
func Names() []string {
	names := make([]string, 0, len(Backends))
	for name := range Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
