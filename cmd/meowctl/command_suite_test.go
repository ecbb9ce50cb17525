package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/meowctl/internal/device"
	"github.com/srg/meowctl/internal/devicefactory"
	"github.com/srg/meowctl/internal/testutils"
	"github.com/srg/meowctl/pkg/config"
)

const (
	toyID      = "AA:BB:CC:DD:EE:01"
	toyName    = "Meow Kitty"
	toyService = "12345678123412341234123456789012"
	ledUUID    = "87654321432143214321210987654321"
	treatUUID  = "87654324432143214321210987654321"
)

// CommandSuite runs commands against a real central manager whose adapter is
// a scripted mock.
type CommandSuite struct {
	suite.Suite

	builder    *testutils.AdapterBuilder
	radio      *testutils.AdapterHarness
	configPath string
	saved      devicefactory.Constructor
}

func (s *CommandSuite) SetupTest() {
	s.builder = testutils.NewAdapterBuilder()
	s.radio = nil

	s.configPath = filepath.Join(s.T().TempDir(), "config.yaml")
	s.writeConfig("log_level: error\n")

	s.saved = devicefactory.Backends[config.BackendGoBLE]
	devicefactory.Backends[config.BackendGoBLE] = func(*config.Config, *logrus.Logger) device.Adapter {
		return s.adapter().Adapter()
	}

	// package-level flag values survive between executions
	listDuration, listFormat = 10*time.Second, "table"
	sendTimeout = 30 * time.Second
	playTimeout, playList = 30*time.Second, false
	runOSCListen, runOSCFeedback = "", ""
}

func (s *CommandSuite) TearDownTest() {
	devicefactory.Backends[config.BackendGoBLE] = s.saved
}

func (s *CommandSuite) writeConfig(content string) {
	s.Require().NoError(os.WriteFile(s.configPath, []byte(content), 0o644))
}

// adapter builds the mock on first use so tests may register failures first.
func (s *CommandSuite) adapter() *testutils.AdapterHarness {
	if s.radio == nil {
		s.radio = s.builder.Build(s.T())
	}
	return s.radio
}

// readyToy queues the events that take one toy from power-on to Ready.
func (s *CommandSuite) readyToy() {
	s.adapter().Emit(
		device.PowerStateChanged{State: device.PoweredOn},
		device.AdvertisementReceived{ID: toyID, Name: toyName, RSSI: -42},
		device.Connected{ID: toyID},
		device.ServicesDiscovered{ID: toyID, Services: []string{toyService}},
		device.CharacteristicsDiscovered{ID: toyID, Service: toyService, Characteristics: []string{ledUUID, treatUUID}},
	)
}

// Execute runs rootCmd with args plus --config and returns stdout and the error.
func (s *CommandSuite) Execute(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args, "--config", s.configPath))
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}
