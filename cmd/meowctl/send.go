package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <toy> <feature> <on|off>",
	Short: "Switch a feature on one toy",
	Long: `Wait until the toy (matched by address or advertised name) is connected and
ready, then write the feature's on or off command once.`,
	Example: `  meowctl send "Meow Kitty" LED on
  meowctl send AA:BB:CC:DD:EE:01 "Dispense Treat" on`,
	Args: cobra.ExactArgs(3),
	RunE: runSend,
}

var sendTimeout time.Duration

func init() {
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 30*time.Second, "How long to wait for the toy to become ready")
}

// parseOn accepts on/off and the usual boolean spellings.
func parseOn(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w %q: expected on or off", ErrInvalidValue, v)
}

func runSend(cmd *cobra.Command, args []string) error {
	ref, featureName := args[0], args[1]
	on, err := parseOn(args[2])
	if err != nil {
		return err
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	feature, err := s.manager.Catalog().Lookup(featureName)
	if err != nil {
		return err
	}
	command, err := feature.Command(on)
	if err != nil {
		return err
	}

	ctx := s.start(cmd)
	defer func() { _ = s.stop() }()

	p, err := s.waitReady(ctx, ref, sendTimeout)
	if err != nil {
		return err
	}
	if err := s.manager.Dispatch(ctx, p.ID, feature.Name, on); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s on %s\n", command, feature.Name, displayName(p))
	return s.stop()
}
