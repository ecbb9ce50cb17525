package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "meowctl",
	Short: "Control Meow BLE cat toys",
	Long: `meowctl keeps every nearby Meow toy connected and lets you drive its features:

- Scan for toys advertising the configured name prefix and connect automatically
- Discover services and characteristics, reconnecting after link loss
- Switch features (LED, Move Feather, Play Sound, Dispense Treat) on and off
- Play scripted routines written in Lua
- Accept commands over OSC for show controllers and VR rigs

Configuration is read from ~/.config/meowctl/config.yaml when present.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(featuresCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/meowctl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
