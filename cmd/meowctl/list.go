package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Scan for toys and list them",
	Long: `Run the central for a while, then print every toy it found with its
connection state and available features.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listDuration time.Duration
	listFormat   string
)

func init() {
	listCmd.Flags().DurationVarP(&listDuration, "duration", "d", 10*time.Second, "How long to scan and connect")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format (table, json)")
}

func runList(cmd *cobra.Command, args []string) error {
	if listFormat != "table" && listFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", listFormat)
	}
	if listDuration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx := s.start(cmd)
	timer := time.NewTimer(listDuration)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-s.manager.Done():
	}

	peripherals := s.manager.ListPeripherals()
	power := s.manager.Power()
	// An interrupted scan still prints what was found so far.
	if err := s.stop(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if listFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(newListing(power, peripherals, listDuration))
	}
	pal := newPalette(out)
	fmt.Fprintf(out, "Bluetooth: %s\n", pal.power(power))
	return writePeripheralTable(out, pal, peripherals)
}
