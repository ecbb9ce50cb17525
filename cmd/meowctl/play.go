package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <routine> [toy]",
	Short: "Play a routine",
	Long: `Wait for a toy to become ready, then run a Lua routine. With a toy argument
the routine targets that toy; otherwise it plays with every ready toy.

Built-in routines: "Trick or Treat", "Where are you", "Catch it!". More are
loaded from the routines_dir configured in the config file.`,
	Example: `  meowctl play "Catch it!"
  meowctl play "Where are you" "Meow Kitty"
  meowctl play --list`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runPlay,
}

var (
	playTimeout time.Duration
	playList    bool
)

func init() {
	playCmd.Flags().DurationVarP(&playTimeout, "timeout", "t", 30*time.Second, "How long to wait for a ready toy")
	playCmd.Flags().BoolVarP(&playList, "list", "l", false, "List available routines")
}

func runPlay(cmd *cobra.Command, args []string) error {
	if playList {
		return listRoutines(cmd)
	}
	if len(args) == 0 {
		return fmt.Errorf("routine name is required (see --list)")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	lib, err := loadLibrary(s.cfg)
	if err != nil {
		return err
	}
	r, err := lookupRoutine(lib, args[0])
	if err != nil {
		return err
	}
	ref := ""
	if len(args) == 2 {
		ref = args[1]
	}

	ctx := s.start(cmd)
	defer func() { _ = s.stop() }()

	p, err := s.waitReady(ctx, ref, playTimeout)
	if err != nil {
		return err
	}
	target := ""
	if ref != "" {
		target = p.ID
	}

	out := cmd.OutOrStdout()
	pl, err := newPlayer(s, lib, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Playing %s\n", r.Name)
	err = pl.play(ctx, r.Name, target)
	pl.close()
	if err != nil {
		return err
	}
	return s.stop()
}

func listRoutines(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	lib, err := loadLibrary(cfg)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUTINE\tORIGIN\tDESCRIPTION")
	for _, r := range lib.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Origin, orDash(r.Description))
	}
	return tw.Flush()
}
