package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srg/meowctl/internal/groutine"
	"github.com/srg/meowctl/internal/oscbridge"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep toys connected and show live state changes",
	Long: `Run the central until interrupted: scan for toys, connect, discover their
features, reconnect after link loss and print every change as it happens.

With --osc (or osc.listen in the config file) commands are also accepted over
OSC, and state changes are echoed to --osc-feedback when set.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runOSCListen   string
	runOSCFeedback string
)

func init() {
	runCmd.Flags().StringVar(&runOSCListen, "osc", "", "Accept OSC commands on host:port")
	runCmd.Flags().StringVar(&runOSCFeedback, "osc-feedback", "", "Send OSC state feedback to host:port")
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	listen, feedback := s.cfg.OSC.Listen, s.cfg.OSC.Feedback
	if runOSCListen != "" {
		listen = runOSCListen
	}
	if runOSCFeedback != "" {
		feedback = runOSCFeedback
	}

	out := cmd.OutOrStdout()
	pal := newPalette(out)

	sub := s.manager.Subscribe()
	defer sub.Close()

	ctx := s.start(cmd)
	defer func() { _ = s.stop() }()

	if listen != "" {
		pl, err := startOSC(ctx, s, out, listen, feedback)
		if err != nil {
			return err
		}
		defer pl.close()
	}

	fmt.Fprintln(out, "Watching for Meow toys, press Ctrl+C to stop")
	var skipped int64
	for {
		select {
		case <-ctx.Done():
			return s.stop()
		case c, ok := <-sub.C():
			if !ok {
				return s.stop()
			}
			if n := sub.Dropped(); n > skipped {
				fmt.Fprintf(out, "... %d updates skipped\n", n-skipped)
				skipped = n
			}
			fmt.Fprintln(out, formatChange(pal, c))
		}
	}
}

// startOSC binds the OSC bridge and serves it for the lifetime of ctx.
func startOSC(ctx context.Context, s *session, out io.Writer, listen, feedback string) (*player, error) {
	lib, err := loadLibrary(s.cfg)
	if err != nil {
		return nil, err
	}
	pl, err := newPlayer(s, lib, out)
	if err != nil {
		return nil, err
	}

	bridge, err := oscbridge.New(s.manager, oscbridge.Options{
		Listen:   listen,
		Feedback: feedback,
		Play:     pl.play,
		Logger:   s.logger,
	})
	if err != nil {
		pl.close()
		return nil, err
	}
	if err := bridge.Listen(); err != nil {
		pl.close()
		return nil, err
	}

	fmt.Fprintf(out, "OSC listening on %s\n", bridge.Addr())
	groutine.Go(ctx, "osc-server", func(ctx context.Context) {
		if err := bridge.Serve(ctx); err != nil {
			s.logger.WithError(err).Error("OSC server stopped")
		}
	})

	if bridge.HasFeedback() {
		fsub := s.manager.Subscribe()
		groutine.Go(ctx, "osc-feedback", func(ctx context.Context) {
			defer fsub.Close()
			bridge.Forward(ctx, fsub.C())
		})
	}
	return pl, nil
}
