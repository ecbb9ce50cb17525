package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/meowctl/internal/central"
	"github.com/srg/meowctl/internal/devicefactory"
	"github.com/srg/meowctl/internal/groutine"
	"github.com/srg/meowctl/internal/routine"
	"github.com/srg/meowctl/pkg/config"
)

// session is one running central manager plus what commands need around it.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *central.Manager

	cancel   context.CancelFunc
	sigCh    chan os.Signal
	errc     chan error
	stopOnce sync.Once
	runErr   error
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	adapter, err := devicefactory.NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := central.NewManager(adapter, central.Options{
		Filter:  cfg.Filter(),
		Catalog: cat,
		Logger:  logger,
	})
	return &session{cfg: cfg, logger: logger, manager: m}, nil
}

// start runs the manager until the returned context is cancelled, either by
// stop, by the parent, or by Ctrl+C.
func (s *session) start(cmd *cobra.Command) context.Context {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.errc = make(chan error, 1)

	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-s.sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	groutine.Go(ctx, "central-manager", func(ctx context.Context) {
		s.errc <- s.manager.Run(ctx)
	})
	return ctx
}

// stop cancels the manager and returns its exit error. Cancellation is not
// an error. It is safe to call more than once.
func (s *session) stop() error {
	s.stopOnce.Do(func() {
		signal.Stop(s.sigCh)
		s.cancel()
		err := <-s.errc
		if !errors.Is(err, context.Canceled) {
			s.runErr = err
		}
	})
	return s.runErr
}

// waitReady waits up to timeout (0 means forever) for ref to become Ready.
// When the manager exits first, its error is the one reported.
func (s *session) waitReady(ctx context.Context, ref string, timeout time.Duration) (central.Peripheral, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p, err := s.manager.WaitReady(ctx, ref)
	if errors.Is(err, central.ErrManagerStopped) {
		if runErr := s.stop(); runErr != nil {
			return central.Peripheral{}, runErr
		}
		if ctx.Err() != nil {
			return central.Peripheral{}, ctx.Err()
		}
	}
	return p, err
}

// loadLibrary returns the builtin routines plus those in routines_dir.
func loadLibrary(cfg *config.Config) (*routine.Library, error) {
	lib, err := routine.Builtins()
	if err != nil {
		return nil, err
	}
	if cfg.RoutinesDir != "" {
		if err := lib.LoadDir(cfg.RoutinesDir); err != nil {
			return nil, err
		}
	}
	return lib, nil
}
