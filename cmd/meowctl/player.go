package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/srg/meowctl/internal/routine"
)

const (
	playerFlushInterval = 100 * time.Millisecond
	playerBuffer        = 1024
)

// player runs routines against the session's manager and prints their
// output while they play.
type player struct {
	lib       *routine.Library
	engine    *routine.Engine
	collector *routine.Collector
	out       io.Writer
	pal       *palette

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPlayer(s *session, lib *routine.Library, out io.Writer) (*player, error) {
	engine := routine.NewEngine(s.manager, s.logger)
	collector, err := routine.NewCollector(engine.Output(), playerBuffer)
	if err != nil {
		return nil, err
	}
	if err := collector.Start(); err != nil {
		return nil, err
	}

	p := &player{
		lib:       lib,
		engine:    engine,
		collector: collector,
		out:       out,
		pal:       newPalette(out),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go p.pump()
	return p, nil
}

// lookupRoutine resolves a routine name, listing the known ones on failure.
func lookupRoutine(lib *routine.Library, name string) (routine.Routine, error) {
	r, ok := lib.Lookup(name)
	if !ok {
		return routine.Routine{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownRoutine, name, strings.Join(lib.Names(), ", "))
	}
	return r, nil
}

// play runs a routine to completion. It matches oscbridge.PlayFunc.
func (p *player) play(ctx context.Context, name, target string) error {
	r, err := lookupRoutine(p.lib, name)
	if err != nil {
		return err
	}
	return p.engine.Run(ctx, r, target)
}

func (p *player) pump() {
	defer close(p.done)
	ticker := time.NewTicker(playerFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.flush()
		}
	}
}

func (p *player) flush() {
	for _, rec := range p.collector.Drain() {
		line := fmt.Sprintf("[%s] %s", rec.Routine, rec.Content)
		if rec.Source == "stderr" {
			line = p.pal.bad.Sprint(line)
		}
		fmt.Fprintln(p.out, line)
	}
}

// close stops output collection and prints whatever is left.
func (p *player) close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		p.collector.Stop()
		p.engine.Close()
		p.flush()
	})
}
