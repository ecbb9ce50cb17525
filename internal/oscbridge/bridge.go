// Package oscbridge exposes the central manager over OSC (UDP).
//
// Incoming:
//
//	/meow/dispatch s:peripheral s:feature (T|F|i|f|s):value
//	/meow/routine  s:name [s:peripheral]
//
// Outgoing, when a feedback address is configured:
//
//	/meow/state s:id s:state
//	/meow/power s:power
package oscbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/hypebeast/go-osc/osc"
	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/central"
	"github.com/srg/meowctl/internal/groutine"
)

// OSC addresses
const (
	AddrDispatch = "/meow/dispatch"
	AddrRoutine  = "/meow/routine"
	AddrState    = "/meow/state"
	AddrPower    = "/meow/power"
)

var ErrBadMessage = errors.New("malformed OSC message")

// Controller is the part of the manager the bridge drives.
type Controller interface {
	Dispatch(ctx context.Context, peripheralID, feature string, on bool) error
	Lookup(ref string) (central.Peripheral, bool)
}

// PlayFunc starts a routine by name. target may be empty.
type PlayFunc func(ctx context.Context, name, target string) error

// Options configures a Bridge.
type Options struct {
	Listen   string   // host:port to receive commands on
	Feedback string   // host:port to send state changes to, optional
	Play     PlayFunc // nil disables /meow/routine
	Logger   *logrus.Logger
}

// sender is satisfied by *osc.Client.
type sender interface {
	Send(packet osc.Packet) error
}

// Bridge translates OSC messages into manager calls and change
// notifications into OSC feedback.
type Bridge struct {
	ctrl     Controller
	play     PlayFunc
	logger   *logrus.Logger
	listen   string
	feedback sender

	mu       sync.Mutex
	ctx      context.Context
	conn     net.PacketConn
	stopPlay context.CancelFunc
}

// New validates opts and creates a bridge. Nothing is opened until Listen.
func New(ctrl Controller, opts Options) (*Bridge, error) {
	if opts.Listen == "" {
		return nil, fmt.Errorf("osc: listen address is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	b := &Bridge{
		ctrl:   ctrl,
		play:   opts.Play,
		logger: opts.Logger,
		listen: opts.Listen,
		ctx:    context.Background(),
	}

	if opts.Feedback != "" {
		host, portStr, err := net.SplitHostPort(opts.Feedback)
		if err != nil {
			return nil, fmt.Errorf("osc: feedback address %q: %w", opts.Feedback, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("osc: feedback port %q: %w", portStr, err)
		}
		b.feedback = osc.NewClient(host, port)
	}
	return b, nil
}

// Listen binds the UDP socket.
func (b *Bridge) Listen() error {
	conn, err := net.ListenPacket("udp", b.listen)
	if err != nil {
		return fmt.Errorf("osc: listen on %s: %w", b.listen, err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr()
}

// Serve handles messages until ctx is cancelled. It calls Listen if needed.
func (b *Bridge) Serve(ctx context.Context) error {
	if b.Addr() == nil {
		if err := b.Listen(); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.ctx = ctx
	conn := b.conn
	b.mu.Unlock()

	dispatcher := osc.NewStandardDispatcher()
	if err := dispatcher.AddMsgHandler(AddrDispatch, b.handleDispatch); err != nil {
		return err
	}
	if err := dispatcher.AddMsgHandler(AddrRoutine, b.handleRoutine); err != nil {
		return err
	}

	server := &osc.Server{Dispatcher: dispatcher}

	groutine.Go(ctx, "osc-close", func(ctx context.Context) {
		<-ctx.Done()
		_ = conn.Close()
	})

	b.logger.WithField("addr", conn.LocalAddr().String()).Info("Listening for OSC")
	err := server.Serve(conn)
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("osc: serve: %w", err)
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bridge) handleDispatch(msg *osc.Message) {
	log := b.logger.WithField("osc", msg.Address)

	ref, feature, on, err := parseDispatch(msg)
	if err != nil {
		log.WithError(err).Warn("Ignoring OSC dispatch")
		return
	}

	id := ref
	if p, ok := b.ctrl.Lookup(ref); ok {
		id = p.ID
	}

	log = log.WithFields(logrus.Fields{"peripheral": id, "feature": feature, "on": on})
	if err := b.ctrl.Dispatch(b.context(), id, feature, on); err != nil {
		log.WithError(err).Warn("OSC dispatch failed")
		return
	}
	log.Debug("OSC dispatch sent")
}

func (b *Bridge) handleRoutine(msg *osc.Message) {
	log := b.logger.WithField("osc", msg.Address)
	if b.play == nil {
		log.Warn("Routines are not available")
		return
	}

	name, target, err := parseRoutine(msg)
	if err != nil {
		log.WithError(err).Warn("Ignoring OSC routine request")
		return
	}
	if target != "" {
		if p, ok := b.ctrl.Lookup(target); ok {
			target = p.ID
		}
	}

	// A new request replaces the routine that is playing.
	b.mu.Lock()
	if b.stopPlay != nil {
		b.stopPlay()
	}
	ctx, cancel := context.WithCancel(b.ctx)
	b.stopPlay = cancel
	b.mu.Unlock()

	log = log.WithFields(logrus.Fields{"routine": name, "peripheral": target})
	groutine.GoSafe(ctx, "osc-routine", b.logger, func(ctx context.Context) {
		defer cancel()
		if err := b.play(ctx, name, target); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("OSC routine failed")
		}
	}, nil)
}

func parseDispatch(msg *osc.Message) (ref, feature string, on bool, err error) {
	if len(msg.Arguments) != 3 {
		return "", "", false, fmt.Errorf("%w: %s expects 3 arguments, got %d", ErrBadMessage, AddrDispatch, len(msg.Arguments))
	}
	ref, ok1 := msg.Arguments[0].(string)
	feature, ok2 := msg.Arguments[1].(string)
	if !ok1 || !ok2 || ref == "" || feature == "" {
		return "", "", false, fmt.Errorf("%w: peripheral and feature must be non-empty strings", ErrBadMessage)
	}
	on, err = toOn(msg.Arguments[2])
	return ref, feature, on, err
}

func parseRoutine(msg *osc.Message) (name, target string, err error) {
	if len(msg.Arguments) < 1 || len(msg.Arguments) > 2 {
		return "", "", fmt.Errorf("%w: %s expects 1 or 2 arguments, got %d", ErrBadMessage, AddrRoutine, len(msg.Arguments))
	}
	name, ok := msg.Arguments[0].(string)
	if !ok || name == "" {
		return "", "", fmt.Errorf("%w: routine name must be a non-empty string", ErrBadMessage)
	}
	if len(msg.Arguments) == 2 {
		if target, ok = msg.Arguments[1].(string); !ok {
			return "", "", fmt.Errorf("%w: peripheral must be a string", ErrBadMessage)
		}
	}
	return name, target, nil
}

func toOn(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int32:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case float32:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(x) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: unsupported value %v (%T)", ErrBadMessage, v, v)
}
