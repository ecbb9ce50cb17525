// Package routine runs Lua play routines against the central manager.
//
// A routine sees a global `target` (the peripheral id it was started for, or
// nil) and a `meow` table:
//
//	meow.dispatch(id, feature, on) -> ok, err
//	meow.sleep(ms)
//	meow.peripherals()             -> { id, ... } of Ready peripherals
//	meow.log(msg)
//
// print() output is captured as OutputRecords instead of going to stdout.
package routine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/central"
	"github.com/srg/meowctl/internal/ringchan"
)

// DefaultOutputBuffer is the number of output records kept for slow readers.
const DefaultOutputBuffer = 256

var errCancelled = errors.New("routine cancelled")

// Controller is what routines may drive. *central.Manager implements it.
type Controller interface {
	Dispatch(ctx context.Context, peripheralID, feature string, on bool) error
	ListPeripherals() []central.Peripheral
}

// OutputRecord is one captured line of routine output.
type OutputRecord struct {
	Routine   string    `json:"routine"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// Error describes a routine that failed to load or run.
type Error struct {
	Type    string // "syntax" or "runtime"
	Routine string
	Line    int
	Message string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("routine %q: %s error at line %d: %s", e.Routine, e.Type, e.Line, e.Message)
	}
	return fmt.Sprintf("routine %q: %s error: %s", e.Routine, e.Type, e.Message)
}

// Is matches another *Error of the same Type.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Type == other.Type
	}
	return false
}

// Sentinels for errors.Is
var (
	ErrSyntax  = &Error{Type: "syntax"}
	ErrRuntime = &Error{Type: "runtime"}
)

// Engine runs routines, each in a fresh Lua state.
type Engine struct {
	ctrl   Controller
	logger *logrus.Logger
	output *ringchan.RingChannel[OutputRecord]

	sleepScale float64 // multiplies meow.sleep durations
}

// NewEngine creates an engine. A nil logger is replaced by logrus.New().
func NewEngine(ctrl Controller, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		ctrl:   ctrl,
		logger: logger,
		output: ringchan.New[OutputRecord](DefaultOutputBuffer),

		sleepScale: 1,
	}
}

// Output delivers captured print() output of every run. The oldest records
// are dropped when nobody reads.
func (e *Engine) Output() <-chan OutputRecord {
	return e.output.C()
}

// Close ends the output stream.
func (e *Engine) Close() {
	e.output.Close()
}

// Run executes r until it finishes or ctx is cancelled. target may be empty.
func (e *Engine) Run(ctx context.Context, r Routine, target string) error {
	log := e.logger.WithFields(logrus.Fields{"routine": r.Name, "peripheral": target})
	log.Debug("Starting routine")

	L := lua.NewState()
	defer L.Close()
	L.OpenLibs()

	x := &execution{engine: e, ctx: ctx, routine: r.Name, log: log}
	x.register(L, target)

	if status := L.LoadString(r.Source); status != 0 {
		msg := L.ToString(-1)
		L.Pop(1)
		err := newError("syntax", r.Name, msg)
		x.emit("stderr", err.Error())
		return err
	}

	if err := L.Call(0, 0); err != nil {
		if ctx.Err() != nil {
			log.Debug("Routine cancelled")
			return fmt.Errorf("routine %q: %w", r.Name, ctx.Err())
		}
		rerr := newError("runtime", r.Name, err.Error())
		x.emit("stderr", rerr.Error())
		log.WithError(rerr).Warn("Routine failed")
		return rerr
	}

	log.Debug("Routine finished")
	return nil
}

var luaPosition = regexp.MustCompile(`^(?:.*?):(\d+): (.*)$`)

func newError(kind, routine, msg string) *Error {
	first := strings.SplitN(msg, "\n", 2)[0]
	if m := luaPosition.FindStringSubmatch(first); m != nil {
		line, _ := strconv.Atoi(m[1])
		return &Error{Type: kind, Routine: routine, Line: line, Message: m[2]}
	}
	return &Error{Type: kind, Routine: routine, Message: first}
}

// execution is the per-run binding between one Lua state and the engine.
type execution struct {
	engine  *Engine
	ctx     context.Context
	routine string
	log     *logrus.Entry
}

func (x *execution) register(L *lua.State, target string) {
	L.PushGoFunction(x.print)
	L.SetGlobal("print")

	if target != "" {
		L.PushString(target)
	} else {
		L.PushNil()
	}
	L.SetGlobal("target")

	L.NewTable()
	setFunction(L, "dispatch", x.dispatch)
	setFunction(L, "sleep", x.sleep)
	setFunction(L, "peripherals", x.peripherals)
	setFunction(L, "log", x.logMessage)
	L.SetGlobal("meow")
}

func setFunction(L *lua.State, name string, fn lua.LuaGoFunction) {
	L.PushString(name)
	L.PushGoFunction(fn)
	L.SetTable(-3)
}

func (x *execution) emit(source, content string) {
	x.engine.output.Send(OutputRecord{
		Routine:   x.routine,
		Content:   content,
		Timestamp: time.Now(),
		Source:    source,
	})
}

func (x *execution) dispatch(L *lua.State) int {
	if !L.IsString(1) || !L.IsString(2) {
		L.RaiseError("dispatch(id, feature, on): id and feature must be strings")
		return 0
	}
	id := L.ToString(1)
	feature := L.ToString(2)
	on, err := toOn(L, 3)
	if err != nil {
		L.RaiseError("dispatch(): " + err.Error())
		return 0
	}
	if x.ctx.Err() != nil {
		L.RaiseError(errCancelled.Error())
		return 0
	}

	if err := x.engine.ctrl.Dispatch(x.ctx, id, feature, on); err != nil {
		if x.ctx.Err() != nil {
			L.RaiseError(errCancelled.Error())
			return 0
		}
		x.log.WithError(err).WithField("feature", feature).Debug("Routine dispatch failed")
		L.PushBoolean(false)
		L.PushString(err.Error())
		return 2
	}
	L.PushBoolean(true)
	return 1
}

// toOn accepts booleans, numbers (non-zero is on) and "on"/"off" style strings.
func toOn(L *lua.State, idx int) (bool, error) {
	switch L.Type(idx) {
	case lua.LUA_TBOOLEAN:
		return L.ToBoolean(idx), nil
	case lua.LUA_TNUMBER:
		return L.ToNumber(idx) != 0, nil
	case lua.LUA_TSTRING:
		switch strings.ToLower(L.ToString(idx)) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("invalid value %q, expected on or off", L.ToString(idx))
	default:
		return false, fmt.Errorf("argument #%d must be a boolean, number or string", idx)
	}
}

func (x *execution) sleep(L *lua.State) int {
	if !L.IsNumber(1) {
		L.RaiseError("sleep(ms): ms must be a number")
		return 0
	}
	ms := L.ToInteger(1)
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(float64(ms) * float64(time.Millisecond) * x.engine.sleepScale)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-x.ctx.Done():
		L.RaiseError(errCancelled.Error())
	case <-timer.C:
	}
	return 0
}

func (x *execution) peripherals(L *lua.State) int {
	L.NewTable()
	i := int64(1)
	for _, p := range x.engine.ctrl.ListPeripherals() {
		if p.State != central.Ready {
			continue
		}
		L.PushInteger(i)
		L.PushString(p.ID)
		L.SetTable(-3)
		i++
	}
	return 1
}

func (x *execution) logMessage(L *lua.State) int {
	if L.GetTop() < 1 {
		return 0
	}
	x.log.Info(L.ToString(1))
	return 0
}

func (x *execution) print(L *lua.State) int {
	top := L.GetTop()
	parts := make([]string, 0, top)

	for i := 1; i <= top; i++ {
		switch {
		case L.IsNil(i):
			parts = append(parts, "nil")
		case L.IsBoolean(i):
			parts = append(parts, strconv.FormatBool(L.ToBoolean(i)))
		case L.IsNumber(i):
			parts = append(parts, strconv.FormatFloat(L.ToNumber(i), 'g', -1, 64))
		case L.IsString(i):
			parts = append(parts, L.ToString(i))
		default:
			L.GetGlobal("tostring")
			L.PushValue(i)
			L.Call(1, 1)
			parts = append(parts, L.ToString(-1))
			L.Pop(1)
		}
	}

	x.emit("stdout", strings.Join(parts, "\t"))
	return 0
}
