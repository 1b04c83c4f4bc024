// Package p2plog implements a small leveled, colorized console logger, in
// the style of go-ethereum's own log package: color via
// github.com/fatih/color, TTY detection via github.com/mattn/go-isatty,
// and colorable Windows output via github.com/mattn/go-colorable.
package p2plog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log severity, ordered least to most severe.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?????"
	}
}

var levelColor = map[Level]*color.Color{
	LevelTrace: color.New(color.FgHiBlack),
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Logger is the interface every p2p component depends on. Root and With
// are the two ways to obtain one.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	// With returns a Logger that prepends ctx to every subsequent call.
	With(ctx ...interface{}) Logger
}

type logger struct {
	mu       *sync.Mutex
	out      io.Writer
	colorize bool
	minLevel Level
	ctx      []interface{}
}

var root = newRootLogger()

func newRootLogger() *logger {
	w := colorable.NewColorable(os.Stderr)
	return &logger{
		mu:       &sync.Mutex{},
		out:      w,
		colorize: isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
		minLevel: LevelInfo,
	}
}

// Root returns the process-wide default logger.
func Root() Logger { return root }

// SetLevel adjusts the minimum level emitted by the root logger.
func SetLevel(l Level) { root.minLevel = l }

func (l *logger) With(ctx ...interface{}) Logger {
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &logger{mu: l.mu, out: l.out, colorize: l.colorize, minLevel: l.minLevel, ctx: nctx}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.log(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx) }

func (l *logger) log(lvl Level, msg string, ctx []interface{}) {
	if lvl < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05.000")
	var b strings.Builder
	fmt.Fprintf(&b, "%s ", ts)
	if l.colorize {
		levelColor[lvl].Fprintf(&b, "%-5s", lvl.String())
	} else {
		fmt.Fprintf(&b, "%-5s", lvl.String())
	}
	fmt.Fprintf(&b, " %s", msg)

	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

// Discard is a Logger that drops everything, for tests that don't want
// log noise.
var Discard Logger = discard{}

type discard struct{}

func (discard) Trace(string, ...interface{}) {}
func (discard) Debug(string, ...interface{}) {}
func (discard) Info(string, ...interface{})  {}
func (discard) Warn(string, ...interface{})  {}
func (discard) Error(string, ...interface{}) {}
func (d discard) With(...interface{}) Logger { return d }
