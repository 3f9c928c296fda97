package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Module names used across the devirtualizer. Keeping them as constants
// avoids typos scattering mismatched module strings across call sites.
const (
	ModuleHarness    = "harness"
	ModuleTrace      = "trace"
	ModuleDeobf      = "deobfuscate"
	ModuleBlock      = "vblk"
	ModuleResolver   = "resolver"
	ModuleProfile    = "profile"
	ModuleDriver     = "devirt"
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "MAX", "MAXVERBOSITY":
		return levelMaxVerbosity, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

// InitLogger installs a colorized terminal logger at the given level as the
// process-wide default. The driver CLI calls this once, early in main().
func InitLogger(logLevel string) error {
	lvl, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return nil
}

// SetDefault sets the process-wide root logger.
func SetDefault(l Logger) {
	root.Store(l)
}

// Root returns the process-wide root logger.
func Root() Logger {
	return root.Load().(Logger)
}

// New returns a child of the root logger carrying the given attributes.
func New(ctx ...interface{}) Logger {
	return Root().With(ctx...)
}

func Trace(module, msg string, ctx ...interface{}) { Root().Trace(module, msg, ctx...) }
func Debug(module, msg string, ctx ...interface{}) { Root().Debug(module, msg, ctx...) }
func Info(module, msg string, ctx ...interface{})  { Root().Info(module, msg, ctx...) }
func Warn(module, msg string, ctx ...interface{})  { Root().Warn(module, msg, ctx...) }
func Error(module, msg string, ctx ...interface{}) { Root().Error(module, msg, ctx...) }
func Crit(module, msg string, ctx ...interface{})  { Root().Crit(module, msg, ctx...) }
