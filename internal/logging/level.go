package logging

import "fmt"

// Level gates how much execution detail the logger emits. Warn and Error
// output is always emitted; Level only controls Print/Debug output.
type Level uint

const (
	// LevelDisabled suppresses all gated output.
	LevelDisabled Level = iota
	// LevelInfo emits basic progress information. This is the default.
	LevelInfo
	// LevelDebug adds per-record execution detail.
	LevelDebug
	// LevelTrace adds low-level detail useful only when debugging the vault
	// itself.
	LevelTrace
)

// ParseLevel converts a name to a Level, returning an error listing the
// valid choices if name isn't recognized. An empty name selects LevelInfo.
func ParseLevel(name string) (Level, error) {
	switch name {
	case "", "info":
		return LevelInfo, nil
	case "disabled":
		return LevelDisabled, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q, available: disabled, info, debug, trace", name)
	}
}

// String returns the canonical name for the level.
func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return "disabled"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}
