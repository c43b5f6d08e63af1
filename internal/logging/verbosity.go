package logging

import (
	"context"
	"fmt"
	"strings"
)

// Verbosity controls how much the engine reports about graph construction and
// event loop passes. It is carried in the context rather than in a global.
type Verbosity int

const (
	VerbosityQuiet Verbosity = iota
	VerbosityInfo
	VerbosityDebug
)

func (v Verbosity) String() string {
	switch v {
	case VerbosityQuiet:
		return "quiet"
	case VerbosityInfo:
		return "info"
	case VerbosityDebug:
		return "debug"
	default:
		return fmt.Sprintf("Verbosity(%d)", int(v))
	}
}

// ParseVerbosity converts a verbosity name. The empty string means info.
func ParseVerbosity(name string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quiet", "off":
		return VerbosityQuiet, nil
	case "", "info":
		return VerbosityInfo, nil
	case "debug":
		return VerbosityDebug, nil
	default:
		return VerbosityInfo, fmt.Errorf("unknown verbosity %q", name)
	}
}

// WithVerbosity stores a verbosity level in the context.
func WithVerbosity(ctx context.Context, v Verbosity) context.Context {
	return context.WithValue(ctx, verbosityKey, v)
}

// VerbosityFrom returns the verbosity stored in ctx, or VerbosityInfo.
func VerbosityFrom(ctx context.Context) Verbosity {
	if v, ok := fromContext[Verbosity](ctx, verbosityKey); ok {
		return v
	}
	return VerbosityInfo
}

// Enabled reports whether messages at level v should be emitted under ctx.
func Enabled(ctx context.Context, v Verbosity) bool {
	return VerbosityFrom(ctx) >= v
}
