// Package logger builds the process-wide structured logger and carries
// request-scoped fields (region, month, operation) through context.Context.
package logger

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the base logger is constructed.
type Config struct {
	Level   string
	Console bool
	SampleN int
}

type ctxKey string

const (
	ctxRegionKey    ctxKey = "region_id"
	ctxMonthKey     ctxKey = "month"
	ctxOperationKey ctxKey = "operation"
)

// WithRegion attaches a region identifier to the context for log enrichment.
func WithRegion(ctx context.Context, regionID string) context.Context {
	if regionID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxRegionKey, regionID)
}

// WithMonth attaches a calendar month to the context for log enrichment.
func WithMonth(ctx context.Context, month int) context.Context {
	if month == 0 {
		return ctx
	}
	return context.WithValue(ctx, ctxMonthKey, month)
}

// WithOperation attaches the name of the resolver/auto-updater operation in progress.
func WithOperation(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxOperationKey, op)
}

func safeUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n > int(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(n)
}

// Build constructs the base zerolog.Logger for the process.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)

	if cfg.SampleN > 0 {
		if n := safeUint32(cfg.SampleN); n > 0 {
			base = base.Sample(&zerolog.BasicSampler{N: n})
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return base.With().Timestamp().Str("component", "weather-summary-core").Logger()
}

// FromContext returns a child logger with any region/month/operation fields
// carried on ctx applied, falling back to a discard logger when parent is nil.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	w := base.With()
	if v, ok := ctx.Value(ctxRegionKey).(string); ok && v != "" {
		w = w.Str("region_id", v)
	}
	if v, ok := ctx.Value(ctxMonthKey).(int); ok && v != 0 {
		w = w.Int("month", v)
	}
	if v, ok := ctx.Value(ctxOperationKey).(string); ok && v != "" {
		w = w.Str("operation", v)
	}
	l := w.Logger()
	return &l
}
