// Package logger builds the zerolog root logger and carries request fields through context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	// SampleN keeps one in N events; <= 1 keeps all.
	SampleN int
	// Instance names this process in multi-instance deployments.
	Instance  string
	Component string
}

type ctxKey string

const (
	keyRequestID ctxKey = "request_id"
	keyOp        ctxKey = "op"
	keyComponent ctxKey = "component"
)

// context fields copied onto every record, in output order
var ctxFields = []ctxKey{keyRequestID, keyComponent, keyOp}

func with(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

// WithRequestID tags ctx with reqID, minting one when empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return with(ctx, keyRequestID, reqID)
}

// WithOp tags the logical map operation (save, import, click, ...).
func WithOp(ctx context.Context, op string) context.Context { return with(ctx, keyOp, op) }

func WithComponent(ctx context.Context, component string) context.Context {
	return with(ctx, keyComponent, component)
}

// NewID returns a random request id.
func NewID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return strings.Repeat("0", 32)
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

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
	if cfg.SampleN > 1 {
		base = base.Sample(&zerolog.BasicSampler{N: uint32(min(cfg.SampleN, 1<<16))})
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zc := base.With().Timestamp()
	if cfg.Instance != "" {
		zc = zc.Str("instance", cfg.Instance)
	}
	if cfg.Component != "" {
		zc = zc.Str("component", cfg.Component)
	}
	return zc.Logger()
}

// FromContext returns a child of parent carrying the context fields.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.New(io.Discard)
	if parent != nil {
		base = *parent
	}
	w := base.With()
	for _, k := range ctxFields {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
