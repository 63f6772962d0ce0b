package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns the process logger: JSON on stdout, debug level in local and dev.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv)
}

// NewWithWriter is New writing to w. Values of the phone, to and from
// attributes that look like phone numbers are masked with RedactPhone, so
// a forgotten RedactPhone at a call site never leaks a number.
func NewWithWriter(w io.Writer, appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactPhoneAttrs,
	}))
}

func redactPhoneAttrs(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case "phone", "to", "from":
		if a.Value.Kind() == slog.KindString && looksLikePhone(a.Value.String()) {
			return slog.String(a.Key, RedactPhone(a.Value.String()))
		}
	}
	return a
}

func looksLikePhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		default:
			return false
		}
	}
	return digits >= 7
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
