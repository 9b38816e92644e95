package toolexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/seance/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// Isolator runs every discovery and invocation on a dedicated worker
// goroutine with a context of its own and a fresh tool-service session.
// The caller only joins the worker; cancelling the caller never reaches
// the worker's session.
type Isolator struct {
	dialer Dialer
	logger zerolog.Logger
}

// NewIsolator creates an isolator over the given dialer
func NewIsolator(dialer Dialer, logger zerolog.Logger) *Isolator {
	return &Isolator{
		dialer: dialer,
		logger: logger.With().Str("component", "isolator").Logger(),
	}
}

// Discover lists the tools published by the service.
func (i *Isolator) Discover(ctx context.Context) ([]ToolSpec, error) {
	return isolate(ctx, i, "discover", func(wctx context.Context, conn Conn) ([]ToolSpec, error) {
		return conn.ListTools(wctx)
	})
}

// Invoke calls one tool and returns its text result.
func (i *Isolator) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	return isolate(ctx, i, "invoke:"+name, func(wctx context.Context, conn Conn) (string, error) {
		return conn.CallTool(wctx, name, args)
	})
}

type outcome[T any] struct {
	value T
	err   error
}

func isolate[T any](ctx context.Context, i *Isolator, op string, call func(context.Context, Conn) (T, error)) (T, error) {
	done := make(chan outcome[T], 1)
	go work(tracing.Detach(ctx), i, op, call, done)

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		logger := tracing.LoggerFromContext(ctx, i.logger)
		logger.Warn().
			Str("op", op).
			Err(ctx.Err()).
			Msg("Caller gave up, tool worker left to finish")
		var zero T
		return zero, ctx.Err()
	}
}

// work owns the whole session lifecycle: dial, call, capture, release.
func work[T any](parent context.Context, i *Isolator, op string, call func(context.Context, Conn) (T, error), done chan<- outcome[T]) {
	wctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger := tracing.LoggerFromContext(wctx, i.logger).With().Str("op", op).Logger()
	start := time.Now()

	var (
		out  outcome[T]
		conn Conn
	)

	var pc panics.Catcher
	pc.Try(func() {
		c, err := i.dialer.Dial(wctx)
		if err != nil {
			out.err = fmt.Errorf("connect to tool service: %w", err)
			return
		}
		conn = c
		out.value, out.err = call(wctx, c)
	})
	if r := pc.Recovered(); r != nil {
		logger.Error().Str("panic", fmt.Sprint(r.Value)).Msg("Tool worker panicked")
		var zero T
		out = outcome[T]{value: zero, err: fmt.Errorf("tool worker panic: %w", r.AsError())}
	}

	// The result is handed over before the session is released.
	done <- out

	if conn != nil {
		var release panics.Catcher
		release.Try(func() {
			if err := conn.Close(); err != nil {
				logger.Warn().Err(err).Msg("Tool session cleanup failed (result already captured)")
			}
		})
		if r := release.Recovered(); r != nil {
			logger.Warn().Str("panic", fmt.Sprint(r.Value)).Msg("Tool session cleanup panicked (result already captured)")
		}
	}

	logger.Debug().Dur("duration", time.Since(start)).Bool("ok", out.err == nil).Msg("Tool worker finished")
}
