package server

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

// ShutdownHook represents a function to be executed during graceful shutdown
type ShutdownHook struct {
	Name     string                      // Human-readable name for logging
	Priority int                         // Lower number = higher priority (executed first)
	Timeout  time.Duration               // Maximum time allowed for this hook
	Hook     func(context.Context) error // The actual cleanup function
}

// ShutdownHooks is a sortable slice of shutdown hooks
type ShutdownHooks []ShutdownHook

func (h ShutdownHooks) Len() int           { return len(h) }
func (h ShutdownHooks) Less(i, j int) bool { return h[i].Priority < h[j].Priority }
func (h ShutdownHooks) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// ExecuteShutdownHooks runs the hooks sequentially by priority. A failing hook does not
// stop the others; the overall deadline of ctx does.
func (s *Server) ExecuteShutdownHooks(ctx context.Context) error {
	hooks := make(ShutdownHooks, len(s.hooks))
	copy(hooks, s.hooks)
	sort.Stable(hooks)

	var errs error
	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return errors.Mark(errors.CombineErrors(errs, errors.Wrapf(err, "before hook %s", h.Name)), ErrShutdownTimeout)
		}
		if err := s.runHook(ctx, h); err != nil {
			if errors.Is(err, ErrShutdownTimeout) {
				return errors.Mark(errors.CombineErrors(errs, err), ErrShutdownTimeout)
			}
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (s *Server) runHook(ctx context.Context, h ShutdownHook) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("shutdown hook %s panicked: %v", h.Name, r)
			}
		}()
		done <- h.Hook(hookCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Error("shutdown hook failed", logger.String("hook", h.Name), logger.Error(err))
			return errors.Wrapf(err, "shutdown hook %s", h.Name)
		}
		s.log.Debug("shutdown hook done", logger.String("hook", h.Name), logger.Duration("duration", time.Since(start)))
		return nil
	case <-hookCtx.Done():
		if ctx.Err() != nil {
			return errors.Mark(errors.Newf("shutdown hook %s interrupted", h.Name), ErrShutdownTimeout)
		}
		s.log.Error("shutdown hook timed out", logger.String("hook", h.Name), logger.Duration("timeout", timeout))
		return errors.Newf("shutdown hook %s timed out after %s", h.Name, timeout)
	}
}
