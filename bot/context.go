package bot

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Bot context keeps the logger of a bot and the resources to release when
// the bot stops.
type Context struct {
	Logger *zap.SugaredLogger

	mu      sync.Mutex
	closers []func() error
}

// NewContext creates new context. Make sure the logger is not nil.
func NewContext(logger *zap.SugaredLogger) *Context {
	return &Context{Logger: logger}
}

// OnClose registers f to be called by Close. Closers run in reverse order of
// registration.
func (ctx *Context) OnClose(f func() error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.closers = append(ctx.closers, f)
}

// Close releases the registered resources once and returns all their errors
// combined.
func (ctx *Context) Close() error {
	ctx.mu.Lock()
	closers := ctx.closers
	ctx.closers = nil
	ctx.mu.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i]())
	}
	return err
}
