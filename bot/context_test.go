package bot

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func TestContextClose(t *testing.T) {
	ctx := NewContext(zap.NewNop().Sugar())

	var order []string
	errDB := errors.New("db")
	errQueue := errors.New("queue")
	ctx.OnClose(func() error { order = append(order, "db"); return errDB })
	ctx.OnClose(func() error { order = append(order, "queue"); return errQueue })
	ctx.OnClose(func() error { order = append(order, "ok"); return nil })

	err := ctx.Close()
	assert.Equal(t, []string{"ok", "queue", "db"}, order)
	assert.Equal(t, []error{errQueue, errDB}, multierr.Errors(err))

	assert.NoError(t, ctx.Close())
	assert.Len(t, order, 3)
}
