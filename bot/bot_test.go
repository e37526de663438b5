package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type nopBot struct{}

func (nopBot) Init(*Config, *zap.SugaredLogger) (*Context, error) { return NewContext(zap.NewNop().Sugar()), nil }
func (nopBot) Run(ctx context.Context, _ *Context) error       { <-ctx.Done(); return nil }

func TestRegister(t *testing.T) {
	assert.True(t, Register("registry-test-b", nopBot{}, CfgTgToken))
	assert.True(t, Register("registry-test-a", nopBot{}))
	assert.False(t, Register("registry-test-a", nopBot{}))

	var names []string
	for _, r := range GetThemAll() {
		if r.Name == "registry-test-a" || r.Name == "registry-test-b" {
			names = append(names, r.Name)
			if r.Name == "registry-test-b" {
				assert.Equal(t, []string{CfgTgToken}, r.RequiredConfigFields)
			}
		}
	}
	assert.Equal(t, []string{"registry-test-a", "registry-test-b"}, names)
}
