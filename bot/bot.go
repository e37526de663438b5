package bot

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Each bot should implement the Bot interface.
type Bot interface {
	// Init method initializes the bot (connects to database, configures Telegram
	// Bot, etc.) and returns a context that should be used in the bot. On
	// failure, Init should return an error rather than panic.
	Init(cfg *Config, l *zap.SugaredLogger) (*Context, error)
	// Run handles messages from the Telegram Bot until ctx is done. Multiple
	// bots are supposed to run concurrently, so Run should be started in a new
	// goroutine.
	Run(ctx context.Context, bctx *Context) error
}

// Migrator is implemented by bots that own a database schema.
type Migrator interface {
	Migrate(ctx context.Context, cfg *Config, l *zap.SugaredLogger) error
}

var (
	botsRegistry = make(map[string]Record)
	botsMu       sync.Mutex
)

// Register adds the bot to the list of bots to run. To register a bot call
// Register in the init function. The required fields must be present in the
// bot's configuration section.
func Register(name string, bot Bot, required ...string) bool {
	botsMu.Lock()
	defer botsMu.Unlock()

	_, ok := botsRegistry[name]
	if ok {
		return false
	}

	botsRegistry[name] = Record{Name: name, Bot: bot, RequiredConfigFields: required}
	return true
}

// Named bot record in the bots registry.
type Record struct {
	Name                 string
	Bot                  Bot
	RequiredConfigFields []string
}

// GetThemAll returns sorted list of bots.
func GetThemAll() []Record {
	botsMu.Lock()
	defer botsMu.Unlock()

	bots := make([]Record, 0, len(botsRegistry))
	for _, r := range botsRegistry {
		bots = append(bots, r)
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].Name < bots[j].Name })

	return bots
}
