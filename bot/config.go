package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Configuration fields bots commonly require.
const (
	CfgTgToken         = "TgToken"
	CfgOwnerChatID     = "OwnerChatID"
	CfgDbDriver        = "DBDriver"
	CfgDbConnStr       = "DBConnStr"
	CfgDbRetryAttempts = "DBRetryAttempts"
	CfgDbRetryDelay    = "DBRetryDelay"
	CfgDbTimeout       = "DBTimeout"
)

// Farm wide settings at the top level of the configuration file.
const (
	CfgMetricsAddr = "MetricsAddr"
	CfgDebug       = "Debug"
)

const (
	defaultDBRetryAttempts = 3
	defaultDBRetryDelay    = time.Second
	defaultDBTimeout       = 5 * time.Second
)

var (
	errNoBotSection  = errors.New("couldn't find configuration for bot")
	errMissingFields = errors.New("configuration is missing field(s)")
)

type CalendarConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarIDs  []string
}

// Config keeps bot configuration. Durations are written as Go duration
// strings, e.g. "1500ms".
type Config struct {
	TgToken     string
	OwnerChatID int64
	Debug       bool

	DBDriver        string
	DBConnStr       string
	DBRetryAttempts int
	DBRetryDelay    time.Duration
	DBTimeout       time.Duration

	Timezone       string
	UTCOffsetHours int

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	AITimeout     time.Duration

	WeatherAPIKey  string
	WeatherCity    string
	WeatherBaseURL string

	NewsFeedURL string

	Calendar CalendarConfig

	PlanCron string
	SyncCron string

	// SendRate limits outgoing Telegram messages per second.
	SendRate float64
}

// ReadConfig reads the farm configuration file.
func ReadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed reading configuration from %q", path)
	}
	return v, nil
}

// LoadConfig extracts the section of the registered bot, makes sure all the
// required fields are present and decodes it.
func LoadConfig(v *viper.Viper, rec Record) (*Config, error) {
	sub := v.Sub(rec.Name)
	if sub == nil {
		return nil, errors.Wrap(errNoBotSection, rec.Name)
	}

	if err := validateConfig(rec, sub); err != nil {
		return nil, err
	}

	sub.SetDefault(CfgDbRetryAttempts, defaultDBRetryAttempts)
	sub.SetDefault(CfgDbRetryDelay, defaultDBRetryDelay)
	sub.SetDefault(CfgDbTimeout, defaultDBTimeout)
	sub.SetDefault(CfgDebug, v.GetBool(CfgDebug))

	cfg := &Config{}
	if err := sub.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed decoding %s's configuration", rec.Name)
	}
	return cfg, nil
}

// validateConfig makes sure that all required fields are present in the config
func validateConfig(rec Record, sub *viper.Viper) error {
	missingFields := []string{}
	for _, field := range rec.RequiredConfigFields {
		if !sub.IsSet(field) {
			missingFields = append(missingFields, field)
		}
	}

	if len(missingFields) > 0 {
		return errors.Wrap(errMissingFields, fmt.Sprintf("%v: %s", rec.Name, strings.Join(missingFields, ", ")))
	}

	return nil
}
