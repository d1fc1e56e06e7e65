// Package config loads process configuration from config.yaml, EDGAR_* environment
// variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"edgar_reconciler/pkg/core/cikcache"
	"edgar_reconciler/pkg/core/edgar"
	"edgar_reconciler/pkg/core/locator"
	"edgar_reconciler/pkg/core/pipeline"
)

const EnvPrefix = "EDGAR"

// SEC holds the upstream client settings. SEC rejects requests without a contact
// address in the User-Agent.
type SEC struct {
	UserAgent    string        `mapstructure:"user_agent" validate:"required,contains=@"`
	RequestDelay time.Duration `mapstructure:"request_delay" validate:"gte=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	DataBaseURL  string        `mapstructure:"data_base_url" validate:"required,url"`
	WWWBaseURL   string        `mapstructure:"www_base_url" validate:"required,url"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type Cache struct {
	Dir             string        `mapstructure:"dir" validate:"required"`
	TTL             time.Duration `mapstructure:"ttl" validate:"gt=0"`
	RedisURL        string        `mapstructure:"redis_url" validate:"omitempty,url"`
	RefreshSchedule string        `mapstructure:"refresh_schedule"`
}

// TickersPath is the on-disk copy of the ticker map.
func (c Cache) TickersPath() string { return filepath.Join(c.Dir, "company_tickers.json") }

// ResultsDir is the file vault used when no database is configured.
func (c Cache) ResultsDir() string { return filepath.Join(c.Dir, "results") }

type Store struct {
	DatabaseURL string `mapstructure:"database_url"`
}

type API struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	RunTimeout   time.Duration `mapstructure:"run_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type Config struct {
	SEC         SEC             `mapstructure:"sec"`
	Locator     locator.Config  `mapstructure:"locator"`
	Pipeline    pipeline.Config `mapstructure:"pipeline"`
	Cache       Cache           `mapstructure:"cache"`
	Store       Store           `mapstructure:"store"`
	API         API             `mapstructure:"api"`
	AliasesFile string          `mapstructure:"aliases_file"`
	Debug       bool            `mapstructure:"debug"`
}

// SetDefaults registers every key so AutomaticEnv can override nested values
// (EDGAR_SEC_USER_AGENT, EDGAR_LOCATOR_N_10Q, ...).
func SetDefaults(v *viper.Viper) {
	loc := locator.DefaultConfig()
	pl := pipeline.DefaultConfig()

	v.SetDefault("sec.user_agent", edgar.DefaultUserAgent)
	v.SetDefault("sec.request_delay", edgar.DefaultRequestDelay)
	v.SetDefault("sec.max_attempts", edgar.DefaultMaxAttempts)
	v.SetDefault("sec.data_base_url", edgar.DefaultDataBaseURL)
	v.SetDefault("sec.www_base_url", edgar.DefaultWWWBaseURL)
	v.SetDefault("sec.timeout", 60*time.Second)

	v.SetDefault("locator.n_10q", loc.N10Q)
	v.SetDefault("locator.n_10k", loc.N10K)
	v.SetDefault("locator.master_index_fallback", loc.MasterIndexFallback)

	v.SetDefault("pipeline.min_facts", pl.MinFacts)
	v.SetDefault("pipeline.match.penalty", pl.Match.Penalty)
	v.SetDefault("pipeline.match.axis_order", pl.Match.AxisOrder)
	v.SetDefault("pipeline.match.min_key_buckets", pl.Match.MinKeyBuckets)

	v.SetDefault("cache.dir", filepath.Join(".cache", "edgar"))
	v.SetDefault("cache.ttl", cikcache.DefaultTTL)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.refresh_schedule", cikcache.DefaultRefreshSchedule)

	v.SetDefault("store.database_url", "")

	v.SetDefault("api.addr", "127.0.0.1:8080")
	v.SetDefault("api.run_timeout", 5*time.Minute)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 6*time.Minute)

	v.SetDefault("aliases_file", "")
	v.SetDefault("debug", false)
}

// Bind prepares v: defaults, EDGAR_ env overrides and the config file. An empty
// file searches ./config.yaml and $HOME/.edgar_reconciler/config.yaml; a missing
// file is not an error unless it was named explicitly.
func Bind(v *viper.Viper, file string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The conventional variable wins when the prefixed one is unset.
	_ = v.BindEnv("store.database_url", EnvPrefix+"_STORE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("cache.redis_url", EnvPrefix+"_CACHE_REDIS_URL", "REDIS_URL")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.edgar_reconciler")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes and validates a bound viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed on %s", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
