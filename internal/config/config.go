// Package config holds the typed tiercache configuration and its defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/tiercache/internal/market"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the user configuration, read from tiercache.yml.
type Config struct {
	// Dir is the cache root. A leading ~ is expanded.
	Dir string `mapstructure:"dir"`

	// MaxEntries caps each memory and disk tier per domain.
	MaxEntries int `mapstructure:"max_entries"`

	Expiry Expiry `mapstructure:"expiry"`

	CompressionLevel  int `mapstructure:"compression_level"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// MemoryThreshold is a heap size such as "512MiB". Empty disables
	// the memory watcher.
	MemoryThreshold string        `mapstructure:"memory_threshold"`
	MemoryInterval  time.Duration `mapstructure:"memory_interval"`

	StatsInterval time.Duration `mapstructure:"stats_interval"`

	Redis Redis `mapstructure:"redis"`
}

// Expiry holds the per-domain durable TTLs.
type Expiry struct {
	Quotes     time.Duration `mapstructure:"quotes"`
	Series     time.Duration `mapstructure:"series"`
	Currencies time.Duration `mapstructure:"currencies"`
}

// Redis configures the optional shared remote tier.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Enabled reports whether a Redis address is configured.
func (r Redis) Enabled() bool { return r.Addr != "" }

// Process holds settings read from the environment before any config file.
type Process struct {
	LogLevel string `env:"TIERCACHE_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"TIERCACHE_LOG_FILE"`
}

// ParseProcess reads Process from the environment.
func ParseProcess() (Process, error) {
	p, err := env.ParseAs[Process]()
	if err != nil {
		return Process{}, fmt.Errorf("could not parse environment: %w", err)
	}
	return p, nil
}

// Level returns the log level, falling back to info.
func (p Process) Level() log.Level {
	lvl, err := log.ParseLevel(p.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	d := market.DefaultConfig("")
	v.SetDefault("dir", "")
	v.SetDefault("max_entries", d.MaxEntries)
	v.SetDefault("expiry.quotes", d.QuoteExpiry)
	v.SetDefault("expiry.series", d.SeriesExpiry)
	v.SetDefault("expiry.currencies", d.CurrencyExpiry)
	v.SetDefault("compression_level", d.CompressionLevel)
	v.SetDefault("requests_per_minute", d.RequestsPerMinute)
	v.SetDefault("memory_threshold", "")
	v.SetDefault("memory_interval", 5*time.Second)
	v.SetDefault("stats_interval", 30*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "tiercache:")
}

// Load decodes and validates the configuration held by v. An empty Dir
// falls back to defaultDir.
func Load(v *viper.Viper, defaultDir string) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("could not decode configuration: %w", err)
	}

	if cfg.Dir == "" {
		cfg.Dir = defaultDir
	}
	dir, err := homedir.Expand(cfg.Dir)
	if err != nil {
		return Config{}, fmt.Errorf("could not expand cache dir: %w", err)
	}
	cfg.Dir = dir

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("dir must be set"))
	}
	if c.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("max_entries must not be negative, got %d", c.MaxEntries))
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		errs = append(errs, fmt.Errorf("compression_level must be between 0 and 22, got %d", c.CompressionLevel))
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("requests_per_minute must not be negative, got %d", c.RequestsPerMinute))
	}
	for name, d := range map[string]time.Duration{
		"expiry.quotes":     c.Expiry.Quotes,
		"expiry.series":     c.Expiry.Series,
		"expiry.currencies": c.Expiry.Currencies,
		"stats_interval":    c.StatsInterval,
		"memory_interval":   c.MemoryInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if _, err := c.MemoryThresholdBytes(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// MemoryThresholdBytes parses MemoryThreshold. Empty means zero.
func (c Config) MemoryThresholdBytes() (uint64, error) {
	if c.MemoryThreshold == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MemoryThreshold)
	if err != nil {
		return 0, fmt.Errorf("memory_threshold: %w", err)
	}
	return n, nil
}

// Market converts the configuration to the repository sizing.
func (c Config) Market() market.Config {
	return market.Config{
		Dir:               c.Dir,
		MaxEntries:        c.MaxEntries,
		QuoteExpiry:       c.Expiry.Quotes,
		SeriesExpiry:      c.Expiry.Series,
		CurrencyExpiry:    c.Expiry.Currencies,
		CompressionLevel:  c.CompressionLevel,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}
