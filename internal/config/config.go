// Package config loads the application configuration from a yaml file and
// DOORSTEP_-prefixed environment variables, and initializes the global
// logger.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	Store     StoreConfig     `mapstructure:"store"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Market    MarketConfig    `mapstructure:"market"`
	Schools   SchoolsConfig   `mapstructure:"schools"`
	Summarize SummarizeConfig `mapstructure:"summarize"`
	Proximity ProximityConfig `mapstructure:"proximity"`
	Server    ServerConfig    `mapstructure:"server"`
}

// StoreConfig selects and parameterizes the result store.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite | postgres | memory
	SqlitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ScraperConfig points at the out-of-process listing scraper service.
type ScraperConfig struct {
	ServiceURL string `mapstructure:"service_url"`
}

// ProvidersConfig holds per-provider credentials and pacing.
type ProvidersConfig struct {
	GeocodingAPIKey string `mapstructure:"geocoding_api_key"`
	TransitAppKey   string `mapstructure:"transit_app_key"`

	LandRegistry LandRegistryConfig `mapstructure:"landregistry"`
}

// LandRegistryConfig configures the paced registry client.
type LandRegistryConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	MinGap             time.Duration `mapstructure:"min_gap"`
	MaxThrottleRetries int           `mapstructure:"max_throttle_retries"`
}

// CacheConfig sets the default TTL per volatility class.
type CacheConfig struct {
	ListingTTL   time.Duration `mapstructure:"listing_ttl"`
	LookupTTL    time.Duration `mapstructure:"lookup_ttl"`
	DerivedTTL   time.Duration `mapstructure:"derived_ttl"`
	GeneratedTTL time.Duration `mapstructure:"generated_ttl"`
}

// MarketConfig tunes the market analysis.
type MarketConfig struct {
	FairBandPct float64 `mapstructure:"fair_band_pct"`
}

// SchoolsConfig configures the browser flow.
type SchoolsConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	CookiePath    string `mapstructure:"cookie_path"`
	ChromePath    string `mapstructure:"chrome_path"`
	Headless      bool   `mapstructure:"headless"`
	ScreenshotDir string `mapstructure:"screenshot_dir"`
}

// SummarizeConfig configures the LLM summarizer.
type SummarizeConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	DefaultModel  string        `mapstructure:"default_model"`
	AllowedModels []string      `mapstructure:"allowed_models"`
	MaxTokens     int64         `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ProximityConfig tunes the station stage.
type ProximityConfig struct {
	StationCount  int    `mapstructure:"station_count"`
	LineTableYAML string `mapstructure:"line_table_yaml"`
	LineTableXLSX string `mapstructure:"line_table_xlsx"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "doorstep.db")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("scraper.service_url", "")

	// Secret-bearing keys need explicit defaults or AutomaticEnv won't
	// surface them through Unmarshal.
	v.SetDefault("providers.geocoding_api_key", "")
	v.SetDefault("providers.transit_app_key", "")
	v.SetDefault("providers.landregistry.api_key", "")
	v.SetDefault("schools.base_url", "")
	v.SetDefault("schools.username", "")
	v.SetDefault("schools.password", "")
	v.SetDefault("schools.chrome_path", "")
	v.SetDefault("summarize.api_key", "")
	v.SetDefault("proximity.line_table_yaml", "")
	v.SetDefault("proximity.line_table_xlsx", "")

	v.SetDefault("providers.landregistry.base_url", "https://api.landregistry.example.com")
	v.SetDefault("providers.landregistry.min_gap", 600*time.Millisecond)
	v.SetDefault("providers.landregistry.max_throttle_retries", 2)

	v.SetDefault("cache.listing_ttl", 15*time.Minute)
	v.SetDefault("cache.lookup_ttl", 24*time.Hour)
	v.SetDefault("cache.derived_ttl", 6*time.Hour)
	v.SetDefault("cache.generated_ttl", time.Hour)

	v.SetDefault("market.fair_band_pct", 2.0)

	v.SetDefault("schools.cookie_path", ".doorstep/cookies.json")
	v.SetDefault("schools.headless", true)
	v.SetDefault("schools.screenshot_dir", ".doorstep/diagnostics")

	v.SetDefault("summarize.default_model", "claude-haiku-4-5-20251001")
	v.SetDefault("summarize.allowed_models", []string{
		"claude-haiku-4-5-20251001",
		"claude-sonnet-4-5-20250929",
	})
	v.SetDefault("summarize.max_tokens", 1024)
	v.SetDefault("summarize.timeout", 3*time.Minute)

	v.SetDefault("proximity.station_count", 3)

	v.SetDefault("server.addr", ":8380")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
}

// Load reads configuration from the given file (or the default search
// paths when empty) plus the environment.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("doorstep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.doorstep")
	}

	v.SetEnvPrefix("DOORSTEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read")
		}
		// No config file is fine; defaults plus env carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// InitLogger builds the global zap logger from config and installs it via
// zap.ReplaceGlobals.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.LogJSON {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
