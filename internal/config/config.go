// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SOCIALGRAPH_CRAWL_WORKERS.
const EnvPrefix = "SOCIALGRAPH"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Export   ExportConfig   `mapstructure:"export"`
	Server   ServerConfig   `mapstructure:"server"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig selects the entity store backend.
type DatabaseConfig struct {
	Driver            string `mapstructure:"driver" validate:"oneof=postgres sqlite memory"`
	DSN               string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	Path              string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	MaxConns          int    `mapstructure:"max_conns" validate:"min=1"`
	EndpointCacheSize int    `mapstructure:"endpoint_cache_size" validate:"min=1"`
}

// CrawlConfig governs the worker pool.
type CrawlConfig struct {
	Workers       int           `mapstructure:"workers" validate:"min=1"`
	Pace          time.Duration `mapstructure:"pace" validate:"gte=0"`
	FetchProfiles bool          `mapstructure:"fetch_profiles"`
	Stagger       time.Duration `mapstructure:"stagger" validate:"gte=0"`
}

// RemoteConfig describes the endpoints the fetcher talks to.
type RemoteConfig struct {
	PersonURL    string        `mapstructure:"person_url" validate:"required,contains={id}"`
	FollowersURL string        `mapstructure:"followers_url" validate:"required,contains={id}"`
	FolloweesURL string        `mapstructure:"followees_url" validate:"required,contains={id}"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"min=1"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodySize  int           `mapstructure:"max_body_size" validate:"gte=0"`
}

// ExportConfig names the edgelist/nodelist output.
type ExportConfig struct {
	Dir  string `mapstructure:"dir" validate:"required"`
	Name string `mapstructure:"name" validate:"required"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// GraphConfig points at the Neo4j instance used by export --neo4j.
type GraphConfig struct {
	URI       string `mapstructure:"uri"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	BatchSize int    `mapstructure:"batch_size" validate:"min=1"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Load builds a Config from defaults, an optional file and the environment.
// With an empty path, a config.{yaml,json,toml} in the working directory or
// in $HOME/.socialgraph is used when present.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.socialgraph")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "socialgraph.db")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.endpoint_cache_size", 10000)
	v.SetDefault("crawl.workers", 32)
	v.SetDefault("crawl.pace", "125ms")
	v.SetDefault("crawl.fetch_profiles", true)
	v.SetDefault("crawl.stagger", "500ms")
	v.SetDefault("remote.person_url", "https://plus.google.com/_/profiles/get/{id}")
	v.SetDefault("remote.followers_url",
		"https://plus.google.com/_/socialgraph/lookup/incoming/?o=%5Bnull%2Cnull%2C%22{id}%22%5D&n=1000000")
	v.SetDefault("remote.followees_url",
		"https://plus.google.com/_/socialgraph/lookup/visible/?o=%5Bnull%2Cnull%2C%22{id}%22%5D")
	v.SetDefault("remote.max_attempts", 50)
	v.SetDefault("remote.retry_delay", "50ms")
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.user_agent", "socialgraph-crawler/1.0")
	v.SetDefault("remote.max_body_size", 0)
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.name", "socialgraph")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.batch_size", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate enforces required values and reasonable limits. Field errors are
// reported by their config key, e.g. "crawl.workers".
func (c Config) Validate() error {
	var msgs []string
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			key := fe.Namespace()
			if _, rest, ok := strings.Cut(key, "."); ok {
				key = rest
			}
			msg := key + " failed " + fe.Tag()
			if fe.Param() != "" {
				msg += "=" + fe.Param()
			}
			msgs = append(msgs, msg)
		}
	}
	// The frontier cursor pins one pooled connection for the whole crawl.
	if c.Database.Driver == "postgres" && c.Database.MaxConns < 2 {
		msgs = append(msgs, "database.max_conns failed min=2 for driver postgres")
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
