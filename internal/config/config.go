// Package config loads factserp settings from defaults, an optional YAML
// file and FACTSERP_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pbaille/factserp/internal/ident"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FACTSERP_SERVER_ADDR
const EnvPrefix = "FACTSERP"

// Config is the full application configuration
type Config struct {
	DBPath   string         `mapstructure:"db_path"`
	Timezone string         `mapstructure:"timezone"`
	Data     DataConfig     `mapstructure:"data"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Server   ServerConfig   `mapstructure:"server"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Datasets []ident.Family `mapstructure:"datasets"`
}

// DataConfig locates the scraper and benchmark output
type DataConfig struct {
	DatasetRoot  string `mapstructure:"dataset_root"`
	DocsRoot     string `mapstructure:"docs_root"`
	SnapshotRoot string `mapstructure:"snapshot_root"`
}

type IngestConfig struct {
	Workers   int `mapstructure:"workers"`
	Fetchable int `mapstructure:"fetchable_questions"`
}

type ServerConfig struct {
	Addr         string          `mapstructure:"addr"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is applied per API key. Zero requests per second
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Dir returns the default configuration directory, ~/.factserp
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".factserp"
	}
	return filepath.Join(home, ".factserp")
}

// DefaultPath returns the config file used when none is given
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join(Dir(), "factserp.db"))
	v.SetDefault("timezone", "UTC")

	v.SetDefault("data.dataset_root", "./dataset")
	v.SetDefault("data.docs_root", "./docs")
	v.SetDefault("data.snapshot_root", "./data/google")

	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.fetchable_questions", 3)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.rate_limit.requests_per_second", 10.0)
	v.SetDefault("server.rate_limit.burst", 20)

	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("datasets", ident.DefaultFamilies())
}

// New returns a viper instance with defaults, env bindings and, when it
// exists, the config file. An explicit path must exist.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.AddConfigPath(Dir())
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: db_path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("config: ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.Fetchable < 1 {
		return fmt.Errorf("config: ingest.fetchable_questions must be at least 1, got %d", c.Ingest.Fetchable)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return errors.New("config: server.rate_limit.requests_per_second must not be negative")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format must be json or text, got %q", c.Log.Format)
	}
	if len(c.Datasets) == 0 {
		return errors.New("config: at least one dataset is required")
	}
	for _, d := range c.Datasets {
		if d.Name == "" || d.Dir == "" {
			return fmt.Errorf("config: dataset %q needs a name and a dir", d.Name)
		}
	}
	return nil
}

// Location resolves the timezone used for naive publish dates
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone: %w", err)
	}
	return loc, nil
}

// Families returns the configured datasets with export file defaults applied
func (c *Config) Families() []ident.Family {
	out := make([]ident.Family, len(c.Datasets))
	for i, f := range c.Datasets {
		if f.ExportFile == "" {
			f.ExportFile = "kg.json"
		}
		out[i] = f
	}
	return out
}

// YAML renders every setting of v, defaults included
func YAML(v *viper.Viper) ([]byte, error) {
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// DefaultYAML renders the built-in defaults, for config init
func DefaultYAML() ([]byte, error) {
	v := viper.New()
	setDefaults(v)
	return YAML(v)
}
