package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	Import      ImportConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Geo         GeoConfig
	Devices     DevicesConfig
	Logging     LoggingConfig
}

// ImportConfig is the per-run ingestion configuration. Photographer is
// required; everything else has a usable default.
type ImportConfig struct {
	Dir          string
	Category     string
	Location     string
	Photographer string
	Concurrency  int
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type GeoConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type DevicesConfig struct {
	CachePath string
	CSVURL    string
	Timeout   time.Duration
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("importer")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MUE_IMPORTER")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Import.Category = strings.ToLower(cfg.Import.Category)
	if cfg.Import.Concurrency <= 0 {
		cfg.Import.Concurrency = defaultConcurrency()
	}

	return &cfg, nil
}

// Validate checks the fields without which no file may be processed.
func (c *Config) Validate() error {
	if c.Import.Photographer == "" {
		return errors.New("import.photographer is required")
	}
	if c.Import.Dir == "" {
		return errors.New("import.dir is required")
	}
	return nil
}

func defaultConcurrency() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("import.dir", "import")
	v.SetDefault("import.category", "outdoors")
	v.SetDefault("import.concurrency", 0)

	v.SetDefault("storage.bucket", "mue")
	v.SetDefault("storage.usessl", true)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("postgres.maxopen", 10)
	v.SetDefault("postgres.maxidle", 2)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("geo.endpoint", "https://proxy.muetab.com/weather/autolocation")
	v.SetDefault("geo.timeout", "10s")

	v.SetDefault("devices.cachepath", "android.json")
	v.SetDefault("devices.csvurl", "https://storage.googleapis.com/play_public/supported_devices.csv")
	v.SetDefault("devices.timeout", "1m")

	v.SetDefault("logging.level", "info")
}
