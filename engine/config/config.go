package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spaghettifunk/posebridge/engine/core"
)

// EnvPrefix is prepended to every environment override, e.g.
// POSEBRIDGE_BATCH_WORKERS.
const EnvPrefix = "POSEBRIDGE"

// Config holds every tunable of the converter. Values come, by increasing
// priority, from defaults, the config file, the environment and flags.
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Batch struct {
		Workers int `mapstructure:"workers"`
	} `mapstructure:"batch"`
	Store struct {
		Compress bool `mapstructure:"compress"`
	} `mapstructure:"store"`
	Normalize struct {
		TargetFPS float64 `mapstructure:"target_fps"`
	} `mapstructure:"normalize"`
	Remap struct {
		Gender string `mapstructure:"gender"`
	} `mapstructure:"remap"`
	Skeleton struct {
		Asset string `mapstructure:"asset"`
	} `mapstructure:"skeleton"`
	Export struct {
		Ground string `mapstructure:"ground"`
	} `mapstructure:"export"`
	Watch struct {
		Settle time.Duration `mapstructure:"settle"`
	} `mapstructure:"watch"`
}

var genders = []string{"male", "female", "neutral"}

// New returns a viper instance with defaults and environment lookups set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "info")
	v.SetDefault("batch.workers", runtime.NumCPU())
	v.SetDefault("store.compress", false)
	v.SetDefault("normalize.target_fps", 30.0)
	v.SetDefault("remap.gender", "neutral")
	v.SetDefault("skeleton.asset", "phys_humanoid")
	v.SetDefault("export.ground", "mean")
	v.SetDefault("watch.settle", "500ms")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %v: %w", path, err, core.ErrConfiguration)
		}
		core.LogDebug("config: loaded %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %v: %w", err, core.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no command could work with.
func (c *Config) Validate() error {
	if c.Batch.Workers < 0 {
		return fmt.Errorf("config: batch.workers must not be negative, got %d: %w", c.Batch.Workers, core.ErrConfiguration)
	}
	if c.Normalize.TargetFPS <= 0 {
		return fmt.Errorf("config: normalize.target_fps must be positive, got %v: %w", c.Normalize.TargetFPS, core.ErrConfiguration)
	}
	if !validGender(c.Remap.Gender) {
		return fmt.Errorf("config: remap.gender %q, want one of %v: %w", c.Remap.Gender, genders, core.ErrConfiguration)
	}
	if c.Watch.Settle < 0 {
		return fmt.Errorf("config: watch.settle must not be negative: %w", core.ErrConfiguration)
	}
	return nil
}

func validGender(g string) bool {
	for _, v := range genders {
		if g == v {
			return true
		}
	}
	return false
}
