package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	SessionSecret       string `mapstructure:"session_secret"`
	IdentityHeader      string `mapstructure:"identity_header"` // set by the identity proxy in front of us
	TrustIdentityHeader bool   `mapstructure:"trust_identity_header"`
	DevLogin            bool   `mapstructure:"dev_login"` // never in production
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite3" or "pgx"
	DSN    string `mapstructure:"dsn"`
}

type EngineConfig struct {
	Timezone       string `mapstructure:"timezone"`
	AsyncRecompute bool   `mapstructure:"async_recompute"`
	Workers        int    `mapstructure:"workers"`
	QueueSize      int    `mapstructure:"queue_size"`
}

// Location resolves the engine timezone, falling back to UTC.
func (c EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	GenerateAt        string        `mapstructure:"generate_at"` // HH:MM, engine timezone
	RecomputeInterval time.Duration `mapstructure:"recompute_interval"`
}

type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:8080"})

	v.SetDefault("auth.session_secret", "your-secret-key-change-this-in-production")
	v.SetDefault("auth.identity_header", "X-External-User-ID")
	v.SetDefault("auth.trust_identity_header", true)
	v.SetDefault("auth.dev_login", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./studyquest.db")

	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.async_recompute", true)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.queue_size", 256)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.generate_at", "00:05")
	v.SetDefault("scheduler.recompute_interval", 15*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "studyquest:events")

	v.SetDefault("log.level", "info")
}

// Load reads config.yaml from . or ./config, merges config.local.yaml on top
// when present, then applies STUDYQUEST_* environment overrides.
func Load() (*Config, error) {
	return load(viper.New(), ".", "./config")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	// explicit bindings replace the automatic name, so list it again
	v.BindEnv("database.dsn", "STUDYQUEST_DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("server.port", "STUDYQUEST_SERVER_PORT", "PORT")

	// Allow environment variables
	v.SetEnvPrefix("STUDYQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults
	} else {
		v.SetConfigName("config.local")
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
