package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "AMETHYST"

type Config struct {
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Schema    SchemaConfig     `mapstructure:"schema" yaml:"schema"`
	Store     StoreConfig      `mapstructure:"store" yaml:"store"`
	Cache     CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Auth      AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Log       LogConfig        `mapstructure:"log" yaml:"log"`
	API       APIConfig        `mapstructure:"api" yaml:"api"`
	Resources []ResourceConfig `mapstructure:"resources" yaml:"resources,omitempty" validate:"dive"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
	// Admin включает POST /api/_admin/reload.
	Admin bool `mapstructure:"admin" yaml:"admin"`
}

type SchemaConfig struct {
	Dir            string        `mapstructure:"dir" yaml:"dir" validate:"required"`
	Watch          bool          `mapstructure:"watch" yaml:"watch"`
	WatchDebounce  time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce" validate:"gte=0"`
	StrictIncludes bool          `mapstructure:"strict_includes" yaml:"strict_includes"`
	CacheSize      int           `mapstructure:"cache_size" yaml:"cache_size" validate:"gte=0"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory postgres sqlite"`
	DSN         string `mapstructure:"dsn" yaml:"dsn" validate:"required_unless=Driver memory"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

type CacheConfig struct {
	Driver     string        `mapstructure:"driver" yaml:"driver" validate:"oneof=none memory redis"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`
	Prefix     string        `mapstructure:"prefix" yaml:"prefix"`
	Redis      RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
}

type AuthConfig struct {
	Required bool          `mapstructure:"required" yaml:"required"`
	Tokens   []TokenConfig `mapstructure:"tokens" yaml:"tokens,omitempty" validate:"dive"`
}

type TokenConfig struct {
	Token string   `mapstructure:"token" yaml:"token" validate:"required"`
	ID    string   `mapstructure:"id" yaml:"id" validate:"required"`
	Name  string   `mapstructure:"name" yaml:"name"`
	Roles []string `mapstructure:"roles" yaml:"roles,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

type APIConfig struct {
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit" validate:"gte=1,ltefield=MaxLimit"`
	MaxLimit     int `mapstructure:"max_limit" yaml:"max_limit" validate:"gte=1"`
}

// ResourceConfig: настройки контроллера одной сущности.
type ResourceConfig struct {
	Entity   string   `mapstructure:"entity" yaml:"entity" validate:"required"`
	Cached   bool     `mapstructure:"cached" yaml:"cached"`
	Fillable []string `mapstructure:"fillable" yaml:"fillable,omitempty"`
}

// Resource: настройки сущности; без записи: значения по умолчанию.
func (c *Config) Resource(fqn string) ResourceConfig {
	for _, r := range c.Resources {
		if strings.EqualFold(r.Entity, fqn) {
			return r
		}
	}
	return ResourceConfig{Entity: fqn}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.admin", true)

	v.SetDefault("schema.dir", "dsl")
	v.SetDefault("schema.watch", false)
	v.SetDefault("schema.watch_debounce", 300*time.Millisecond)
	v.SetDefault("schema.strict_includes", false)
	v.SetDefault("schema.cache_size", 4096)
	v.SetDefault("schema.cache_ttl", 10*time.Minute)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.auto_migrate", false)

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.prefix", "amethyst:resp:")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("auth.required", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("api.default_limit", 50)
	v.SetDefault("api.max_limit", 1000)
}

// NewViper: viper с дефолтами и переменными окружения AMETHYST_*
// (server.addr → AMETHYST_SERVER_ADDR).
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load читает файл (если path пуст: ищет amethyst.{yaml,json,toml} в
// текущей директории, отсутствие файла не ошибка), затем ENV и флаги,
// привязанные к v.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("amethyst")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.Cache.Driver == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return errors.New("invalid config: cache.redis.addr is required for the redis cache")
	}
	return nil
}
