package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"contentmind/core"
)

// EnvPrefix is the prefix for environment variable overrides (CONTENTMIND_SERVER_PORT etc).
const EnvPrefix = "CONTENTMIND"

// Config holds all configuration for the ContentMind platform process
type Config struct {
	// Profile selects an overlay file config.<profile>.yaml
	Profile string `mapstructure:"profile"`

	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Startup      StartupConfig      `mapstructure:"startup"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Persistence  PersistenceConfig  `mapstructure:"persistence"`
	Transactions TransactionsConfig `mapstructure:"transactions"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Async        AsyncConfig        `mapstructure:"async"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`

	// File is the primary config file that was read, empty if none
	File string `mapstructure:"-"`
	// Args holds every process argument the platform does not recognize, in order
	Args []string `mapstructure:"-"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	GRPCPort          int           `mapstructure:"grpc_port" validate:"gte=0,lte=65535"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GRPCAddr returns the gRPC listen address, empty when gRPC is disabled.
func (s ServerConfig) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.GRPCPort))
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type StartupConfig struct {
	ActivationTimeout time.Duration `mapstructure:"activation_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// CapabilitiesConfig toggles each platform capability. All default to enabled.
type CapabilitiesConfig struct {
	PersistenceAuditing   bool `mapstructure:"persistence_auditing"`
	TransactionManagement bool `mapstructure:"transaction_management"`
	ResponseCaching       bool `mapstructure:"response_caching"`
	AsyncExecution        bool `mapstructure:"async_execution"`
}

// Set freezes the toggles into an immutable capability set.
func (c CapabilitiesConfig) Set() core.CapabilitySet {
	return core.CapabilitySetFromMap(map[core.Capability]bool{
		core.PersistenceAuditing:   c.PersistenceAuditing,
		core.TransactionManagement: c.TransactionManagement,
		core.ResponseCaching:       c.ResponseCaching,
		core.AsyncExecution:        c.AsyncExecution,
	})
}

type PersistenceConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	Migrate         bool          `mapstructure:"migrate"`
	// DefaultActor is recorded when no actor is present in the request context
	DefaultActor string `mapstructure:"default_actor" validate:"required"`
}

type TransactionsConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gte=0"`
	Isolation      string        `mapstructure:"isolation" validate:"oneof=default read_uncommitted read_committed repeatable_read serializable"`
}

type CacheConfig struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory redis"`
	DefaultTTL time.Duration `mapstructure:"default_ttl" validate:"gte=0"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	Memory     struct {
		Size int `mapstructure:"size" validate:"gte=1"`
	} `mapstructure:"memory"`
	// Redis is validated only when it is the selected backend
	Redis RedisConfig `mapstructure:"redis" validate:"-"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr" validate:"required,hostname_port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0,lte=15"`
	PoolSize    int           `mapstructure:"pool_size" validate:"gte=1"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
}

type AsyncConfig struct {
	Workers         int           `mapstructure:"workers" validate:"gte=1,lte=1024"`
	QueueSize       int           `mapstructure:"queue_size" validate:"gte=1"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"` // submissions per second, 0 = unlimited
	Burst           int           `mapstructure:"burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type SecretsConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=env vault"`
	Vault    struct {
		Address string        `mapstructure:"address"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"vault"`
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 0) // 0 = gRPC health disabled
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("startup.activation_timeout", 30*time.Second)
	v.SetDefault("startup.shutdown_timeout", 15*time.Second)

	for _, c := range core.ActivationOrder() {
		v.SetDefault("capabilities."+c.Key(), true)
	}

	v.SetDefault("persistence.driver", "sqlite")
	v.SetDefault("persistence.dsn", "contentmind.db")
	v.SetDefault("persistence.max_open_conns", 10)
	v.SetDefault("persistence.max_idle_conns", 5)
	v.SetDefault("persistence.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("persistence.connect_timeout", 5*time.Second)
	v.SetDefault("persistence.migrate", true)
	v.SetDefault("persistence.default_actor", "system")

	v.SetDefault("transactions.default_timeout", 30*time.Second)
	v.SetDefault("transactions.isolation", "default")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.default_ttl", 10*time.Minute)
	v.SetDefault("cache.key_prefix", "contentmind:")
	v.SetDefault("cache.memory.size", 10000)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.dial_timeout", 5*time.Second)

	v.SetDefault("async.workers", 8)
	v.SetDefault("async.queue_size", 100)
	v.SetDefault("async.rate_limit", 0)
	v.SetDefault("async.burst", 0)
	v.SetDefault("async.shutdown_timeout", 30*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "contentmind")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.address", "http://127.0.0.1:8200")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.timeout", 10*time.Second)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the settings operators touch most
	_ = v.BindEnv("profile", EnvPrefix+"_PROFILE")
	_ = v.BindEnv("persistence.dsn", EnvPrefix+"_DATABASE_URL", EnvPrefix+"_PERSISTENCE_DSN")
	_ = v.BindEnv("cache.redis.addr", EnvPrefix+"_REDIS_ADDR", EnvPrefix+"_CACHE_REDIS_ADDR")
	_ = v.BindEnv("secrets.vault.token", "VAULT_TOKEN", EnvPrefix+"_SECRETS_VAULT_TOKEN")
}

// flagBindings maps command-line flags to config keys.
var flagBindings = map[string]string{
	"profile":    "profile",
	"host":       "server.host",
	"port":       "server.port",
	"grpc-port":  "server.grpc_port",
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("contentmind", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	fs.Usage = func() {}

	fs.String("config", "", "path to a config file (default: search ./config.yaml and ./config/config.yaml)")
	fs.String("profile", "", "configuration profile overlay (config.<profile>.yaml)")
	fs.String("host", "", "HTTP listen host")
	fs.Int("port", 0, "HTTP listen port")
	fs.Int("grpc-port", 0, "gRPC health listen port (0 disables)")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: console, json")
	return fs
}

// ErrHelp is returned by Load when the arguments ask for help.
var ErrHelp = pflag.ErrHelp

// splitArgs separates the flags fs defines, with their values, from every
// other argument. Unrecognized flags and their values are kept verbatim and
// in order so they can be forwarded. Everything after "--" is forwarded.
func splitArgs(fs *pflag.FlagSet, args []string) (known, rest []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			rest = append(rest, args[i+1:]...)
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			rest = append(rest, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		name, _, hasValue := strings.Cut(name, "=")
		if name == "help" || arg == "-h" {
			known = append(known, arg)
			continue
		}
		f := fs.Lookup(name)
		if f == nil || !strings.HasPrefix(arg, "--") {
			rest = append(rest, arg)
			continue
		}
		known = append(known, arg)
		if !hasValue && f.NoOptDefVal == "" && i+1 < len(args) {
			i++
			known = append(known, args[i])
		}
	}
	return known, rest
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	searchPaths []string
}

// WithSearchPaths replaces the directories searched for config.yaml.
func WithSearchPaths(paths ...string) LoadOption {
	return func(o *loadOptions) {
		o.searchPaths = append([]string(nil), paths...)
	}
}

// Load builds the configuration from defaults, config file, profile overlay,
// environment and process arguments, in increasing order of precedence.
// Each call uses its own viper instance so repeated loads never share state.
func Load(args []string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{searchPaths: []string{".", "./config"}}
	for _, opt := range opts {
		opt(&o)
	}

	fs := newFlagSet()
	known, rest := splitArgs(fs, args)
	if err := fs.Parse(known); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)
	for flagName, key := range flagBindings {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	v.SetConfigType("yaml")
	explicit, _ := fs.GetString("config")
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", explicit, err)
		}
	} else {
		v.SetConfigName("config")
		for _, p := range o.searchPaths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			// No config file, use defaults, env and flags
		}
	}
	file := v.ConfigFileUsed()

	if profile := v.GetString("profile"); profile != "" {
		overlay, err := findProfileFile(profile, file, o.searchPaths)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(overlay)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read profile %q overlay %s: %w", profile, overlay, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = file
	cfg.Args = rest

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration built from defaults alone, without
// reading files, environment or arguments.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a decode failure is a programming error
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return &cfg
}

func findProfileFile(profile, baseFile string, searchPaths []string) (string, error) {
	name := "config." + profile + ".yaml"
	dirs := searchPaths
	if baseFile != "" {
		dirs = append([]string{filepath.Dir(baseFile)}, searchPaths...)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("profile %q: %s not found in %v", profile, name, dirs)
}
