// Package config provides configuration loading for the deployer.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "ASN1_DEPLOYER"

// ErrUnknownNetwork is returned when no network is configured for an environment.
var ErrUnknownNetwork = errors.New("config: unknown network")

// Config holds all configuration for the deployer.
type Config struct {
	Log       LogConfig                `mapstructure:"log"`
	Plan      PlanConfig               `mapstructure:"plan"`
	Artifacts ArtifactsConfig          `mapstructure:"artifacts"`
	Networks  map[string]NetworkConfig `mapstructure:"networks" validate:"dive"`
	Deployer  DeployerConfig           `mapstructure:"deployer"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Metrics   MetricsConfig            `mapstructure:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// PlanConfig selects the plan a deploy executes. Variant has no default;
// it must be set here, in the plan file or on the command line.
type PlanConfig struct {
	Variant    string `mapstructure:"variant" validate:"omitempty,oneof=no-link link-then-deploy"`
	Unit       string `mapstructure:"unit"`
	Dependency string `mapstructure:"dependency"`
	File       string `mapstructure:"file"`
}

// ArtifactsConfig locates the compiled artifacts. BundleURL wins over
// Bundle, which wins over Dir.
type ArtifactsConfig struct {
	Dir       string `mapstructure:"dir"`
	Bundle    string `mapstructure:"bundle"`
	BundleURL string `mapstructure:"bundle_url" validate:"omitempty,url"`
	Checksum  string `mapstructure:"checksum"`
	CacheDir  string `mapstructure:"cache_dir"`
}

// NetworkConfig holds the connection and gas settings of one environment.
type NetworkConfig struct {
	RPCURL                string        `mapstructure:"rpc_url" validate:"required,url"`
	ChainID               int64         `mapstructure:"chain_id" validate:"required,gt=0"`
	GasPriceBoostPercent  int           `mapstructure:"gas_price_boost_percent" validate:"gte=0,lte=1000"`
	MinGasPriceWei        string        `mapstructure:"min_gas_price_wei" validate:"omitempty,numeric"`
	GasLimitBufferPercent int           `mapstructure:"gas_limit_buffer_percent" validate:"gte=0,lte=1000"`
	ConfirmTimeout        time.Duration `mapstructure:"confirm_timeout"`
}

// MinGasPrice returns the gas price floor, or nil when unset.
func (c NetworkConfig) MinGasPrice() (*big.Int, error) {
	if c.MinGasPriceWei == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(c.MinGasPriceWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid min_gas_price_wei %q", c.MinGasPriceWei)
	}
	return v, nil
}

// DeployerConfig holds the deployment account.
type DeployerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

// DatabaseConfig holds PostgreSQL configuration. An empty DSN disables
// persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Migrate         bool          `mapstructure:"migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.DSN != ""
}

// RedisConfig holds Redis configuration. An empty Addr disables the run lock.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// MetricsConfig holds Prometheus Pushgateway configuration.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
}

// Network returns the network configured for env. Environment names are
// case-insensitive; viper stores map keys lowercased.
func (c *Config) Network(env string) (NetworkConfig, error) {
	n, ok := c.Networks[strings.ToLower(env)]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("%w %q (configured: %s)", ErrUnknownNetwork, env, strings.Join(c.NetworkNames(), ", "))
	}
	return n, nil
}

// NetworkNames returns the configured environment names, sorted.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads configuration from path (or the default search paths when
// path is empty) and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("asn1-deployer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/asn1-deployer")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Keys without a default are bound explicitly; AutomaticEnv alone does
	// not reach them when the config file leaves them out.
	for _, key := range envKeys {
		v.BindEnv(key, envName(key))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKeys lists the settings that have no default but can be given
// through the environment.
var envKeys = []string{
	"plan.variant",
	"plan.file",
	"artifacts.bundle",
	"artifacts.bundle_url",
	"artifacts.checksum",
	"deployer.private_key",
	"database.dsn",
	"redis.addr",
	"redis.password",
	"metrics.pushgateway_url",
}

// envName returns the environment variable that overrides key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate checks the struct constraints of the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, n := range c.Networks {
		if _, err := n.MinGasPrice(); err != nil {
			return fmt.Errorf("invalid config: network %s: %w", name, err)
		}
	}
	return nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Plan defaults (no variant default)
	v.SetDefault("plan.unit", "Asn1Decode")
	v.SetDefault("plan.dependency", "NodePtr")

	// Artifact defaults
	v.SetDefault("artifacts.dir", "build/contracts")
	v.SetDefault("artifacts.cache_dir", ".asn1-deployer/cache")

	// Database defaults
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "30m")

	// Metrics defaults
	v.SetDefault("metrics.job", "asn1-deployer")
}
