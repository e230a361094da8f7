package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents qcore's process configuration: the store engine,
// its wire listener, and the ambient logging/metrics/tracing stack.
type Config struct {
	App      AppConfig      `yaml:"app" mapstructure:"app"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	S3       S3Config       `yaml:"s3" mapstructure:"s3"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Features FeatureConfig  `yaml:"features" mapstructure:"features"`
	Logger   LoggerConfig   `yaml:"logger" mapstructure:"logger"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the entity store engine itself.
type StoreConfig struct {
	// WALChannelDepth bounds the write-batch channel perform_mut posts
	// to; once full, mutating calls block the caller.
	WALChannelDepth int `yaml:"wal_channel_depth" mapstructure:"wal_channel_depth"`
	// NotificationQueueDepth bounds each listener's channel; a full
	// queue silently drops that listener's notification.
	NotificationQueueDepth int `yaml:"notification_queue_depth" mapstructure:"notification_queue_depth"`
	// MaxFrameBytes rejects oversized QRESP frames (~16MiB default).
	MaxFrameBytes int `yaml:"max_frame_bytes" mapstructure:"max_frame_bytes"`
	// DefaultWriterID is used when a write omits writer_id and the
	// caller hasn't configured one; empty means "clear".
	DefaultWriterID string `yaml:"default_writer_id" mapstructure:"default_writer_id"`
	// SnapshotInterval, if nonzero, is how often an external driver
	// should issue a Snapshot request (marker only; persistence is external).
	SnapshotInterval time.Duration `yaml:"snapshot_interval" mapstructure:"snapshot_interval"`
	// DisableNotifications suppresses fan-out during WAL replay.
	DisableNotifications bool `yaml:"disable_notifications" mapstructure:"disable_notifications"`
}

// RedisConfig configures the optional cross-process notification bridge.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Channel  string `yaml:"channel" mapstructure:"channel"`
}

// S3Config configures the optional snapshot archival target.
type S3Config struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
	Region  string `yaml:"region" mapstructure:"region"`
}

// FeatureConfig toggles optional wiring.
type FeatureConfig struct {
	EnableAdminHTTP bool `yaml:"enable_admin_http" mapstructure:"enable_admin_http"`
	EnableRedisPush bool `yaml:"enable_redis_push" mapstructure:"enable_redis_push"`
}

// Load loads configuration from environment variables and files using Viper.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/qcore")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Bind environment variables BEFORE reading config files so that
	// env vars take precedence over config file values.
	bindEnvVars(v)

	// Must come after bindEnvVars to not override exported env vars.
	loadDotEnvFile(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: Error reading config file: %v\n", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("Unable to decode config: %v", err))
	}

	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	return &config
}

// LoadWithViper loads configuration and returns both config and viper
// instance, for callers that need to read additional ad-hoc keys.
func LoadWithViper() (*Config, *viper.Viper) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.config/qcore")
	v.AddConfigPath("/etc/qcore")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnvVars(v)
	loadDotEnvFile(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: Error reading config file: %v\n", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("Unable to decode config: %v", err))
	}
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	return &config, v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "qcore")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.stage", string(DevelopmentStage))
	v.SetDefault("app.debug", false)
	v.SetDefault("app.environment", "local")
	v.SetDefault("app.machine_id", "")

	v.SetDefault("server.port", "7600")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 5*time.Minute)

	v.SetDefault("store.wal_channel_depth", 256)
	v.SetDefault("store.notification_queue_depth", 64)
	v.SetDefault("store.max_frame_bytes", 16<<20)
	v.SetDefault("store.default_writer_id", "")
	v.SetDefault("store.snapshot_interval", 0)
	v.SetDefault("store.disable_notifications", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "qcore:notifications")

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.prefix", "snapshots/")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.max_failed_attempts", 5)
	v.SetDefault("auth.min_password_length", 8)
	v.SetDefault("auth.session_ttl_minutes", 60)

	v.SetDefault("features.enable_admin_http", true)
	v.SetDefault("features.enable_redis_push", false)

	v.SetDefault("logger.type", "zerolog")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.dev", false)
	v.SetDefault("logger.service_name", "qcore")
	v.SetDefault("logger.version", "0.1.0")
	v.SetDefault("logger.output", "stdout")

	v.SetDefault("metrics.provider", "prometheus")
	v.SetDefault("metrics.namespace", "qcore")
	v.SetDefault("metrics.subsystem", "store")
	v.SetDefault("metrics.enabled", true)
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "APP_NAME")
	v.BindEnv("app.version", "APP_VERSION")
	v.BindEnv("app.stage", "APP_STAGE")
	v.BindEnv("app.debug", "DEBUG", "APP_DEBUG")
	v.BindEnv("app.environment", "ENVIRONMENT", "APP_ENV")

	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	v.BindEnv("store.wal_channel_depth", "STORE_WAL_CHANNEL_DEPTH")
	v.BindEnv("store.notification_queue_depth", "STORE_NOTIFICATION_QUEUE_DEPTH")
	v.BindEnv("store.max_frame_bytes", "STORE_MAX_FRAME_BYTES")
	v.BindEnv("store.default_writer_id", "STORE_DEFAULT_WRITER_ID")

	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")

	v.BindEnv("s3.bucket", "S3_BUCKET")
	v.BindEnv("s3.enabled", "S3_ENABLED")
	v.BindEnv("s3.region", "AWS_REGION")

	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.max_failed_attempts", "AUTH_MAX_FAILED_ATTEMPTS")
	v.BindEnv("app.machine_id", "MACHINE_ID")

	v.BindEnv("logger.type", "LOG_TYPE")
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("logger.format", "LOG_FORMAT")
	v.BindEnv("logger.dev", "LOG_DEV")
	v.BindEnv("logger.service_name", "SERVICE_NAME")
	v.BindEnv("logger.version", "SERVICE_VERSION")
	v.BindEnv("logger.output", "LOG_OUTPUT")
}

// YAML renders the effective configuration, for `--dump-config` style
// introspection and for seeding a config file with current defaults.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app config validation failed: %w", err)
	}
	if c.Store.WALChannelDepth <= 0 {
		return fmt.Errorf("store.wal_channel_depth must be positive")
	}
	if c.Store.MaxFrameBytes <= 0 {
		return fmt.Errorf("store.max_frame_bytes must be positive")
	}
	if c.Redis.Enabled && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		return fmt.Errorf("redis port must be between 1 and 65535")
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config validation failed: %w", err)
	}
	return nil
}

func loadDotEnvFile(_ *viper.Viper) {
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		file, err := os.Open(envFile)
		if err != nil {
			fmt.Printf("Warning: Could not open .env file: %v\n", err)
			return
		}
		defer file.Close()

		content := make([]byte, 0)
		buf := make([]byte, 1024)
		for {
			n, err := file.Read(buf)
			if n > 0 {
				content = append(content, buf[:n]...)
			}
			if err != nil {
				break
			}
		}
		lines := bytes.Split(content, []byte("\n"))
		for _, line := range lines {
			lineStr := strings.TrimSpace(string(line))
			if lineStr == "" || strings.HasPrefix(lineStr, "#") {
				continue
			}
			parts := strings.SplitN(lineStr, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])
				if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
					value = value[1 : len(value)-1]
				}
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}
}
