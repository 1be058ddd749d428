package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"floodwatch/internal/logging"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported advisory backends.
const (
	BackendTemplate = "template"
	BackendOpenAI   = "openai"
	BackendAzure    = "azure"
	BackendGemini   = "gemini"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Advisory  AdvisoryConfig  `mapstructure:"advisory"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the reading store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Table           string        `mapstructure:"table"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HTTPConfig covers the API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// AnalysisConfig governs the trend window.
type AnalysisConfig struct {
	Lookback         time.Duration `mapstructure:"lookback"`
	WindowSize       int           `mapstructure:"window_size"`
	StabilityHorizon time.Duration `mapstructure:"stability_horizon"`
	NoiseThreshold   float64       `mapstructure:"noise_threshold"`
}

// RiskConfig holds tier thresholds, expressed in percent of capacity.
type RiskConfig struct {
	PrepareLevel      float64       `mapstructure:"prepare_level"`
	EvacuateLevel     float64       `mapstructure:"evacuate_level"`
	FloodLevel        float64       `mapstructure:"flood_level"`
	ProjectionHorizon time.Duration `mapstructure:"projection_horizon"`
}

// AdvisoryConfig selects the text generation backend.
type AdvisoryConfig struct {
	Backend         string        `mapstructure:"backend"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxTokens       int64         `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	FallbackMessage string        `mapstructure:"fallback_message"`
	OpenAI          OpenAIConfig  `mapstructure:"openai"`
	Azure           AzureConfig   `mapstructure:"azure"`
	Gemini          GeminiConfig  `mapstructure:"gemini"`
}

// OpenAIConfig describes the OpenAI chat completions backend.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// AzureConfig describes an Azure OpenAI deployment.
type AzureConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Endpoint   string `mapstructure:"endpoint"`
	Deployment string `mapstructure:"deployment"`
	APIVersion string `mapstructure:"api_version"`
}

// GeminiConfig describes the Gemini generateContent backend.
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// SchedulerConfig governs the watch cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines tier change notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	MinTier  string         `mapstructure:"min_tier"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig enables the optional reading consumer.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOODWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "floodwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.sqlite_path", "data/floodwatch.db")
	v.SetDefault("database.table", "waterlevel")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("analysis.lookback", "3h")
	v.SetDefault("analysis.window_size", 10)
	v.SetDefault("analysis.stability_horizon", "10m")
	v.SetDefault("analysis.noise_threshold", 0.0)

	v.SetDefault("risk.prepare_level", 50.0)
	v.SetDefault("risk.evacuate_level", 80.0)
	v.SetDefault("risk.flood_level", 100.0)
	v.SetDefault("risk.projection_horizon", "60m")

	v.SetDefault("advisory.backend", BackendTemplate)
	v.SetDefault("advisory.timeout", "30s")
	v.SetDefault("advisory.max_tokens", 300)
	v.SetDefault("advisory.temperature", 0.9)
	v.SetDefault("advisory.fallback_message", "There's a system hiccups. Bot is not available this time. ")
	v.SetDefault("advisory.openai.model", "gpt-4o")
	v.SetDefault("advisory.azure.deployment", "gpt-4")
	v.SetDefault("advisory.azure.api_version", "2023-03-15-preview")
	v.SetDefault("advisory.gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("advisory.gemini.model", "gemini-1.5-flash")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x666c6f6f))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_tier", "prepare")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "water-level-readings")
	v.SetDefault("kafka.group_id", "floodwatch")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	if c.Database.Table == "" {
		return fmt.Errorf("database.table must not be empty")
	}
	if c.Analysis.Lookback <= 0 {
		return fmt.Errorf("analysis.lookback must be greater than zero")
	}
	if c.Analysis.WindowSize < 2 {
		return fmt.Errorf("analysis.window_size must be at least 2")
	}
	if c.Analysis.StabilityHorizon <= 0 {
		return fmt.Errorf("analysis.stability_horizon must be greater than zero")
	}
	if c.Analysis.NoiseThreshold < 0 {
		return fmt.Errorf("analysis.noise_threshold cannot be negative")
	}
	if !(c.Risk.PrepareLevel < c.Risk.EvacuateLevel && c.Risk.EvacuateLevel < c.Risk.FloodLevel) {
		return fmt.Errorf("risk levels must satisfy prepare_level < evacuate_level < flood_level")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if err := c.validateAdvisory(); err != nil {
		return err
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}
	return nil
}

func (c *Config) validateAdvisory() error {
	switch c.Advisory.Backend {
	case BackendTemplate:
	case BackendOpenAI:
		if c.Advisory.OpenAI.APIKey == "" {
			return fmt.Errorf("advisory.openai.api_key is required for the openai backend")
		}
	case BackendAzure:
		if c.Advisory.Azure.APIKey == "" || c.Advisory.Azure.Endpoint == "" {
			return fmt.Errorf("advisory.azure.api_key and advisory.azure.endpoint are required for the azure backend")
		}
	case BackendGemini:
		if c.Advisory.Gemini.APIKey == "" {
			return fmt.Errorf("advisory.gemini.api_key is required for the gemini backend")
		}
	default:
		return fmt.Errorf("unknown advisory.backend %q", c.Advisory.Backend)
	}
	if c.Advisory.MaxTokens <= 0 {
		return fmt.Errorf("advisory.max_tokens must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
