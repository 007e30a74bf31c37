package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"rigscout/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Valuation  ValuationConfig  `mapstructure:"valuation"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Anchors    AnchorsConfig    `mapstructure:"anchors"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
	API        APIConfig        `mapstructure:"api"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN keeps
// state in memory for the lifetime of the process.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig backs the normalizer cache. Empty URL falls back to an in-process cache.
type RedisConfig struct {
	URL    string        `mapstructure:"url"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ScannerConfig bounds the scan scheduler.
type ScannerConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	Provisioner      string        `mapstructure:"provisioner"`
}

// SchedulerConfig governs how often `run` looks for due targets.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// BrowserConfig configures headless Chrome tabs.
type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless"`
	ExecPath    string        `mapstructure:"exec_path"`
	UserAgent   string        `mapstructure:"user_agent"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// ExtractorConfig configures static fetching and card extraction.
type ExtractorConfig struct {
	MaxPerPage     int           `mapstructure:"max_per_page"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodySize    int           `mapstructure:"max_body_size"`
}

// NormalizerConfig tunes component matching.
type NormalizerConfig struct {
	MinMatchLength int `mapstructure:"min_match_length"`
}

// ValuationConfig locates the reference price table.
type ValuationConfig struct {
	PriceTablePath string  `mapstructure:"price_table_path"`
	FloorValue     float64 `mapstructure:"floor_value"`
}

// RiskConfig holds the risk heuristics. Zero values keep the built-in defaults.
type RiskConfig struct {
	SafeMax              int            `mapstructure:"safe_max"`
	CautionMax           int            `mapstructure:"caution_max"`
	PriceRatioThreshold  float64        `mapstructure:"price_ratio_threshold"`
	MinAccountAge        time.Duration  `mapstructure:"min_account_age"`
	MinDescriptionLength int            `mapstructure:"min_description_length"`
	ScamPhrases          []string       `mapstructure:"scam_phrases"`
	CrossBorderPhrases   []string       `mapstructure:"cross_border_phrases"`
	StockPhotoHosts      []string       `mapstructure:"stock_photo_hosts"`
	Weights              map[string]int `mapstructure:"weights"`
}

// AnchorsConfig controls offer anchor discounts, expressed as fractions of FMV.
type AnchorsConfig struct {
	OpenDiscount     float64 `mapstructure:"open_discount"`
	TargetDiscount   float64 `mapstructure:"target_discount"`
	WalkawayDiscount float64 `mapstructure:"walkaway_discount"`
	StepPerRiskPoint float64 `mapstructure:"step_per_risk_point"`
	RiskPivot        int     `mapstructure:"risk_pivot"`
	MaxDiscount      float64 `mapstructure:"max_discount"`
	Increment        float64 `mapstructure:"increment"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Events   []string       `mapstructure:"events"`
	Buffer   int            `mapstructure:"buffer"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig describes the signed webhook sink.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Directory string `mapstructure:"directory"`
	MaxRows   int    `mapstructure:"max_rows"`
}

// APIConfig configures `serve`.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("RIGSCOUT")
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

// loadDotEnv exports variables from ./.env; a missing file is fine.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
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
	v.SetDefault("app.name", "rigscout")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.prefix", "rigscout:specs:")
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("scanner.max_concurrent", 3)
	v.SetDefault("scanner.timeout", "30s")
	v.SetDefault("scanner.retry_attempts", 3)
	v.SetDefault("scanner.breaker_threshold", 5)
	v.SetDefault("scanner.breaker_cooldown", "2m")
	v.SetDefault("scanner.provisioner", "http")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72696773))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.settle_delay", "2s")

	v.SetDefault("extractor.max_per_page", 50)
	v.SetDefault("extractor.user_agent", "rigscout/1.0")
	v.SetDefault("extractor.request_timeout", "20s")
	v.SetDefault("extractor.max_body_size", 5<<20)

	v.SetDefault("normalizer.min_match_length", 3)

	v.SetDefault("valuation.price_table_path", "")
	v.SetDefault("valuation.floor_value", 50.0)

	v.SetDefault("anchors.open_discount", 0.25)
	v.SetDefault("anchors.target_discount", 0.15)
	v.SetDefault("anchors.walkaway_discount", 0.05)
	v.SetDefault("anchors.step_per_risk_point", 0.02)
	v.SetDefault("anchors.risk_pivot", 5)
	v.SetDefault("anchors.max_discount", 0.9)
	v.SetDefault("anchors.increment", 10.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.events", []string{"candidate_found", "deal_stage_changed"})
	v.SetDefault("alerting.buffer", 64)
	v.SetDefault("alerting.timeout", "15s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("export.directory", ".")
	v.SetDefault("export.max_rows", 10000)

	v.SetDefault("api.addr", ":8080")
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
	if c.Scanner.MaxConcurrent < 1 {
		return fmt.Errorf("scanner.max_concurrent must be at least 1")
	}
	if c.Scanner.Timeout <= 0 {
		return fmt.Errorf("scanner.timeout must be greater than zero")
	}
	if c.Scanner.RetryAttempts < 1 {
		return fmt.Errorf("scanner.retry_attempts must be at least 1")
	}
	switch c.Scanner.Provisioner {
	case "browser", "http":
	default:
		return fmt.Errorf("scanner.provisioner must be browser or http, got %q", c.Scanner.Provisioner)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Extractor.MaxPerPage < 0 {
		return fmt.Errorf("extractor.max_per_page cannot be negative")
	}
	if c.Valuation.FloorValue < 0 {
		return fmt.Errorf("valuation.floor_value cannot be negative")
	}
	if c.Risk.SafeMax < 0 || c.Risk.CautionMax < 0 {
		return fmt.Errorf("risk thresholds cannot be negative")
	}
	if c.Risk.SafeMax > 0 && c.Risk.CautionMax > 0 && c.Risk.SafeMax >= c.Risk.CautionMax {
		return fmt.Errorf("risk.safe_max must be below risk.caution_max")
	}
	a := c.Anchors
	if !(a.WalkawayDiscount < a.TargetDiscount && a.TargetDiscount < a.OpenDiscount) {
		return fmt.Errorf("anchors discounts must satisfy walkaway < target < open")
	}
	if a.MaxDiscount >= 1 || a.WalkawayDiscount <= 0 {
		return fmt.Errorf("anchors discounts must be within (0,1)")
	}
	if c.Alerting.Buffer < 1 {
		return fmt.Errorf("alerting.buffer must be at least 1")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url 必须配置")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
