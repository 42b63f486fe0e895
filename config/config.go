package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	CoinGeckoConfig    CoinGeckoConfig    `json:"coingecko"`
	IndicatorConfig    IndicatorConfig    `json:"indicators"`
	RegimeConfig       RegimeConfig       `json:"regime"`
	ScoringConfig      ScoringConfig      `json:"scoring"`
	TakeProfitConfig   TakeProfitConfig   `json:"take_profit"`
	AutomationConfig   AutomationConfig   `json:"automation"`
	SchedulerConfig    SchedulerConfig    `json:"scheduler"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	NotificationConfig NotificationConfig `json:"notification"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ExchangeConfig holds the futures exchange connection settings.
// Credentials come from the environment or Vault, never from config.json.
type ExchangeConfig struct {
	BaseURL          string        `json:"base_url"`
	APIKey           string        `json:"-"`
	SecretKey        string        `json:"-"`
	Passphrase       string        `json:"-"`
	DryRun           bool          `json:"dry_run"`      // Route orders to the paper client
	PaperBalance     float64       `json:"paper_balance"` // Starting USDT balance for the paper client
	DefaultCoin      string        `json:"default_coin"`
	KlineGranularity string        `json:"kline_granularity"` // e.g. 1h
	KlineLimit       int           `json:"kline_limit"`
	Timeout          time.Duration `json:"timeout"`
}

type CoinGeckoConfig struct {
	BaseURL           string        `json:"base_url"`
	APIKey            string        `json:"-"`
	GlobalTTL         time.Duration `json:"global_ttl"`
	CoinsTTL          time.Duration `json:"coins_ttl"`
	TrendingTTL       time.Duration `json:"trending_ttl"`
	MinFetchInterval  time.Duration `json:"min_fetch_interval"`
	RequestsPerMinute int           `json:"requests_per_minute"` // Free tier allows 30
	Timeout           time.Duration `json:"timeout"`
}

type IndicatorConfig struct {
	RSIPeriod      int     `json:"rsi_period"`
	FastEMA        int     `json:"fast_ema"`
	SlowEMA        int     `json:"slow_ema"`
	TrendScalePct  float64 `json:"trend_scale_pct"`  // EMA spread (% of price) that maps to trend_strength 1.0
	CandlesPer24h  int     `json:"candles_per_24h"`  // 24 for hourly candles
	WindowCapacity int     `json:"window_capacity"`
}

type RegimeConfig struct {
	HighVolatilityPct float64 `json:"high_volatility_pct"`
	LowVolatilityPct  float64 `json:"low_volatility_pct"`
	TrendThreshold    float64 `json:"trend_threshold"`
}

// ScoringConfig holds every threshold and point value the signal scorer uses
type ScoringConfig struct {
	// RSI zones
	RSIStrongOversold   float64 `json:"rsi_strong_oversold"`
	RSIOversold         float64 `json:"rsi_oversold"`
	RSIOverbought       float64 `json:"rsi_overbought"`
	RSIStrongOverbought float64 `json:"rsi_strong_overbought"`
	StrongPoints        float64 `json:"strong_points"`
	ModeratePoints      float64 `json:"moderate_points"`

	TrendBiasPoints float64 `json:"trend_bias_points"` // Added toward the direction of a trending regime

	// 24h move mean reversion
	StrongMovePct    float64 `json:"strong_move_pct"`
	MildMovePct      float64 `json:"mild_move_pct"`
	StrongMovePoints float64 `json:"strong_move_points"`
	MildMovePoints   float64 `json:"mild_move_points"`

	// Global context
	SentimentPoints    float64 `json:"sentiment_points"`
	TrendingPoints     float64 `json:"trending_points"`
	SevenDayExtremePct float64 `json:"seven_day_extreme_pct"`
	SevenDayPoints     float64 `json:"seven_day_points"`
	HighDominancePct   float64 `json:"high_dominance_pct"`
	LowDominancePct    float64 `json:"low_dominance_pct"`
	DominancePoints    float64 `json:"dominance_points"`

	NeutralMargin          float64 `json:"neutral_margin"`
	ConfidenceScale        float64 `json:"confidence_scale"` // |long-short| that maps to confidence 1.0
	HighVolatilityDamping  float64 `json:"high_volatility_damping"`
	LowVolatilityDamping   float64 `json:"low_volatility_damping"`
	InsufficientDataFactor float64 `json:"insufficient_data_factor"`
}

type TakeProfitConfig struct {
	FixedTargetPct  float64 `json:"fixed_target_pct"`
	TrailingDropPct float64 `json:"trailing_drop_pct"`
	ActivationPct   float64 `json:"activation_pct"` // Peak must exceed this before trailing can fire
}

type AutomationConfig struct {
	Enabled            bool    `json:"enabled"`
	AutoEntry          bool    `json:"auto_entry"`
	AutoTakeProfit     bool    `json:"auto_take_profit"`
	AutoStopLoss       bool    `json:"auto_stop_loss"`
	MarginUSDT         float64 `json:"margin_usdt"`
	Leverage           int     `json:"leverage"`
	MinConfidence      float64 `json:"min_confidence"`
	StopLossPct        float64 `json:"stop_loss_pct"`
	CooldownMinutes    int     `json:"cooldown_minutes"`
	MaxTradesPerHour   int     `json:"max_trades_per_hour"`
	DailyLossLimitUSDT float64 `json:"daily_loss_limit_usdt"`
}

type SchedulerConfig struct {
	MarketRefreshInterval time.Duration `json:"market_refresh_interval"`
	TakeProfitInterval    time.Duration `json:"take_profit_interval"`
	AutomationInterval    time.Duration `json:"automation_interval"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`  // Comma separated CORS origins
	ProductionMode  bool   `json:"production_mode"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// AuthConfig guards mutating API routes with an operator login
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"-"`
	AdminPasswordHash   string        `json:"-"` // bcrypt hash
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"-"`
	MountPath  string `json:"mount_path"`  // KV v2 mount
	SecretPath string `json:"secret_path"` // Path of the exchange credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Default returns the configuration used when neither config.json nor the
// environment set a value.
func Default() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "http://localhost:5173",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration: 12 * time.Hour,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "regimeforge",
			Database: "regimeforge",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "regimeforge/exchange",
		},
		ExchangeConfig: ExchangeConfig{
			BaseURL:          "https://api-contract.weex.com",
			DryRun:           true,
			PaperBalance:     1000,
			DefaultCoin:      "BTC",
			KlineGranularity: "1h",
			KlineLimit:       100,
			Timeout:          30 * time.Second,
		},
		CoinGeckoConfig: CoinGeckoConfig{
			BaseURL:           "https://api.coingecko.com/api/v3",
			GlobalTTL:         300 * time.Second,
			CoinsTTL:          180 * time.Second,
			TrendingTTL:       600 * time.Second,
			MinFetchInterval:  3 * time.Second,
			RequestsPerMinute: 30,
			Timeout:           10 * time.Second,
		},
		IndicatorConfig: IndicatorConfig{
			RSIPeriod:      14,
			FastEMA:        9,
			SlowEMA:        21,
			TrendScalePct:  1.0,
			CandlesPer24h:  24,
			WindowCapacity: 200,
		},
		RegimeConfig: RegimeConfig{
			HighVolatilityPct: 4.0,
			LowVolatilityPct:  1.0,
			TrendThreshold:    0.6,
		},
		ScoringConfig: ScoringConfig{
			RSIStrongOversold:   20,
			RSIOversold:         35,
			RSIOverbought:       65,
			RSIStrongOverbought: 80,
			StrongPoints:        20,
			ModeratePoints:      10,

			TrendBiasPoints: 15,

			StrongMovePct:    3,
			MildMovePct:      1,
			StrongMovePoints: 10,
			MildMovePoints:   5,

			SentimentPoints:    10,
			TrendingPoints:     5,
			SevenDayExtremePct: 10,
			SevenDayPoints:     5,
			HighDominancePct:   55,
			LowDominancePct:    45,
			DominancePoints:    5,

			NeutralMargin:          10,
			ConfidenceScale:        50,
			HighVolatilityDamping:  0.85,
			LowVolatilityDamping:   0.9,
			InsufficientDataFactor: 0.5,
		},
		TakeProfitConfig: TakeProfitConfig{
			FixedTargetPct:  1.5,
			TrailingDropPct: 0.5,
		},
		AutomationConfig: AutomationConfig{
			MarginUSDT:         30,
			Leverage:           20,
			MinConfidence:      0.65,
			StopLossPct:        2,
			CooldownMinutes:    5,
			MaxTradesPerHour:   3,
			DailyLossLimitUSDT: 20,
		},
		SchedulerConfig: SchedulerConfig{
			MarketRefreshInterval: 30 * time.Second,
			TakeProfitInterval:    10 * time.Second,
			AutomationInterval:    15 * time.Second,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// Load reads .env, then config.json over the defaults, then environment
// overrides, and validates the result.
func Load() (*Config, error) {
	return LoadFile("config.json")
}

func LoadFile(filename string) (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	cfg, err := loadFromFile(filename)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	// Exchange config - credentials only from environment
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("WEEX_BASE_URL", cfg.ExchangeConfig.BaseURL)
	cfg.ExchangeConfig.APIKey = getEnvOrDefault("WEEX_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.SecretKey = getEnvOrDefault("WEEX_SECRET_KEY", cfg.ExchangeConfig.SecretKey)
	cfg.ExchangeConfig.Passphrase = getEnvOrDefault("WEEX_PASSPHRASE", cfg.ExchangeConfig.Passphrase)
	cfg.ExchangeConfig.DryRun = getEnvBoolOrDefault("TRADING_DRY_RUN", cfg.ExchangeConfig.DryRun)
	cfg.ExchangeConfig.DefaultCoin = strings.ToUpper(getEnvOrDefault("DEFAULT_COIN", cfg.ExchangeConfig.DefaultCoin))

	// CoinGecko config
	cfg.CoinGeckoConfig.BaseURL = getEnvOrDefault("COINGECKO_BASE_URL", cfg.CoinGeckoConfig.BaseURL)
	cfg.CoinGeckoConfig.APIKey = getEnvOrDefault("COINGECKO_API_KEY", cfg.CoinGeckoConfig.APIKey)
	cfg.CoinGeckoConfig.MinFetchInterval = getEnvDurationOrDefault("COINGECKO_MIN_FETCH_INTERVAL", cfg.CoinGeckoConfig.MinFetchInterval)

	// Automation config
	cfg.AutomationConfig.Enabled = getEnvBoolOrDefault("AUTOMATION_ENABLED", cfg.AutomationConfig.Enabled)
	cfg.AutomationConfig.MarginUSDT = getEnvFloatOrDefault("AUTOMATION_MARGIN_USDT", cfg.AutomationConfig.MarginUSDT)
	cfg.AutomationConfig.Leverage = getEnvIntOrDefault("AUTOMATION_LEVERAGE", cfg.AutomationConfig.Leverage)
	cfg.AutomationConfig.MinConfidence = getEnvFloatOrDefault("AUTOMATION_MIN_CONFIDENCE", cfg.AutomationConfig.MinConfidence)
	cfg.AutomationConfig.DailyLossLimitUSDT = getEnvFloatOrDefault("AUTOMATION_DAILY_LOSS_LIMIT", cfg.AutomationConfig.DailyLossLimitUSDT)

	// Scheduler config
	cfg.SchedulerConfig.MarketRefreshInterval = getEnvDurationOrDefault("MARKET_REFRESH_INTERVAL", cfg.SchedulerConfig.MarketRefreshInterval)
	cfg.SchedulerConfig.TakeProfitInterval = getEnvDurationOrDefault("TAKE_PROFIT_INTERVAL", cfg.SchedulerConfig.TakeProfitInterval)
	cfg.SchedulerConfig.AutomationInterval = getEnvDurationOrDefault("AUTOMATION_INTERVAL", cfg.SchedulerConfig.AutomationInterval)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvInt64OrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes the default configuration to filename
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
