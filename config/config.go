package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Strategy StrategyConfig `yaml:"strategy"`
	Engine   EngineConfig   `yaml:"engine"`
	RefPrice RefPriceConfig `yaml:"refprice"`
	Channels ChannelsConfig `yaml:"channels"`
	Journal  JournalConfig  `yaml:"journal"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	APIKey         string               `yaml:"api_key"`
	APISecret      string               `yaml:"api_secret"`
	Testnet        bool                 `yaml:"testnet"`
	BaseURL        string               `yaml:"base_url"`
	WsURL          string               `yaml:"ws_url"`
	Symbol         string               `yaml:"symbol"`
	Category       string               `yaml:"category"`
	MarginCoin     string               `yaml:"margin_coin"`
	Timeframe      string               `yaml:"timeframe"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type StrategyConfig struct {
	TargetNotional          float64 `yaml:"target_notional"`
	Leverage                float64 `yaml:"leverage"`
	BaseTolerancePct        float64 `yaml:"base_tolerance_pct"`
	QtyStep                 float64 `yaml:"qty_step"`
	MinTradeValue           float64 `yaml:"min_trade_value"`
	AllowShort              bool    `yaml:"allow_short"`
	VolReferencePct         float64 `yaml:"vol_reference_pct"`
	VolScaleMin             float64 `yaml:"vol_scale_min"`
	VolScaleMax             float64 `yaml:"vol_scale_max"`
	ATRLength               int     `yaml:"atr_length"`
	EMAShortLength          int     `yaml:"ema_short_length"`
	EMALongLength           int     `yaml:"ema_long_length"`
	TrendStrengthMultiplier float64 `yaml:"trend_strength_multiplier"`
}

type EngineConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	DryRun          bool          `yaml:"dry_run"`
	UseMarketOrders bool          `yaml:"use_market_orders"`
	CandleLimit     int           `yaml:"candle_limit"`
	MaxOrderRetries int           `yaml:"max_order_retries"`
	OrderRetryDelay time.Duration `yaml:"order_retry_delay"`
	LedgerLookback  time.Duration `yaml:"ledger_lookback"`
	LedgerPageLimit int           `yaml:"ledger_page_limit"`
	PriceSource     string        `yaml:"price_source"`
	StateFile       string        `yaml:"state_file"`
}

type RefPriceConfig struct {
	Enabled          bool            `yaml:"enabled"`
	MaxDivergencePct float64         `yaml:"max_divergence_pct"`
	Binance          RefSourceConfig `yaml:"binance"`
	Kucoin           RefSourceConfig `yaml:"kucoin"`
}

type RefSourceConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Symbol    string          `yaml:"symbol"`
	BaseURL   string          `yaml:"base_url"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ChannelsConfig struct {
	RecordBuffer int `yaml:"record_buffer"`
}

type JournalConfig struct {
	CSVPath       string             `yaml:"csv_path"`
	FlushInterval time.Duration      `yaml:"flush_interval"`
	Compression   string             `yaml:"compression"`
	Partitioning  PartitioningConfig `yaml:"partitioning"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
	Region        string `yaml:"region"`
}

type LoggingConfig struct {
	Level  string                 `yaml:"level"`
	Format string                 `yaml:"format"`
	Output string                 `yaml:"output"`
	MaxAge int                    `yaml:"max_age"`
	Fields map[string]interface{} `yaml:"fields"`
}

const (
	mainnetRestURL = "https://api.bybit.com"
	testnetRestURL = "https://api-testnet.bybit.com"
	mainnetWsURL   = "wss://stream.bybit.com/v5/public/linear"
	testnetWsURL   = "wss://stream-testnet.bybit.com/v5/public/linear"
)

// RestBaseURL returns the configured REST endpoint, falling back to the
// mainnet or testnet default depending on the testnet flag.
func (e ExchangeConfig) RestBaseURL() string {
	if e.BaseURL != "" {
		return e.BaseURL
	}
	if e.Testnet {
		return testnetRestURL
	}
	return mainnetRestURL
}

// WebsocketURL returns the configured public websocket endpoint, falling back
// to the mainnet or testnet default depending on the testnet flag.
func (e ExchangeConfig) WebsocketURL() string {
	if e.WsURL != "" {
		return e.WsURL
	}
	if e.Testnet {
		return testnetWsURL
	}
	return mainnetWsURL
}

// CandleLimit returns the number of candles requested per cycle. When the
// engine does not pin a limit it is derived from the indicator lengths with
// enough headroom for the ATR warmup.
func (c *Config) CandleLimit() int {
	if c.Engine.CandleLimit > 0 {
		return c.Engine.CandleLimit
	}
	derived := c.Strategy.EMALongLength + c.Strategy.ATRLength + 5
	if derived < 100 {
		return 100
	}
	return derived
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override exchange credentials from environment variables if available
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		config.Exchange.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		config.Exchange.APISecret = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// defaultConfig carries the defaults applied before the file is parsed, so a
// minimal configuration only has to name what it changes.
func defaultConfig() Config {
	return Config{
		Exchange: ExchangeConfig{
			Symbol:     "BTCUSDT",
			Category:   "linear",
			MarginCoin: "USDT",
			Timeframe:  "1",
			Timeout:    10 * time.Second,
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 10,
				IdleConnTimeout: 90 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 8,
				BurstSize:         16,
			},
		},
		Strategy: StrategyConfig{
			TargetNotional:          3000,
			Leverage:                3,
			BaseTolerancePct:        1.0,
			QtyStep:                 0.0001,
			MinTradeValue:           10,
			AllowShort:              false,
			VolReferencePct:         1.0,
			VolScaleMin:             0.5,
			VolScaleMax:             3.0,
			ATRLength:               14,
			EMAShortLength:          10,
			EMALongLength:           50,
			TrendStrengthMultiplier: 1.0,
		},
		Engine: EngineConfig{
			PollInterval:    60 * time.Second,
			DryRun:          true,
			UseMarketOrders: true,
			MaxOrderRetries: 3,
			OrderRetryDelay: time.Second,
			LedgerLookback:  24 * time.Hour,
			LedgerPageLimit: 200,
			PriceSource:     "rest",
			StateFile:       "data/rebalance_state.json",
		},
		RefPrice: RefPriceConfig{
			MaxDivergencePct: 1.0,
			Binance: RefSourceConfig{
				Enabled:   true,
				RateLimit: RateLimitConfig{RequestsPerSecond: 2, BurstSize: 2},
			},
			Kucoin: RefSourceConfig{
				Enabled:   true,
				RateLimit: RateLimitConfig{RequestsPerSecond: 2, BurstSize: 2},
			},
		},
		Channels: ChannelsConfig{
			RecordBuffer: 64,
		},
		Journal: JournalConfig{
			CSVPath:       "data/rebalance_log.csv",
			FlushInterval: 60 * time.Second,
			Compression:   "snappy",
			Partitioning: PartitioningConfig{
				TimeFormat:     "year={year}/month={month}/day={day}/hour={hour}",
				AdditionalKeys: []string{"symbol"},
			},
		},
		Metrics: MetricsConfig{
			Namespace:     "PerpRebalancer",
			DashboardName: "PerpRebalancer",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			MaxAge: 7,
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if cfg.Exchange.Symbol == "" {
		return fmt.Errorf("exchange.symbol is required")
	}
	if cfg.Exchange.Category == "" {
		return fmt.Errorf("exchange.category is required")
	}
	if cfg.Exchange.MarginCoin == "" {
		return fmt.Errorf("exchange.margin_coin is required")
	}
	if cfg.Exchange.Timeframe == "" {
		return fmt.Errorf("exchange.timeframe is required")
	}

	if cfg.Strategy.TargetNotional <= 0 {
		return fmt.Errorf("strategy.target_notional must be greater than 0")
	}
	if cfg.Strategy.Leverage < 1 {
		return fmt.Errorf("strategy.leverage must be at least 1")
	}
	if cfg.Strategy.QtyStep <= 0 {
		return fmt.Errorf("strategy.qty_step must be greater than 0")
	}
	if cfg.Strategy.BaseTolerancePct < 0 {
		return fmt.Errorf("strategy.base_tolerance_pct must not be negative")
	}
	if cfg.Strategy.MinTradeValue < 0 {
		return fmt.Errorf("strategy.min_trade_value must not be negative")
	}
	if cfg.Strategy.VolReferencePct <= 0 {
		return fmt.Errorf("strategy.vol_reference_pct must be greater than 0")
	}
	if cfg.Strategy.VolScaleMin <= 0 || cfg.Strategy.VolScaleMax < cfg.Strategy.VolScaleMin {
		return fmt.Errorf("strategy.vol_scale_min/vol_scale_max must satisfy 0 < min <= max")
	}
	if cfg.Strategy.ATRLength < 1 {
		return fmt.Errorf("strategy.atr_length must be at least 1")
	}
	if cfg.Strategy.EMAShortLength < 1 || cfg.Strategy.EMALongLength < 1 {
		return fmt.Errorf("strategy EMA lengths must be at least 1")
	}
	if cfg.Strategy.EMAShortLength >= cfg.Strategy.EMALongLength {
		return fmt.Errorf("strategy.ema_short_length must be less than strategy.ema_long_length")
	}
	if cfg.Strategy.TrendStrengthMultiplier <= 0 {
		return fmt.Errorf("strategy.trend_strength_multiplier must be greater than 0")
	}

	if cfg.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be greater than 0")
	}
	if cfg.Engine.MaxOrderRetries < 1 {
		return fmt.Errorf("engine.max_order_retries must be at least 1")
	}
	if cfg.Engine.LedgerPageLimit <= 0 {
		return fmt.Errorf("engine.ledger_page_limit must be greater than 0")
	}
	if cfg.Engine.PriceSource != "rest" && cfg.Engine.PriceSource != "stream" {
		return fmt.Errorf("engine.price_source must be 'rest' or 'stream'")
	}
	minCandles := cfg.Strategy.EMALongLength + cfg.Strategy.ATRLength + 5
	if cfg.Engine.CandleLimit != 0 && cfg.Engine.CandleLimit < minCandles {
		return fmt.Errorf("engine.candle_limit must be 0 or at least %d", minCandles)
	}

	if cfg.RefPrice.Enabled {
		if cfg.RefPrice.MaxDivergencePct <= 0 {
			return fmt.Errorf("refprice.max_divergence_pct must be greater than 0 when refprice is enabled")
		}
		if !cfg.RefPrice.Binance.Enabled && !cfg.RefPrice.Kucoin.Enabled {
			return fmt.Errorf("refprice requires at least one enabled source")
		}
	}

	if cfg.Channels.RecordBuffer <= 0 {
		return fmt.Errorf("channels.record_buffer must be greater than 0")
	}

	if cfg.Journal.CSVPath == "" {
		return fmt.Errorf("journal.csv_path is required")
	}
	if cfg.Storage.S3.Enabled && cfg.Journal.FlushInterval <= 0 {
		return fmt.Errorf("journal.flush_interval must be greater than 0 when S3 is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
