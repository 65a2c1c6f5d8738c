package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/spotmm/pkg/logger"
	"github.com/betbot/spotmm/pkg/marketspec"
)

// ExchangeConfig 交易所连接配置
type ExchangeConfig struct {
	RestURL        string        `yaml:"rest_url"`
	StreamURL      string        `yaml:"stream_url"` // 行情流
	WSAPIURL       string        `yaml:"ws_api_url"` // WebSocket API（用户数据流）
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	PrivateKeyPath string        `yaml:"private_key_path"` // Ed25519 PEM；设置后替代 HMAC，用户流走 session.logon
	RecvWindow     time.Duration `yaml:"recv_window"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	RequestsPerSec int           `yaml:"requests_per_sec"` // REST 请求客户端限速
	ProxyURL       string        `yaml:"proxy_url"`
}

// MarketConfig 交易对配置
type MarketConfig struct {
	Symbol        string          `yaml:"symbol"`
	BaseAsset     string          `yaml:"base_asset"`
	QuoteAsset    string          `yaml:"quote_asset"`
	PriceTickSize decimal.Decimal `yaml:"price_tick_size"`
	QtyTickSize   decimal.Decimal `yaml:"qty_tick_size"`
	DepthLevels   int             `yaml:"depth_levels"` // 5 / 10 / 20
}

// TradingConfig 策略与挂单容量配置
type TradingConfig struct {
	MinOrderNotional    decimal.Decimal `yaml:"min_order_notional"`
	BuyWallThresholdUSD decimal.Decimal `yaml:"buy_wall_threshold_usd"`
	TargetMultiplier    decimal.Decimal `yaml:"target_multiplier"`
	ConflictTolerance   decimal.Decimal `yaml:"conflict_tolerance"`
	MaxOpenOrders       int             `yaml:"max_open_orders"`
	OpenOrdersMargin    int             `yaml:"open_orders_margin"`
	BuyOrdersLimit      int             `yaml:"buy_orders_limit"`
	SellOrdersLimit     int             `yaml:"sell_orders_limit"`
	SellOrdersFloor     int             `yaml:"sell_orders_floor"`
}

// RateLimitConfig 下单频率配置
type RateLimitConfig struct {
	Limit           int           `yaml:"limit"`
	SafetyMargin    int           `yaml:"safety_margin"`
	Window          time.Duration `yaml:"window"`
	MakerFillCredit int           `yaml:"maker_fill_credit"`
}

// ExecutorConfig 执行器工作池配置
type ExecutorConfig struct {
	BuyWorkers  int           `yaml:"buy_workers"`
	SellWorkers int           `yaml:"sell_workers"`
	QueueSize   int           `yaml:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// ErrorStreakAlert 连续请求失败达到该次数时 /healthz 报错，0 关闭
	ErrorStreakAlert int `yaml:"error_streak_alert"`
}

// MetricsConfig 指标/状态服务
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// JournalConfig 成交流水（sqlite），Path 为空则关闭
type JournalConfig struct {
	Path string `yaml:"path"`
}

// SecretsConfig 加密密钥库（badger），Path 为空则不使用
type SecretsConfig struct {
	Path string `yaml:"path"`
	Key  string `yaml:"-"` // 32 字节 hex/base64，只从环境变量读取
}

// Config 应用配置
type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Market    MarketConfig    `yaml:"market"`
	Trading   TradingConfig   `yaml:"trading"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Journal   JournalConfig   `yaml:"journal"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Log       logger.Config   `yaml:"log"`
	DryRun    bool            `yaml:"dry_run"` // 纸交易模式：不发真实订单

	// PaperQuoteBalance 纸交易模式下的初始计价资产余额
	PaperQuoteBalance decimal.Decimal `yaml:"paper_quote_balance"`

	// LockPath 单实例锁文件，为空则不加锁
	LockPath string `yaml:"lock_path"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			RestURL:        "https://api.binance.com",
			StreamURL:      "wss://stream.binance.com:9443/ws",
			WSAPIURL:       "wss://ws-api.binance.com:443/ws-api/v3",
			RecvWindow:     5 * time.Second,
			HTTPTimeout:    5 * time.Second,
			RequestsPerSec: 20,
		},
		Market: MarketConfig{
			DepthLevels: 20,
		},
		Trading: TradingConfig{
			MinOrderNotional:    decimal.NewFromInt(5),
			BuyWallThresholdUSD: decimal.NewFromInt(10000),
			TargetMultiplier:    decimal.RequireFromString("1.002"),
			ConflictTolerance:   decimal.RequireFromString("0.001"),
			MaxOpenOrders:       200,
			OpenOrdersMargin:    10,
			BuyOrdersLimit:      3,
			SellOrdersLimit:     20,
			SellOrdersFloor:     10,
		},
		RateLimit: RateLimitConfig{
			Limit:           100,
			SafetyMargin:    5,
			Window:          10 * time.Second,
			MakerFillCredit: 5,
		},
		Executor: ExecutorConfig{
			BuyWorkers:  4,
			SellWorkers: 4,
			QueueSize:   256,

			ErrorStreakAlert: 5,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: "127.0.0.1:9108"},
		Log:     logger.DefaultConfig(),

		PaperQuoteBalance: decimal.NewFromInt(1000),
		LockPath:          "data/spotmm.lock",
	}
}

// Load 加载配置。优先级：环境变量 > 配置文件 > 默认值。
// envFiles 为空时尝试加载当前目录的 .env（不存在则忽略）。
func Load(filePath string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}
	return nil
}

// loadConfigFile 在默认值之上覆盖 YAML 中出现的字段
func loadConfigFile(filePath string, cfg *Config) error {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml)", ext)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
	}
	return nil
}

// applyEnv 环境变量覆盖
func applyEnv(cfg *Config) error {
	cfg.Exchange.APIKey = getEnv("SPOTMM_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.APISecret = getEnv("SPOTMM_API_SECRET", cfg.Exchange.APISecret)
	cfg.Exchange.PrivateKeyPath = getEnv("SPOTMM_PRIVATE_KEY_PATH", cfg.Exchange.PrivateKeyPath)
	cfg.Exchange.RestURL = getEnv("SPOTMM_REST_URL", cfg.Exchange.RestURL)
	cfg.Exchange.StreamURL = getEnv("SPOTMM_STREAM_URL", cfg.Exchange.StreamURL)
	cfg.Exchange.WSAPIURL = getEnv("SPOTMM_WS_API_URL", cfg.Exchange.WSAPIURL)
	cfg.Exchange.ProxyURL = getEnv("SPOTMM_PROXY_URL", cfg.Exchange.ProxyURL)
	cfg.Market.Symbol = getEnv("SPOTMM_SYMBOL", cfg.Market.Symbol)
	cfg.Log.Level = getEnv("SPOTMM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.OutputFile = getEnv("SPOTMM_LOG_FILE", cfg.Log.OutputFile)
	cfg.Metrics.Addr = getEnv("SPOTMM_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Journal.Path = getEnv("SPOTMM_JOURNAL_PATH", cfg.Journal.Path)
	cfg.Secrets.Path = getEnv("SPOTMM_SECRETS_PATH", cfg.Secrets.Path)
	cfg.Secrets.Key = getEnv("SPOTMM_SECRETS_KEY", cfg.Secrets.Key)
	cfg.LockPath = getEnv("SPOTMM_LOCK_PATH", cfg.LockPath)

	var err error
	if cfg.DryRun, err = parseBoolEnv("SPOTMM_DRY_RUN", cfg.DryRun); err != nil {
		return err
	}
	if cfg.Metrics.Enabled, err = parseBoolEnv("SPOTMM_METRICS_ENABLED", cfg.Metrics.Enabled); err != nil {
		return err
	}
	return nil
}

// Validate 校验配置（不含密钥，见 RequireCredentials）
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := c.SymbolSpec(); err != nil {
		errs = append(errs, err)
	}
	switch c.Market.DepthLevels {
	case 5, 10, 20:
	default:
		add("market.depth_levels 只能是 5/10/20: %d", c.Market.DepthLevels)
	}

	t := c.Trading
	if !t.MinOrderNotional.IsPositive() {
		add("trading.min_order_notional 必须 > 0")
	}
	if t.BuyWallThresholdUSD.IsNegative() {
		add("trading.buy_wall_threshold_usd 不能为负")
	}
	if t.TargetMultiplier.LessThan(decimal.NewFromInt(1)) {
		add("trading.target_multiplier 必须 >= 1: %s", t.TargetMultiplier)
	}
	if t.ConflictTolerance.IsNegative() {
		add("trading.conflict_tolerance 不能为负")
	}
	if t.MaxOpenOrders <= t.OpenOrdersMargin {
		add("trading.max_open_orders(%d) 必须大于 open_orders_margin(%d)", t.MaxOpenOrders, t.OpenOrdersMargin)
	}
	if t.BuyOrdersLimit <= 0 {
		add("trading.buy_orders_limit 必须 > 0")
	}
	if t.SellOrdersFloor > t.SellOrdersLimit {
		add("trading.sell_orders_floor(%d) 不能大于 sell_orders_limit(%d)", t.SellOrdersFloor, t.SellOrdersLimit)
	}

	r := c.RateLimit
	if r.Limit <= 0 || r.SafetyMargin < 0 || r.SafetyMargin >= r.Limit {
		add("rate_limit: 需要 0 <= safety_margin < limit (limit=%d margin=%d)", r.Limit, r.SafetyMargin)
	}
	if r.Window <= 0 {
		add("rate_limit.window 必须 > 0")
	}
	if r.MakerFillCredit < 0 {
		add("rate_limit.maker_fill_credit 不能为负")
	}

	if c.Executor.BuyWorkers <= 0 || c.Executor.SellWorkers <= 0 || c.Executor.QueueSize <= 0 {
		add("executor: workers/queue_size 必须 > 0")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr 不能为空")
	}
	return errors.Join(errs...)
}

// RequireCredentials 实盘模式必须有 API key/secret
func (c *Config) RequireCredentials() error {
	if c.DryRun {
		return nil
	}
	if c.Exchange.APIKey == "" {
		return errors.New("实盘模式需要 API key（SPOTMM_API_KEY 或密钥库）")
	}
	if c.Exchange.APISecret == "" && c.Exchange.PrivateKeyPath == "" {
		return errors.New("实盘模式需要 API secret 或 Ed25519 私钥（SPOTMM_API_SECRET / SPOTMM_PRIVATE_KEY_PATH 或密钥库）")
	}
	return nil
}

// SymbolSpec 交易对精度配置
func (c *Config) SymbolSpec() (marketspec.SymbolSpec, error) {
	m := c.Market
	return marketspec.New(m.Symbol, m.BaseAsset, m.QuoteAsset, m.PriceTickSize, m.QtyTickSize)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("环境变量 %s 不是合法布尔值: %q", key, value)
	}
	return parsed, nil
}
