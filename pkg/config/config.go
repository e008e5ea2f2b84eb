package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所接入配置
type ExchangeConfig struct {
	ClobURL           string  `yaml:"clob_url"`
	DataURL           string  `yaml:"data_url"`
	StreamURL         string  `yaml:"stream_url"`
	APIKey            string  `yaml:"api_key"` // 建议留空，用环境变量 EXCHANGE_API_KEY 注入
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

// MarketConfig 单个受跟踪市场
type MarketConfig struct {
	Slug        string `yaml:"slug"`
	ConditionID string `yaml:"condition_id"`
	YesAssetID  string `yaml:"yes_asset_id"`
	NoAssetID   string `yaml:"no_asset_id"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig 控制面与 metrics 监听地址
type ServerConfig struct {
	StatusAddr  string `yaml:"status_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// EngineConfig 主循环节奏
type EngineConfig struct {
	FastCycleSeconds      int `yaml:"fast_cycle_seconds"`
	SlowCycleSeconds      int `yaml:"slow_cycle_seconds"`
	CycleTimeoutSeconds   int `yaml:"cycle_timeout_seconds"`
	BalanceRefreshSeconds int `yaml:"balance_refresh_seconds"`
	MaxEntriesPerCycle    int `yaml:"max_entries_per_cycle"`
	RedeemIntervalMinutes int `yaml:"redeem_interval_minutes"`
}

// StrategyConfig 入场/出场判定参数
type StrategyConfig struct {
	TradeFraction         float64 `yaml:"trade_fraction"`
	MinTradeUsd           float64 `yaml:"min_trade_usd"`
	MaxTradeUsd           float64 `yaml:"max_trade_usd"`
	RequireBias           *bool   `yaml:"require_bias"`
	MaxOpenPositions      int     `yaml:"max_open_positions"`
	MaxExposureUsd        float64 `yaml:"max_exposure_usd"`
	EntryBandMinCents     int     `yaml:"entry_band_min_cents"`
	EntryBandMaxCents     int     `yaml:"entry_band_max_cents"`
	PreferredBandMinCents int     `yaml:"preferred_band_min_cents"`
	PreferredBandMaxCents int     `yaml:"preferred_band_max_cents"`
	StrongBiasNetFlowUsd  float64 `yaml:"strong_bias_net_flow_usd"`
	StrongEvCents         float64 `yaml:"strong_ev_cents"`
	HardStopCents         int     `yaml:"hard_stop_cents"`
	TakeProfitCents       int     `yaml:"take_profit_cents"`
	HedgeTriggerCents     int     `yaml:"hedge_trigger_cents"`
	HedgeRatio            float64 `yaml:"hedge_ratio"`
	HedgeRatioCeiling     float64 `yaml:"hedge_ratio_ceiling"`
	MaxHoldMinutes        int     `yaml:"max_hold_minutes"`
}

// BiasConfig 偏向累积器参数
type BiasConfig struct {
	WindowMinutes    int     `yaml:"window_minutes"`
	StalenessMinutes int     `yaml:"staleness_minutes"`
	MinNetFlowUsd    float64 `yaml:"min_net_flow_usd"`
	MinTrades        int     `yaml:"min_trades"`
	InstantCopy      bool    `yaml:"instant_copy"`
	MinPeerTradeUsd  float64 `yaml:"min_peer_trade_usd"`
}

// EvConfig EV 追踪器参数
type EvConfig struct {
	WindowSize           int     `yaml:"window_size"`
	MinEvCents           float64 `yaml:"min_ev_cents"`
	MinProfitFactor      float64 `yaml:"min_profit_factor"`
	ChurnCostCents       float64 `yaml:"churn_cost_cents"`
	PauseCooldownMinutes int     `yaml:"pause_cooldown_minutes"`
	MinSamples           int     `yaml:"min_samples"`
}

// CapitalConfig 动态准备金参数
type CapitalConfig struct {
	BaseReserveFraction float64 `yaml:"base_reserve_fraction"`
	MaxReserveFraction  float64 `yaml:"max_reserve_fraction"`
	MinReserveUsd       float64 `yaml:"min_reserve_usd"`
	AdaptRate           float64 `yaml:"adapt_rate"`
	MissedOppWeight     float64 `yaml:"missed_opp_weight"`
	HedgeCoverageWeight float64 `yaml:"hedge_coverage_weight"`
}

// OrderConfig 订单执行与频控参数
type OrderConfig struct {
	MinEntryIntervalSeconds  int     `yaml:"min_entry_interval_seconds"`
	MaxEntriesPerHour        int     `yaml:"max_entries_per_hour"`
	TransientCooldownSeconds int     `yaml:"transient_cooldown_seconds"`
	BalanceSafetyBufferUsd   float64 `yaml:"balance_safety_buffer_usd"`
	AllowanceCeilingUsd      float64 `yaml:"allowance_ceiling_usd"`
	MaxOrderActionsPerCycle  int     `yaml:"max_order_actions_per_cycle"`
	BucketCapacity           int     `yaml:"bucket_capacity"`
	BucketRefillPerMinute    int     `yaml:"bucket_refill_per_minute"`
	Slippage                 float64 `yaml:"slippage"`
}

// SecretsConfig 本地加密凭据存储
type SecretsConfig struct {
	StorePath string `yaml:"store_path"` // badger 目录；空则不启用
}

// Config 应用配置。
// 各策略模块只依赖自己的 ConfigInterface 切片，getter 全部挂在这里。
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Wallets  []string       `yaml:"wallets"` // 跟踪的钱包地址
	Markets  []MarketConfig `yaml:"markets"`
	Engine   EngineConfig   `yaml:"engine"`
	Strategy StrategyConfig `yaml:"strategy"`
	Bias     BiasConfig     `yaml:"bias"`
	Ev       EvConfig       `yaml:"ev"`
	Capital  CapitalConfig  `yaml:"capital"`
	Orders   OrderConfig    `yaml:"orders"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	DryRun   bool           `yaml:"dry_run"`

	requireBias bool
}

var globalConfig *Config

// LoadFromFile 从 YAML 文件加载配置，环境变量覆盖敏感项。
func LoadFromFile(filePath string) (*Config, error) {
	cfg := &Config{}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

func (c *Config) applyDefaults() {
	if c.Exchange.ClobURL == "" {
		c.Exchange.ClobURL = "https://clob.polymarket.com"
	}
	if c.Exchange.DataURL == "" {
		c.Exchange.DataURL = "https://data-api.polymarket.com"
	}
	if c.Exchange.StreamURL == "" {
		c.Exchange.StreamURL = "wss://ws-live-data.polymarket.com"
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		c.Exchange.RequestsPerSecond = 10
	}
	if c.Exchange.Burst <= 0 {
		c.Exchange.Burst = 5
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 15
	}

	setIntDefault(&c.Engine.FastCycleSeconds, 5)
	setIntDefault(&c.Engine.SlowCycleSeconds, 30)
	setIntDefault(&c.Engine.CycleTimeoutSeconds, 20)
	setIntDefault(&c.Engine.BalanceRefreshSeconds, 60)
	setIntDefault(&c.Engine.MaxEntriesPerCycle, 2)
	setIntDefault(&c.Engine.RedeemIntervalMinutes, 30)

	setFloatDefault(&c.Strategy.TradeFraction, 0.02)
	setFloatDefault(&c.Strategy.MinTradeUsd, 5)
	setFloatDefault(&c.Strategy.MaxTradeUsd, 250)
	c.requireBias = c.Strategy.RequireBias == nil || *c.Strategy.RequireBias
	setIntDefault(&c.Strategy.MaxOpenPositions, 5)
	setFloatDefault(&c.Strategy.MaxExposureUsd, 500)
	setIntDefault(&c.Strategy.EntryBandMinCents, 20)
	setIntDefault(&c.Strategy.EntryBandMaxCents, 80)
	setIntDefault(&c.Strategy.PreferredBandMinCents, 35)
	setIntDefault(&c.Strategy.PreferredBandMaxCents, 65)
	setFloatDefault(&c.Strategy.StrongBiasNetFlowUsd, 500)
	setFloatDefault(&c.Strategy.StrongEvCents, 2)
	setIntDefault(&c.Strategy.HardStopCents, 25)
	setIntDefault(&c.Strategy.TakeProfitCents, 10)
	setIntDefault(&c.Strategy.HedgeTriggerCents, 15)
	setFloatDefault(&c.Strategy.HedgeRatio, 0.4)
	setFloatDefault(&c.Strategy.HedgeRatioCeiling, 0.8)
	setIntDefault(&c.Strategy.MaxHoldMinutes, 360)

	setIntDefault(&c.Bias.WindowMinutes, 10)
	setIntDefault(&c.Bias.StalenessMinutes, 5)
	setFloatDefault(&c.Bias.MinNetFlowUsd, 100)
	setIntDefault(&c.Bias.MinTrades, 3)
	setFloatDefault(&c.Bias.MinPeerTradeUsd, 10)

	setIntDefault(&c.Ev.WindowSize, 20)
	setFloatDefault(&c.Ev.MinEvCents, 0.5)
	setFloatDefault(&c.Ev.MinProfitFactor, 1.25)
	setFloatDefault(&c.Ev.ChurnCostCents, 2)
	setIntDefault(&c.Ev.PauseCooldownMinutes, 60)
	setIntDefault(&c.Ev.MinSamples, 5)

	setFloatDefault(&c.Capital.BaseReserveFraction, 0.1)
	setFloatDefault(&c.Capital.MaxReserveFraction, 0.5)
	setFloatDefault(&c.Capital.MinReserveUsd, 50)
	setFloatDefault(&c.Capital.AdaptRate, 0.2)
	setFloatDefault(&c.Capital.MissedOppWeight, 1)
	setFloatDefault(&c.Capital.HedgeCoverageWeight, 1)

	setIntDefault(&c.Orders.MinEntryIntervalSeconds, 30)
	setIntDefault(&c.Orders.MaxEntriesPerHour, 10)
	setIntDefault(&c.Orders.TransientCooldownSeconds, 120)
	setFloatDefault(&c.Orders.BalanceSafetyBufferUsd, 2)
	setFloatDefault(&c.Orders.AllowanceCeilingUsd, 5000)
	setIntDefault(&c.Orders.MaxOrderActionsPerCycle, 10)
	setIntDefault(&c.Orders.BucketCapacity, 10)
	setIntDefault(&c.Orders.BucketRefillPerMinute, 10)
	setFloatDefault(&c.Orders.Slippage, 0.02)

	if c.Server.StatusAddr == "" {
		c.Server.StatusAddr = ":8088"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":6061"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "logs/copyflow.log"
	}
	setIntDefault(&c.Log.MaxSizeMB, 100)
	setIntDefault(&c.Log.MaxBackups, 3)
	setIntDefault(&c.Log.MaxAgeDays, 7)
}

// applyEnv 环境变量覆盖（敏感项与部署态开关）。
func (c *Config) applyEnv() {
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("TRACKED_WALLETS"); v != "" {
		c.Wallets = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		c.Server.StatusAddr = v
	}
	if v := os.Getenv("SECRET_STORE_PATH"); v != "" {
		c.Secrets.StorePath = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DryRun = b
		}
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Wallets) == 0 {
		return fmt.Errorf("至少需要一个跟踪钱包（wallets 或 TRACKED_WALLETS）")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("至少需要配置一个市场")
	}
	for i, m := range c.Markets {
		if m.Slug == "" || m.YesAssetID == "" || m.NoAssetID == "" {
			return fmt.Errorf("markets[%d] 缺少 slug/yes_asset_id/no_asset_id", i)
		}
	}
	if c.Strategy.TradeFraction <= 0 || c.Strategy.TradeFraction > 1 {
		return fmt.Errorf("trade_fraction 必须在 (0, 1] 内")
	}
	if c.Strategy.MinTradeUsd > c.Strategy.MaxTradeUsd {
		return fmt.Errorf("min_trade_usd 不能大于 max_trade_usd")
	}
	if c.Strategy.EntryBandMinCents >= c.Strategy.EntryBandMaxCents {
		return fmt.Errorf("入场硬边界非法: [%d, %d]", c.Strategy.EntryBandMinCents, c.Strategy.EntryBandMaxCents)
	}
	if c.Strategy.PreferredBandMinCents < c.Strategy.EntryBandMinCents ||
		c.Strategy.PreferredBandMaxCents > c.Strategy.EntryBandMaxCents {
		return fmt.Errorf("优选带必须嵌套在入场硬边界内")
	}
	if c.Strategy.HedgeRatio <= 0 || c.Strategy.HedgeRatio > c.Strategy.HedgeRatioCeiling {
		return fmt.Errorf("hedge_ratio 必须在 (0, hedge_ratio_ceiling] 内")
	}
	if c.Strategy.HedgeRatioCeiling > 1 {
		return fmt.Errorf("hedge_ratio_ceiling 不能超过 1")
	}
	if c.Capital.BaseReserveFraction < 0 || c.Capital.BaseReserveFraction > c.Capital.MaxReserveFraction {
		return fmt.Errorf("base_reserve_fraction 必须在 [0, max_reserve_fraction] 内")
	}
	if c.Capital.MaxReserveFraction >= 1 {
		return fmt.Errorf("max_reserve_fraction 必须小于 1")
	}
	if c.Orders.Slippage < 0 || c.Orders.Slippage > 0.2 {
		return fmt.Errorf("slippage 必须在 [0, 0.2] 内")
	}
	return nil
}

// ---- engine.ConfigInterface ----

func (c *Config) GetFastCycleInterval() time.Duration {
	return time.Duration(c.Engine.FastCycleSeconds) * time.Second
}
func (c *Config) GetSlowCycleInterval() time.Duration {
	return time.Duration(c.Engine.SlowCycleSeconds) * time.Second
}
func (c *Config) GetCycleTimeout() time.Duration {
	return time.Duration(c.Engine.CycleTimeoutSeconds) * time.Second
}
func (c *Config) GetBalanceRefreshInterval() time.Duration {
	return time.Duration(c.Engine.BalanceRefreshSeconds) * time.Second
}
func (c *Config) GetMaxEntriesPerCycle() int { return c.Engine.MaxEntriesPerCycle }
func (c *Config) GetRedeemInterval() time.Duration {
	return time.Duration(c.Engine.RedeemIntervalMinutes) * time.Minute
}

// ---- brain.ConfigInterface ----

func (c *Config) GetTradeFraction() float64        { return c.Strategy.TradeFraction }
func (c *Config) GetMinTradeUsd() float64          { return c.Strategy.MinTradeUsd }
func (c *Config) GetMaxTradeUsd() float64          { return c.Strategy.MaxTradeUsd }
func (c *Config) GetRequireBias() bool             { return c.requireBias }
func (c *Config) GetMaxOpenPositions() int         { return c.Strategy.MaxOpenPositions }
func (c *Config) GetMaxExposureUsd() float64       { return c.Strategy.MaxExposureUsd }
func (c *Config) GetEntryBandMinCents() int        { return c.Strategy.EntryBandMinCents }
func (c *Config) GetEntryBandMaxCents() int        { return c.Strategy.EntryBandMaxCents }
func (c *Config) GetPreferredBandMinCents() int    { return c.Strategy.PreferredBandMinCents }
func (c *Config) GetPreferredBandMaxCents() int    { return c.Strategy.PreferredBandMaxCents }
func (c *Config) GetStrongBiasNetFlowUsd() float64 { return c.Strategy.StrongBiasNetFlowUsd }
func (c *Config) GetStrongEvCents() float64        { return c.Strategy.StrongEvCents }
func (c *Config) GetHardStopCents() int            { return c.Strategy.HardStopCents }
func (c *Config) GetTakeProfitCents() int          { return c.Strategy.TakeProfitCents }
func (c *Config) GetHedgeTriggerCents() int        { return c.Strategy.HedgeTriggerCents }
func (c *Config) GetHedgeRatio() float64           { return c.Strategy.HedgeRatio }
func (c *Config) GetHedgeRatioCeiling() float64    { return c.Strategy.HedgeRatioCeiling }
func (c *Config) GetMaxHoldDuration() time.Duration {
	return time.Duration(c.Strategy.MaxHoldMinutes) * time.Minute
}

// ---- bias.ConfigInterface ----

func (c *Config) GetBiasWindow() time.Duration {
	return time.Duration(c.Bias.WindowMinutes) * time.Minute
}
func (c *Config) GetBiasStaleness() time.Duration {
	return time.Duration(c.Bias.StalenessMinutes) * time.Minute
}
func (c *Config) GetBiasMinNetFlowUsd() float64 { return c.Bias.MinNetFlowUsd }
func (c *Config) GetBiasMinTrades() int         { return c.Bias.MinTrades }
func (c *Config) GetInstantCopy() bool          { return c.Bias.InstantCopy }
func (c *Config) GetMinPeerTradeUsd() float64   { return c.Bias.MinPeerTradeUsd }

// ---- evtrack.ConfigInterface ----

func (c *Config) GetEvWindowSize() int        { return c.Ev.WindowSize }
func (c *Config) GetMinEv() float64           { return c.Ev.MinEvCents }
func (c *Config) GetMinProfitFactor() float64 { return c.Ev.MinProfitFactor }
func (c *Config) GetChurnCostCents() float64  { return c.Ev.ChurnCostCents }
func (c *Config) GetEvPauseCooldown() time.Duration {
	return time.Duration(c.Ev.PauseCooldownMinutes) * time.Minute
}
func (c *Config) GetEvMinSamples() int { return c.Ev.MinSamples }

// ---- capital.ConfigInterface ----

func (c *Config) GetBaseReserveFraction() float64 { return c.Capital.BaseReserveFraction }
func (c *Config) GetMaxReserveFraction() float64  { return c.Capital.MaxReserveFraction }
func (c *Config) GetMinReserveUsd() float64       { return c.Capital.MinReserveUsd }
func (c *Config) GetReserveAdaptRate() float64    { return c.Capital.AdaptRate }
func (c *Config) GetMissedOppWeight() float64     { return c.Capital.MissedOppWeight }
func (c *Config) GetHedgeCoverageWeight() float64 { return c.Capital.HedgeCoverageWeight }

// ---- oms.ConfigInterface ----

func (c *Config) GetMinEntryInterval() time.Duration {
	return time.Duration(c.Orders.MinEntryIntervalSeconds) * time.Second
}
func (c *Config) GetMaxEntriesPerHour() int { return c.Orders.MaxEntriesPerHour }
func (c *Config) GetTransientCooldown() time.Duration {
	return time.Duration(c.Orders.TransientCooldownSeconds) * time.Second
}
func (c *Config) GetBalanceSafetyBufferUsd() float64 { return c.Orders.BalanceSafetyBufferUsd }
func (c *Config) GetAllowanceCeilingUsd() float64    { return c.Orders.AllowanceCeilingUsd }
func (c *Config) GetMaxOrderActionsPerCycle() int    { return c.Orders.MaxOrderActionsPerCycle }
func (c *Config) GetOrderBucketCapacity() int        { return c.Orders.BucketCapacity }
func (c *Config) GetOrderBucketRefillPerMinute() int { return c.Orders.BucketRefillPerMinute }

func setIntDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setFloatDefault(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func splitList(str string) []string {
	parts := strings.Split(str, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
