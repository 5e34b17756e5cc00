package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tradeloop/internal/gateway/provider"
)

// 中文说明：
// 主配置是一份 TOML 文件。配置错误属于致命错误：进程带着错误配置
// 下单比拒绝启动危险得多，所以 Load 校验失败直接返回错误由 main 退出。

// Config 进程主配置。
type Config struct {
	Log       LogConfig       `toml:"log"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Market    MarketConfig    `toml:"market"`
	Symbols   SymbolsConfig   `toml:"symbols"`
	Cycle     CycleConfig     `toml:"cycle"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	Router    RouterConfig    `toml:"router"`
	Risk      RiskConfig      `toml:"risk"`
	AI        AIConfig        `toml:"ai"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Audit     AuditConfig     `toml:"audit"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug / info / warn / error
	Pretty bool   `toml:"pretty"` // 终端彩色输出
}

type ExchangeConfig struct {
	APIKey       string  `toml:"api_key"`
	SecretKey    string  `toml:"secret_key"`
	DryRun       bool    `toml:"dry_run"`
	PaperEquity  float64 `toml:"paper_equity"`  // dry_run 初始权益
	QtyPrecision int     `toml:"qty_precision"` // 数量精度
}

type MarketConfig struct {
	RESTBaseURL string   `toml:"rest_base_url"`
	WSBaseURL   string   `toml:"ws_base_url"`
	Intervals   []string `toml:"intervals"`
	KlineLimit  int      `toml:"kline_limit"`
}

type SymbolsConfig struct {
	Static        []string `toml:"static"`
	APIURL        string   `toml:"api_url"`
	RefreshMinute int      `toml:"refresh_minutes"`
}

type CycleConfig struct {
	Interval         string `toml:"interval"` // 如 "5m"
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	SymbolTimeoutSec int    `toml:"symbol_timeout_seconds"`
	MaxOpensPerCycle int    `toml:"max_opens_per_cycle"`
}

type AnalysisConfig struct {
	TaskTimeoutSeconds int  `toml:"task_timeout_seconds"`
	EnableProbability  bool `toml:"enable_probability"`
	EnableReflection   bool `toml:"enable_reflection"`
	EnableDivergence   bool `toml:"enable_divergence"`
	EnableSemantic     bool `toml:"enable_semantic"`
}

type RouterConfig struct {
	ForcedExitLossPct  float64 `toml:"forced_exit_loss_pct"`
	MaxHoldHours       int     `toml:"max_hold_hours"` // 0 表示不限
	FastTrendMomentum  float64 `toml:"fast_trend_momentum"`
	FastTrendAgreement float64 `toml:"fast_trend_agreement"`
	LLMTimeoutSeconds  int     `toml:"llm_timeout_seconds"`
	MinOpenConfidence  float64 `toml:"min_open_confidence"`
}

type RiskConfig struct {
	MaxLeverage            int     `toml:"max_leverage"`
	DefaultLeverage        int     `toml:"default_leverage"`
	DefaultStopLossPct     float64 `toml:"default_stop_loss_pct"`
	MinRiskReward          float64 `toml:"min_risk_reward"`
	MaxPositionPctOfEquity float64 `toml:"max_position_pct_of_equity"`
	MaxTotalExposurePct    float64 `toml:"max_total_exposure_pct"` // 全部持仓名义合计占权益上限
	RiskPctPerTrade        float64 `toml:"risk_pct_per_trade"`
	ProfilesPath           string  `toml:"profiles_path"` // profiles.yaml 路径，空表示不启用
}

type AIConfig struct {
	Models         []provider.ModelCfg `toml:"models"`
	TimeoutSeconds int                 `toml:"timeout_seconds"`
}

type DashboardConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type AuditConfig struct {
	Path string `toml:"path"` // sqlite 文件路径，空表示关闭审计
}

// Load 读取并校验配置。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Cycle.Interval == "" {
		c.Cycle.Interval = "5m"
	}
	if c.Cycle.MaxOpensPerCycle <= 0 {
		c.Cycle.MaxOpensPerCycle = 1
	}
	if len(c.Market.Intervals) == 0 {
		c.Market.Intervals = []string{"5m", "15m", "1h"}
	}
	if c.Market.KlineLimit <= 0 {
		c.Market.KlineLimit = 100
	}
	if c.Symbols.RefreshMinute <= 0 {
		c.Symbols.RefreshMinute = 60
	}
	if c.Exchange.PaperEquity <= 0 {
		c.Exchange.PaperEquity = 10000
	}
	if c.Dashboard.Listen == "" {
		c.Dashboard.Listen = ":8080"
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level 非法: %q", c.Log.Level)
	}
	if len(c.Symbols.Static) == 0 && c.Symbols.APIURL == "" {
		return fmt.Errorf("symbols.static 与 symbols.api_url 至少配置一个")
	}
	if !c.Exchange.DryRun && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("实盘模式必须配置 exchange.api_key / secret_key")
	}
	if c.Risk.MinRiskReward < 0 {
		return fmt.Errorf("risk.min_risk_reward 不能为负")
	}
	return nil
}

// CycleTimeout 循环超时。
func (c *Config) CycleTimeout() time.Duration {
	return secondsOr(c.Cycle.TimeoutSeconds, 3*time.Minute)
}

// SymbolTimeout 单标的超时。
func (c *Config) SymbolTimeout() time.Duration {
	return secondsOr(c.Cycle.SymbolTimeoutSec, time.Minute)
}

// TaskTimeout 单任务超时。
func (c *Config) TaskTimeout() time.Duration {
	return secondsOr(c.Analysis.TaskTimeoutSeconds, 10*time.Second)
}

// AITimeout 模型调用超时。
func (c *Config) AITimeout() time.Duration {
	return secondsOr(c.AI.TimeoutSeconds, time.Minute)
}

// SymbolRefreshMaxAge 标的列表缓存时长。
func (c *Config) SymbolRefreshMaxAge() time.Duration {
	return time.Duration(c.Symbols.RefreshMinute) * time.Minute
}

func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
