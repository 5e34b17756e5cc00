package risk

import (
	"math"

	"github.com/markcheno/go-talib"

	"tradeloop/internal/market"
	"tradeloop/internal/scheduler"
)

// SizingConfig 杠杆与仓位测算参数。
type SizingConfig struct {
	// ATRPeriod ATR 周期（默认 14）。
	ATRPeriod int `json:"atr_period,omitempty"`
	// ATRTimeframe 计算 ATR 用的K线周期（默认 "1h"）。
	ATRTimeframe string `json:"atr_timeframe,omitempty"`
	// MaxLeverage 杠杆上限（默认 20）。
	MaxLeverage int `json:"max_leverage,omitempty"`
	// MinLeverage 杠杆下限（默认 1）。
	MinLeverage int `json:"min_leverage,omitempty"`
	// RiskPctPerTrade 单笔最大亏损占总权益百分比（默认 5），用于以损订仓。
	RiskPctPerTrade float64 `json:"risk_pct_per_trade,omitempty"`
}

func (c SizingConfig) withDefaults() SizingConfig {
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.ATRTimeframe == "" {
		c.ATRTimeframe = "1h"
	}
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = 20
	}
	if c.MinLeverage <= 0 {
		c.MinLeverage = 1
	}
	if c.RiskPctPerTrade <= 0 {
		c.RiskPctPerTrade = 5.0
	}
	return c
}

// SizingResult 杠杆测算结果。
type SizingResult struct {
	Leverage        int     `json:"leverage"`
	ATRValue        float64 `json:"atr_value"`
	MaxATR24h       float64 `json:"max_atr_24h"`
	CurrentPrice    float64 `json:"current_price"`
	PositionSizeUSD float64 `json:"position_size_usd,omitempty"`
	StopDistancePct float64 `json:"stop_distance_pct,omitempty"`
}

// ATRLeverage 按波动率测算杠杆: leverage = close / max(ATR, 过去24h)。
// 波动越大杠杆越低。数据不足时返回下限杠杆而不报错。
func ATRLeverage(candles []market.Candle, cfg SizingConfig) SizingResult {
	cfg = cfg.withDefaults()
	result := SizingResult{Leverage: cfg.MinLeverage}
	if len(candles) == 0 {
		return result
	}

	n := len(candles)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	atrSeries := talib.Atr(highs, lows, closes, cfg.ATRPeriod)
	if len(atrSeries) == 0 {
		return result
	}

	price := closes[n-1]
	if price <= 0 {
		return result
	}
	result.CurrentPrice = price

	atr := lastValid(atrSeries)
	if atr <= 0 {
		return result
	}
	result.ATRValue = atr

	lookback := barsIn24h(cfg.ATRTimeframe)
	if lookback > len(atrSeries) {
		lookback = len(atrSeries)
	}
	maxATR := highest(atrSeries, lookback)
	if maxATR <= 0 {
		maxATR = atr
	}
	result.MaxATR24h = maxATR

	lev := int(math.Round(price / maxATR))
	if lev < cfg.MinLeverage {
		lev = cfg.MinLeverage
	}
	if lev > cfg.MaxLeverage {
		lev = cfg.MaxLeverage
	}
	result.Leverage = lev
	return result
}

// PositionSizeByStopLoss 以损订仓：止损打掉时正好亏掉权益的 riskPct%。
// loss = size * stopDistancePct/100 ，令 loss = capital * riskPct/100，
// 解得 size = capital * riskPct / stopDistancePct。
func PositionSizeByStopLoss(capital, riskPct, stopDistancePct float64) float64 {
	if capital <= 0 || riskPct <= 0 || stopDistancePct <= 0 {
		return 0
	}
	maxLoss := capital * riskPct / 100
	return math.Round(maxLoss/(stopDistancePct/100)*100) / 100
}

// SizeWithATR 一次性给出杠杆与仓位。
func SizeWithATR(candles []market.Candle, cfg SizingConfig, capital, stopDistancePct float64) SizingResult {
	result := ATRLeverage(candles, cfg)
	if capital > 0 && stopDistancePct > 0 {
		cfg = cfg.withDefaults()
		result.StopDistancePct = stopDistancePct
		result.PositionSizeUSD = PositionSizeByStopLoss(capital, cfg.RiskPctPerTrade, stopDistancePct)
	}
	return result
}

func barsIn24h(interval string) int {
	dur, ok := scheduler.ParseIntervalDuration(interval)
	if !ok || dur.Minutes() <= 0 {
		return 1
	}
	bars := int(math.Ceil(24 * 60 / dur.Minutes()))
	if bars < 1 {
		bars = 1
	}
	return bars
}

func highest(series []float64, n int) float64 {
	if len(series) == 0 || n <= 0 {
		return 0
	}
	start := len(series) - n
	if start < 0 {
		start = 0
	}
	best := -math.MaxFloat64
	for i := start; i < len(series); i++ {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v > best {
			best = v
		}
	}
	if best == -math.MaxFloat64 {
		return 0
	}
	return best
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	return 0
}
