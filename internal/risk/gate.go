package risk

import (
	"fmt"
	"math"

	"tradeloop/internal/decision"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
)

// 中文说明：
// 风控闸门是决策进入执行前的最后一道审计。平仓、持有、观望一律放行，
// 开仓按顺序做参数修正与否决检查。否决不是丢弃：动作降级为 wait，
// 原始动作与理由记录在结论里进入审计流水。

// AccountView 风控所需的账户视图。Positions 用于组合敞口校验。
type AccountView struct {
	TotalEquity     float64
	AvailableMargin float64
	Positions       []decision.PositionView
}

// GateConfig 风控参数。
type GateConfig struct {
	// MaxLeverage 杠杆硬上限，超出的开仓钳制而非否决。
	MaxLeverage int
	// DefaultLeverage 决策未给杠杆时采用的缺省值。
	DefaultLeverage int
	// DefaultStopLossPct 决策缺省止损时按入场价该百分比注入。
	DefaultStopLossPct float64
	// MinRiskReward 盈亏比下限，不达标的开仓否决。
	MinRiskReward float64
	// MaxPositionPctOfEquity 单笔名义仓位占总权益上限（百分比）。
	MaxPositionPctOfEquity float64
	// MaxTotalExposurePctOfEquity 全部持仓名义合计占总权益上限（百分比）。
	MaxTotalExposurePctOfEquity float64
	// Sizing 以损订仓参数。
	Sizing SizingConfig
}

func (c GateConfig) withDefaults() GateConfig {
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = 20
	}
	if c.DefaultLeverage <= 0 {
		c.DefaultLeverage = 5
	}
	if c.DefaultLeverage > c.MaxLeverage {
		c.DefaultLeverage = c.MaxLeverage
	}
	if c.DefaultStopLossPct <= 0 {
		c.DefaultStopLossPct = 2.0
	}
	if c.MinRiskReward <= 0 {
		c.MinRiskReward = 2.0
	}
	if c.MaxPositionPctOfEquity <= 0 {
		c.MaxPositionPctOfEquity = 500 // 名义仓位最多 5 倍权益
	}
	if c.MaxTotalExposurePctOfEquity <= 0 {
		c.MaxTotalExposurePctOfEquity = 1000
	}
	return c
}

// Gate 风控闸门。无内部状态，可并发使用。
type Gate struct {
	cfg     GateConfig
	resolve func(symbol string) (GateConfig, bool)
}

func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg.withDefaults()}
}

// WithResolver 挂接按标的的参数解析器（profiles 覆盖项）。
// 解析器返回 false 时沿用全局参数。
func (g *Gate) WithResolver(fn func(symbol string) (GateConfig, bool)) *Gate {
	g.resolve = fn
	return g
}

func (g *Gate) cfgFor(symbol string) GateConfig {
	if g.resolve != nil {
		if cfg, ok := g.resolve(symbol); ok {
			return cfg.withDefaults()
		}
	}
	return g.cfg
}

// ATRTimeframe 杠杆测算所用的K线周期，调用方取对应序列传给 Review。
func (g *Gate) ATRTimeframe() string {
	return g.cfg.Sizing.withDefaults().ATRTimeframe
}

// Review 审计一条决策。非开仓动作原样放行；开仓动作依次执行
// 杠杆测算与钳制、止损注入与方向纠正、盈亏比校验、仓位测算、
// 组合敞口校验与保证金校验。candles 供波动率杠杆测算，可为 nil。
func (g *Gate) Review(d decision.Decision, acct AccountView, livePrice float64, candles []market.Candle) decision.RiskVerdict {
	if !d.Action.IsOpen() {
		return decision.RiskVerdict{Approved: true, Decision: d}
	}

	cfg := g.cfgFor(d.Symbol)
	verdict := decision.RiskVerdict{Decision: d}
	out := d

	if out.EntryPrice <= 0 {
		if livePrice <= 0 {
			return g.veto(d, "无有效入场价")
		}
		out.EntryPrice = livePrice
		verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("入场价采用现价 %.4f", livePrice))
	}

	// 杠杆：决策没给时优先按波动率测算，退到缺省值；超限钳制。
	switch {
	case out.Leverage <= 0:
		if sized := ATRLeverage(candles, cfg.Sizing); sized.ATRValue > 0 {
			out.Leverage = sized.Leverage
			if out.Leverage > cfg.MaxLeverage {
				out.Leverage = cfg.MaxLeverage
			}
			verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("按 ATR 波动率测算杠杆 %d", out.Leverage))
		} else {
			out.Leverage = cfg.DefaultLeverage
			verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("杠杆缺省，按 %d 处理", cfg.DefaultLeverage))
		}
	case out.Leverage > cfg.MaxLeverage:
		verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("杠杆 %d 超限钳制为 %d", out.Leverage, cfg.MaxLeverage))
		out.Leverage = cfg.MaxLeverage
	}

	long := out.Action == decision.ActionOpenLong

	// 止损：缺省注入，方向错误镜像纠正。
	if out.StopLoss <= 0 {
		out.StopLoss = defaultStop(out.EntryPrice, cfg.DefaultStopLossPct, long)
		verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("注入默认止损 %.4f (%.1f%%)", out.StopLoss, cfg.DefaultStopLossPct))
	} else if wrongStopSide(out.EntryPrice, out.StopLoss, long) {
		fixed := mirrorStop(out.EntryPrice, out.StopLoss)
		verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("止损方向错误 %.4f 纠正为 %.4f", out.StopLoss, fixed))
		out.StopLoss = fixed
	}

	stopDist := math.Abs(out.EntryPrice-out.StopLoss) / out.EntryPrice * 100
	if stopDist <= 0 {
		return g.veto(d, "止损距离为零")
	}

	// 止盈：缺省按盈亏比下限注入；给了就校验盈亏比。
	if out.TakeProfit <= 0 {
		out.TakeProfit = defaultTarget(out.EntryPrice, out.StopLoss, cfg.MinRiskReward, long)
		verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("注入默认止盈 %.4f", out.TakeProfit))
	} else {
		rr := math.Abs(out.TakeProfit-out.EntryPrice) / math.Abs(out.EntryPrice-out.StopLoss)
		if rr < cfg.MinRiskReward {
			return g.veto(d, fmt.Sprintf("盈亏比 %.2f 低于下限 %.2f", rr, cfg.MinRiskReward))
		}
	}

	// 仓位：缺省以损订仓，超限钳制。
	if out.PositionSizeUSD <= 0 {
		out.PositionSizeUSD = PositionSizeByStopLoss(acct.TotalEquity, cfg.Sizing.withDefaults().RiskPctPerTrade, stopDist)
		verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("以损订仓 %.2f USD", out.PositionSizeUSD))
	}
	maxNotional := acct.TotalEquity * cfg.MaxPositionPctOfEquity / 100
	if maxNotional > 0 && out.PositionSizeUSD > maxNotional {
		verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("仓位 %.2f 超限钳制为 %.2f", out.PositionSizeUSD, maxNotional))
		out.PositionSizeUSD = maxNotional
	}
	if out.PositionSizeUSD <= 0 {
		return g.veto(d, "仓位测算结果为零")
	}

	// 组合敞口：已持仓名义加新仓名义不得超过权益上限，压缩放不下的否决。
	if maxExposure := acct.TotalEquity * cfg.MaxTotalExposurePctOfEquity / 100; maxExposure > 0 {
		open := 0.0
		for _, p := range acct.Positions {
			open += p.Notional
		}
		headroom := maxExposure - open
		if headroom <= 0 {
			return g.veto(d, fmt.Sprintf("组合敞口已满: 持仓名义 %.2f 上限 %.2f", open, maxExposure))
		}
		if out.PositionSizeUSD > headroom {
			verdict.Corrections = append(verdict.Corrections, fmt.Sprintf("组合敞口受限，仓位 %.2f 压缩为 %.2f", out.PositionSizeUSD, headroom))
			out.PositionSizeUSD = headroom
		}
	}

	// 保证金校验：所需保证金超过可用余额直接否决。
	required := out.PositionSizeUSD / float64(out.Leverage)
	if required > acct.AvailableMargin {
		return g.veto(d, fmt.Sprintf("保证金不足: 需要 %.2f 可用 %.2f", required, acct.AvailableMargin))
	}

	verdict.Approved = true
	verdict.Decision = out
	if len(verdict.Corrections) > 0 {
		logger.Infof("风控修正 %s %s: %v", out.Symbol, out.Action, verdict.Corrections)
	}
	return verdict
}

func (g *Gate) veto(d decision.Decision, reason string) decision.RiskVerdict {
	logger.Warnf("风控否决 %s %s: %s", d.Symbol, d.Action, reason)
	downgraded := d
	downgraded.Action = decision.ActionWait
	return decision.RiskVerdict{
		Approved:     false,
		Decision:     downgraded,
		VetoReason:   reason,
		VetoedAction: d.Action,
	}
}

func defaultStop(entry, pct float64, long bool) float64 {
	if long {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

func wrongStopSide(entry, stop float64, long bool) bool {
	if long {
		return stop >= entry
	}
	return stop <= entry
}

// mirrorStop 把放错方向的止损按同等距离镜像到正确一侧。
func mirrorStop(entry, stop float64) float64 {
	return entry - (stop - entry)
}

func defaultTarget(entry, stop, rr float64, long bool) float64 {
	dist := math.Abs(entry-stop) * rr
	if long {
		return entry + dist
	}
	return entry - dist
}
