package decision

import "time"

// 中文说明：
// 本文件定义路由与风控之间流转的决策数据结构。
// 每个循环、每个标的，路由后恰好存在一条 Decision。

// 决策来源（由哪个分支产出）。
const (
	SourceForcedExit   = "forced_exit"
	SourceFastTrend    = "fast_trend"
	SourceLLM          = "llm"
	SourceDecisionCore = "decision_core"
	SourceDegraded     = "degraded" // 必选分析任务失败时的兜底
)

// Decision 单个标的在一个循环内的最终动作建议。
type Decision struct {
	Symbol          string    `json:"symbol"`
	Action          Action    `json:"action"`
	Confidence      float64   `json:"confidence"` // [0,1]
	Source          string    `json:"source"`     // 产出分支
	Leverage        int       `json:"leverage,omitempty"`
	PositionSizeUSD float64   `json:"position_size_usd,omitempty"`
	EntryPrice      float64   `json:"entry_price,omitempty"`
	StopLoss        float64   `json:"stop_loss,omitempty"`
	TakeProfit      float64   `json:"take_profit,omitempty"`
	Reasoning       string    `json:"reasoning,omitempty"`
	DecidedAt       time.Time `json:"decided_at,omitempty"`
}

// RiskVerdict 风控审计结论：放行（可能带修正）或否决。
// 否决时 Decision 的动作已被降级为 wait，原始动作记录在 VetoedAction。
type RiskVerdict struct {
	Approved     bool     `json:"approved"`
	Decision     Decision `json:"decision"`
	VetoReason   string   `json:"veto_reason,omitempty"`
	VetoedAction Action   `json:"vetoed_action,omitempty"`
	Corrections  []string `json:"corrections,omitempty"` // 自动修正说明（如杠杆钳制、默认止损）
}

// PositionView 路由与风控所需的最小持仓视图（由 ledger 提供）。
type PositionView struct {
	Symbol        string
	Side          string // "long" / "short"
	EntryPrice    float64
	Quantity      float64
	Leverage      int
	Notional      float64
	MarkPrice     float64
	UnrealizedPnL float64
	OpenedAt      time.Time
}

// LossPct 以保证金为基数的浮亏比例（亏损为正数，盈利返回 0）。
func (p PositionView) LossPct() float64 {
	if p.UnrealizedPnL >= 0 || p.Notional <= 0 {
		return 0
	}
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	margin := p.Notional / float64(lev)
	if margin <= 0 {
		return 0
	}
	return -p.UnrealizedPnL / margin * 100
}
