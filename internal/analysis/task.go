package analysis

import (
	"context"
	"time"

	"tradeloop/internal/market"
)

// 中文说明：
// 分析任务是可插拔的：每个循环为每个标的注册一组任务并行执行，
// 所有任务产出同构的 Output。可选任务缺席或失败是正常路径，
// 只有必选任务失败才会让该标的本循环降级。

// Stance 任务给出的方向判断。
type Stance string

const (
	StanceLong    Stance = "long"
	StanceShort   Stance = "short"
	StanceNeutral Stance = "neutral"
)

// Output 单个分析任务的输出。
type Output struct {
	TaskID     string         `json:"task_id"`
	Symbol     string         `json:"symbol"`
	Timestamp  time.Time      `json:"timestamp"`
	Stance     Stance         `json:"stance"`
	Confidence float64        `json:"confidence"` // [0,1]
	Rationale  string         `json:"rationale,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TradeOutcome 供回顾任务使用的最小成交结果视图。
type TradeOutcome struct {
	Symbol   string
	Action   string
	PnL      float64
	ClosedAt time.Time
}

// PriorContext 任务声明需要的上下文：上一循环的任务输出与近期成交结果。
type PriorContext struct {
	Previous     map[string]Output
	RecentTrades []TradeOutcome
}

// TaskMeta 任务元信息。Timeout<=0 时由 Pool 取默认超时。
type TaskMeta struct {
	ID       string
	Required bool
	Timeout  time.Duration
}

// Task 分析任务统一接口。
type Task interface {
	Meta() TaskMeta
	Analyze(ctx context.Context, snap market.Snapshot, prior PriorContext) (Output, error)
}

// StanceResult 语义分析返回的方向判断。
// Action 是模型原话的动作标签（可为空），由调用方按持仓方向归一化。
type StanceResult struct {
	Stance     Stance  `json:"stance"`
	Action     string  `json:"action,omitempty"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// SnapshotStancer 基于行情快照给出方向判断（供可选的语义任务使用）。
type SnapshotStancer interface {
	StanceOf(ctx context.Context, snap market.Snapshot) (StanceResult, error)
}

// StanceProvider 基于共识摘要给出方向判断（供路由的 llm 分支使用）。
// 实现方不可用或超时属于预期情况，调用方必须容忍失败并继续。
type StanceProvider interface {
	Evaluate(ctx context.Context, symbol string, summary ConsensusSummary, extra string) (StanceResult, error)
}
