package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"tradeloop/internal/market"
)

// ProbabilityTask 概率估计任务（可选）。
// 用 15m 收益率动量与 RSI 偏离拟合一个简单的上涨概率，
// 不追求精确，只作为共识投票里的一票。
type ProbabilityTask struct {
	timeout time.Duration
}

func NewProbabilityTask(timeout time.Duration) *ProbabilityTask {
	return &ProbabilityTask{timeout: timeout}
}

func (p *ProbabilityTask) Meta() TaskMeta {
	return TaskMeta{ID: "probability", Required: false, Timeout: p.timeout}
}

func (p *ProbabilityTask) Analyze(_ context.Context, snap market.Snapshot, _ PriorContext) (Output, error) {
	c15m := snap.Candles("15m")
	if len(c15m) < 30 {
		return Output{}, fmt.Errorf("15m K线不足: %d", len(c15m))
	}
	closes := closesOf(c15m)

	roc := lastOf(talib.Roc(closes, 6))
	rsi := lastOf(talib.Rsi(closes, 14))

	// logistic 合成：动量为主，RSI 偏离 50 为辅。
	z := roc*0.8 + (rsi-50)*0.04
	prob := 1 / (1 + math.Exp(-z))

	stance := StanceNeutral
	switch {
	case prob >= 0.58:
		stance = StanceLong
	case prob <= 0.42:
		stance = StanceShort
	}

	return Output{
		Stance:     stance,
		Confidence: math.Abs(prob-0.5) * 2,
		Rationale:  fmt.Sprintf("p_up=%.3f roc6=%.2f rsi14=%.1f", prob, roc, rsi),
		Metadata:   map[string]any{"prob_up": prob},
	}, nil
}
