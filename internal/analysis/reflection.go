package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeloop/internal/market"
)

// ReflectionTask 回顾任务（可选）。
// 检查该标的近期的成交结果：同方向连续亏损时给出反向修正票，
// 防止同一套判断在逆风行情里反复开仓。
type ReflectionTask struct {
	timeout time.Duration
	window  int
}

func NewReflectionTask(timeout time.Duration) *ReflectionTask {
	return &ReflectionTask{timeout: timeout, window: 5}
}

func (r *ReflectionTask) Meta() TaskMeta {
	return TaskMeta{ID: "reflection", Required: false, Timeout: r.timeout}
}

func (r *ReflectionTask) Analyze(_ context.Context, snap market.Snapshot, prior PriorContext) (Output, error) {
	var (
		lossLong  int
		lossShort int
		total     int
	)
	for i := len(prior.RecentTrades) - 1; i >= 0 && total < r.window; i-- {
		tr := prior.RecentTrades[i]
		if tr.Symbol != snap.Symbol {
			continue
		}
		total++
		if tr.PnL >= 0 {
			continue
		}
		if strings.Contains(tr.Action, "long") {
			lossLong++
		} else if strings.Contains(tr.Action, "short") {
			lossShort++
		}
	}

	out := Output{
		Stance:     StanceNeutral,
		Confidence: 0.1,
		Rationale:  "近期无方向性亏损",
	}
	switch {
	case lossLong >= 2 && lossLong > lossShort:
		out.Stance = StanceShort
		out.Confidence = 0.3 + 0.1*float64(lossLong-2)
		out.Rationale = fmt.Sprintf("近 %d 笔中多头连亏 %d 次，建议反向审视", total, lossLong)
	case lossShort >= 2 && lossShort > lossLong:
		out.Stance = StanceLong
		out.Confidence = 0.3 + 0.1*float64(lossShort-2)
		out.Rationale = fmt.Sprintf("近 %d 笔中空头连亏 %d 次，建议反向审视", total, lossShort)
	}
	if out.Confidence > 0.6 {
		out.Confidence = 0.6
	}
	out.Metadata = map[string]any{"loss_long": lossLong, "loss_short": lossShort, "sampled": total}
	return out, nil
}
