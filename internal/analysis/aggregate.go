package analysis

import (
	"fmt"
	"sort"
)

// ConsensusSummary 单标的单循环的共识摘要。
// Lean 为置信度加权投票的方向，Agreement 为支持该方向的权重占比。
// 平票时 Lean 固定为 neutral、Agreement 为 0。
type ConsensusSummary struct {
	Symbol    string            `json:"symbol"`
	Lean      Stance            `json:"lean"`
	Agreement float64           `json:"agreement"` // [0,1]
	Score     float64           `json:"score"`     // [-100,100]，来自必选任务
	Momentum  float64           `json:"momentum"`  // 短周期动量分量
	TaskCount int               `json:"task_count"`
	Outputs   map[string]Output `json:"outputs,omitempty"`
}

// TaskIDs 参与共识的任务ID（字典序，便于展示与测试）。
func (c ConsensusSummary) TaskIDs() []string {
	ids := make([]string, 0, len(c.Outputs))
	for id := range c.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Aggregate 把任务输出合成共识摘要。要求必选任务 "quant" 的输出在场，
// 缺席说明上游没有按降级路径处理，属于编程错误。
func Aggregate(symbol string, outputs map[string]Output) (ConsensusSummary, error) {
	quant, ok := outputs["quant"]
	if !ok {
		return ConsensusSummary{}, fmt.Errorf("共识聚合缺少必选任务输出: %s", symbol)
	}

	var wLong, wShort, wNeutral float64
	for _, out := range outputs {
		switch out.Stance {
		case StanceLong:
			wLong += out.Confidence
		case StanceShort:
			wShort += out.Confidence
		default:
			wNeutral += out.Confidence
		}
	}

	summary := ConsensusSummary{
		Symbol:    symbol,
		Lean:      StanceNeutral,
		TaskCount: len(outputs),
		Outputs:   outputs,
	}

	total := wLong + wShort + wNeutral
	switch {
	case wLong > wShort:
		summary.Lean = StanceLong
		if total > 0 {
			summary.Agreement = wLong / total
		}
	case wShort > wLong:
		summary.Lean = StanceShort
		if total > 0 {
			summary.Agreement = wShort / total
		}
	default:
		// 平票：中立且一致度为零，后续分支只能观望。
		summary.Lean = StanceNeutral
		summary.Agreement = 0
	}

	if v, ok := quant.Metadata["score"].(float64); ok {
		summary.Score = v
	}
	if v, ok := quant.Metadata["momentum"].(float64); ok {
		summary.Momentum = v
	}
	return summary, nil
}
