package decision

import (
	"fmt"

	"tradeloop/internal/analysis"
)

// decision_core 规则兜底。没有任何上游分支接管时由这里给出决策，
// 只依赖共识摘要与持仓视图，纯函数、无外部调用。
//
// 规则：
//   - 持仓且共识强烈反向（|score|>=40 且方向相反）→ 平仓
//   - 持仓其余情况 → 持有
//   - 空仓且 |score|>=35 且一致度>=0.6 → 顺共识开仓
//   - 其余 → 观望

const (
	coreExitScore      = 40.0
	coreEntryScore     = 35.0
	coreEntryAgreement = 0.6
)

func coreDecision(rc RouteContext) Decision {
	s := rc.Summary

	if rc.Position != nil {
		against := (rc.Position.Side == "long" && s.Score <= -coreExitScore) ||
			(rc.Position.Side == "short" && s.Score >= coreExitScore)
		if against {
			return Decision{
				Action:     CloseFor(rc.Position.Side),
				Confidence: clampUnit(absFloat(s.Score) / 100),
				Reasoning:  fmt.Sprintf("共识强烈反向 score=%.1f，规则平仓", s.Score),
			}
		}
		return Decision{
			Action:     ActionHold,
			Confidence: s.Agreement,
			Reasoning:  fmt.Sprintf("持仓维持 score=%.1f agreement=%.2f", s.Score, s.Agreement),
		}
	}

	if s.Agreement >= coreEntryAgreement {
		if s.Score >= coreEntryScore && s.Lean == analysis.StanceLong {
			return Decision{
				Action:     ActionOpenLong,
				Confidence: clampUnit(s.Score / 100),
				Reasoning:  fmt.Sprintf("规则开多 score=%.1f agreement=%.2f", s.Score, s.Agreement),
			}
		}
		if s.Score <= -coreEntryScore && s.Lean == analysis.StanceShort {
			return Decision{
				Action:     ActionOpenShort,
				Confidence: clampUnit(-s.Score / 100),
				Reasoning:  fmt.Sprintf("规则开空 score=%.1f agreement=%.2f", s.Score, s.Agreement),
			}
		}
	}

	return Decision{
		Action:     ActionWait,
		Confidence: s.Agreement,
		Reasoning:  fmt.Sprintf("信号不足观望 score=%.1f agreement=%.2f lean=%s", s.Score, s.Agreement, s.Lean),
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
