package engine

import (
	"sort"

	"tradeloop/internal/decision"
)

// 中文说明：
// 所有标的的风控结论在屏障处聚齐后统一准入。平仓无条件放行且先于
// 开仓执行；开仓按置信度从高到低排序（同分按进入顺序稳定排列），
// 每循环最多放行 maxOpens 个，其余当场废弃并留档，不顺延到下一循环。

// AdmissionPlan 一个循环的执行计划。
type AdmissionPlan struct {
	Closes    []decision.RiskVerdict
	Opens     []decision.RiskVerdict
	Discarded []decision.RiskVerdict
}

// Admit 把屏障后的风控结论划分成执行计划。
// verdicts 的顺序就是标的顺序，作为并列置信度的决胜依据。
func Admit(verdicts []decision.RiskVerdict, maxOpens int) AdmissionPlan {
	if maxOpens <= 0 {
		maxOpens = 1
	}

	var plan AdmissionPlan
	var opens []decision.RiskVerdict
	for _, v := range verdicts {
		if !v.Approved {
			continue
		}
		switch {
		case v.Decision.Action.IsClose():
			plan.Closes = append(plan.Closes, v)
		case v.Decision.Action.IsOpen():
			opens = append(opens, v)
		}
	}

	sort.SliceStable(opens, func(i, j int) bool {
		return opens[i].Decision.Confidence > opens[j].Decision.Confidence
	})

	seen := make(map[string]bool, len(opens))
	for _, v := range opens {
		sym := v.Decision.Symbol
		if len(plan.Opens) < maxOpens && !seen[sym] {
			seen[sym] = true
			plan.Opens = append(plan.Opens, v)
			continue
		}
		plan.Discarded = append(plan.Discarded, v)
	}
	return plan
}
