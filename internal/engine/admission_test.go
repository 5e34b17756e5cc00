package engine

import (
	"testing"

	"tradeloop/internal/decision"
)

func approvedOpen(symbol string, conf float64) decision.RiskVerdict {
	return decision.RiskVerdict{
		Approved: true,
		Decision: decision.Decision{Symbol: symbol, Action: decision.ActionOpenLong, Confidence: conf},
	}
}

func approvedClose(symbol string) decision.RiskVerdict {
	return decision.RiskVerdict{
		Approved: true,
		Decision: decision.Decision{Symbol: symbol, Action: decision.ActionCloseShort, Confidence: 1},
	}
}

func TestAdmitClosesAlwaysPass(t *testing.T) {
	plan := Admit([]decision.RiskVerdict{
		approvedClose("AUSDT"),
		approvedOpen("BUSDT", 0.9),
		approvedClose("CUSDT"),
	}, 1)
	if len(plan.Closes) != 2 {
		t.Fatalf("平仓应全部放行: %d", len(plan.Closes))
	}
	if len(plan.Opens) != 1 || plan.Opens[0].Decision.Symbol != "BUSDT" {
		t.Fatalf("开仓准入错误: %+v", plan.Opens)
	}
}

func TestAdmitOneOpenByConfidence(t *testing.T) {
	plan := Admit([]decision.RiskVerdict{
		approvedOpen("AUSDT", 0.5),
		approvedOpen("BUSDT", 0.9),
		approvedOpen("CUSDT", 0.7),
	}, 1)
	if len(plan.Opens) != 1 || plan.Opens[0].Decision.Symbol != "BUSDT" {
		t.Fatalf("应放行置信度最高的开仓: %+v", plan.Opens)
	}
	if len(plan.Discarded) != 2 {
		t.Fatalf("其余开仓应废弃: %d", len(plan.Discarded))
	}
}

func TestAdmitStableTieBreak(t *testing.T) {
	// 并列置信度按标的进入顺序决胜。
	plan := Admit([]decision.RiskVerdict{
		approvedOpen("AUSDT", 0.8),
		approvedOpen("BUSDT", 0.8),
	}, 1)
	if plan.Opens[0].Decision.Symbol != "AUSDT" {
		t.Fatalf("并列置信度应取先进入的标的: %+v", plan.Opens)
	}

	// 输入顺序反过来结论也反过来。
	plan = Admit([]decision.RiskVerdict{
		approvedOpen("BUSDT", 0.8),
		approvedOpen("AUSDT", 0.8),
	}, 1)
	if plan.Opens[0].Decision.Symbol != "BUSDT" {
		t.Fatalf("决胜应只看进入顺序: %+v", plan.Opens)
	}
}

func TestAdmitSkipsUnapprovedAndNoop(t *testing.T) {
	plan := Admit([]decision.RiskVerdict{
		{Approved: false, Decision: decision.Decision{Symbol: "AUSDT", Action: decision.ActionWait}},
		{Approved: true, Decision: decision.Decision{Symbol: "BUSDT", Action: decision.ActionHold}},
	}, 1)
	if len(plan.Closes) != 0 || len(plan.Opens) != 0 || len(plan.Discarded) != 0 {
		t.Fatalf("观望/持有/否决不应进入计划: %+v", plan)
	}
}

func TestAdmitMultipleOpensWhenBudgetAllows(t *testing.T) {
	plan := Admit([]decision.RiskVerdict{
		approvedOpen("AUSDT", 0.5),
		approvedOpen("BUSDT", 0.9),
		approvedOpen("CUSDT", 0.7),
	}, 2)
	if len(plan.Opens) != 2 {
		t.Fatalf("额度为 2 应放行两个: %+v", plan.Opens)
	}
	if plan.Opens[0].Decision.Symbol != "BUSDT" || plan.Opens[1].Decision.Symbol != "CUSDT" {
		t.Fatalf("放行顺序应按置信度: %+v", plan.Opens)
	}
}
