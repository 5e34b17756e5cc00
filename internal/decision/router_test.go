package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeloop/internal/analysis"
)

type stubProvider struct {
	res analysis.StanceResult
	err error
}

func (s *stubProvider) Evaluate(_ context.Context, _ string, _ analysis.ConsensusSummary, _ string) (analysis.StanceResult, error) {
	return s.res, s.err
}

func longPosition(lossPct float64) *PositionView {
	// 10x 杠杆、1000 名义，保证金 100。
	return &PositionView{
		Symbol:        "BTCUSDT",
		Side:          "long",
		Notional:      1000,
		Leverage:      10,
		UnrealizedPnL: -lossPct,
	}
}

func TestRouterForcedExitWins(t *testing.T) {
	r := NewRouter(RouterConfig{ForcedExitLossPct: 50}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceLong, Confidence: 0.9}})
	d := r.Route(context.Background(), RouteContext{
		Symbol:   "BTCUSDT",
		Position: longPosition(60), // 浮亏 60% 保证金
		Summary:  analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.9, Score: 80, Momentum: 60},
	})
	if d.Source != SourceForcedExit {
		t.Fatalf("强平分支应短路一切, got source=%s", d.Source)
	}
	if d.Action != ActionCloseLong || d.Confidence != 1.0 {
		t.Fatalf("强平决策错误: %+v", d)
	}
}

func TestRouterFastTrendClosesAgainstMomentum(t *testing.T) {
	r := NewRouter(RouterConfig{}, nil)
	d := r.Route(context.Background(), RouteContext{
		Symbol:   "ETHUSDT",
		Position: longPosition(10),
		Summary:  analysis.ConsensusSummary{Lean: analysis.StanceShort, Agreement: 0.5, Score: -30, Momentum: -55},
	})
	if d.Source != SourceFastTrend || d.Action != ActionCloseLong {
		t.Fatalf("反向急拉应快趋势平仓: %+v", d)
	}
}

func TestRouterFastTrendOpenNeedsAgreement(t *testing.T) {
	r := NewRouter(RouterConfig{}, nil)
	// 动量够但一致度不足：快趋势弃权，落到 decision_core。
	d := r.Route(context.Background(), RouteContext{
		Symbol:  "ETHUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.4, Score: 60, Momentum: 55},
	})
	if d.Source == SourceFastTrend {
		t.Fatalf("一致度不足不应走快趋势: %+v", d)
	}

	d = r.Route(context.Background(), RouteContext{
		Symbol:  "ETHUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.8, Score: 60, Momentum: 55},
	})
	if d.Source != SourceFastTrend || d.Action != ActionOpenLong {
		t.Fatalf("顺势高一致度应快趋势开多: %+v", d)
	}
}

func TestRouterLLMBranch(t *testing.T) {
	r := NewRouter(RouterConfig{}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceShort, Confidence: 0.7, Rationale: "结构转弱"}})
	d := r.Route(context.Background(), RouteContext{
		Symbol:  "BTCUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceShort, Agreement: 0.5, Score: -20, Momentum: -10},
	})
	if d.Source != SourceLLM || d.Action != ActionOpenShort {
		t.Fatalf("语义分支应接管: %+v", d)
	}
	if d.Confidence != 0.7 || d.Reasoning != "结构转弱" {
		t.Fatalf("语义结果应透传: %+v", d)
	}
}

func TestRouterLLMStanceRelativeToPosition(t *testing.T) {
	r := NewRouter(RouterConfig{}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceShort, Confidence: 0.8}})
	d := r.Route(context.Background(), RouteContext{
		Symbol:   "BTCUSDT",
		Position: longPosition(10),
		Summary:  analysis.ConsensusSummary{Lean: analysis.StanceShort, Agreement: 0.5, Score: -20},
	})
	if d.Action != ActionCloseLong {
		t.Fatalf("持多遇空方判断应平多, got %s", d.Action)
	}
}

func TestRouterLLMFailureFallsToCore(t *testing.T) {
	r := NewRouter(RouterConfig{}, &stubProvider{err: errors.New("超时")})
	d := r.Route(context.Background(), RouteContext{
		Symbol:  "BTCUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.8, Score: 50, Momentum: 10},
	})
	if d.Source != SourceDecisionCore {
		t.Fatalf("语义失败应落到规则兜底, got source=%s", d.Source)
	}
	if d.Action != ActionOpenLong {
		t.Fatalf("规则兜底应顺共识开多: %+v", d)
	}
}

func TestRouterCoreHoldAndWait(t *testing.T) {
	r := NewRouter(RouterConfig{}, nil)

	d := r.Route(context.Background(), RouteContext{
		Symbol:   "BTCUSDT",
		Position: longPosition(5),
		Summary:  analysis.ConsensusSummary{Lean: analysis.StanceNeutral, Agreement: 0.3, Score: 5},
	})
	if d.Action != ActionHold {
		t.Fatalf("持仓无反向信号应持有: %+v", d)
	}

	d = r.Route(context.Background(), RouteContext{
		Symbol:  "BTCUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceNeutral, Agreement: 0, Score: 0},
	})
	if d.Action != ActionWait || d.Source != SourceDecisionCore {
		t.Fatalf("无信号应观望: %+v", d)
	}
}

func TestRouterCoreClosesOnStrongReversal(t *testing.T) {
	r := NewRouter(RouterConfig{}, nil)
	d := r.Route(context.Background(), RouteContext{
		Symbol:   "BTCUSDT",
		Position: longPosition(10),
		Summary:  analysis.ConsensusSummary{Lean: analysis.StanceShort, Agreement: 0.8, Score: -45, Momentum: -20},
	})
	if d.Action != ActionCloseLong || d.Source != SourceDecisionCore {
		t.Fatalf("共识强烈反向应规则平仓: %+v", d)
	}
}

func TestRouterLowConfidenceOpenDegrades(t *testing.T) {
	r := NewRouter(RouterConfig{MinOpenConfidence: 0.5}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceLong, Confidence: 0.2}})
	d := r.Route(context.Background(), RouteContext{
		Symbol:  "BTCUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.4, Score: 10},
	})
	if d.Action != ActionWait {
		t.Fatalf("低置信度开仓应退化为观望: %+v", d)
	}
}

func TestRouterLLMLowConfidenceYieldsToCore(t *testing.T) {
	r := NewRouter(RouterConfig{MinOpenConfidence: 0.5}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceLong, Confidence: 0.2}})
	d := r.Route(context.Background(), RouteContext{
		Symbol:  "BTCUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.8, Score: 60, Momentum: 10},
	})
	// 语义分支够不着开仓门槛时应整体弃权，让规则兜底按共识行动，
	// 而不是以 llm 名义产出观望。
	if d.Source != SourceDecisionCore {
		t.Fatalf("低置信度语义开仓应让位给规则兜底, got source=%s", d.Source)
	}
	if d.Action != ActionOpenLong {
		t.Fatalf("共识一致时兜底应开多: %+v", d)
	}
}

func TestRouterLLMActionLabelNormalized(t *testing.T) {
	// 模型给出泛化的 close：按持仓方向归一化为 close_long。
	r := NewRouter(RouterConfig{}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceShort, Action: "close", Confidence: 0.8}})
	d := r.Route(context.Background(), RouteContext{
		Symbol:   "BTCUSDT",
		Position: longPosition(10),
		Summary:  analysis.ConsensusSummary{Lean: analysis.StanceShort, Agreement: 0.5, Score: -20},
	})
	if d.Source != SourceLLM || d.Action != ActionCloseLong {
		t.Fatalf("泛化平仓应归一化为 close_long: %+v", d)
	}

	// 无持仓时的泛化 close 归一化为观望。
	r = NewRouter(RouterConfig{}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceNeutral, Action: "exit", Confidence: 0.8}})
	d = r.Route(context.Background(), RouteContext{
		Symbol:  "BTCUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceNeutral},
	})
	if d.Source != SourceLLM || d.Action != ActionWait {
		t.Fatalf("空仓泛化平仓应归一化为观望: %+v", d)
	}
}

func TestRouterLLMUnknownActionFallsToCore(t *testing.T) {
	r := NewRouter(RouterConfig{}, &stubProvider{res: analysis.StanceResult{Stance: analysis.StanceLong, Action: "moon", Confidence: 0.9}})
	d := r.Route(context.Background(), RouteContext{
		Symbol:  "BTCUSDT",
		Summary: analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.8, Score: 50, Momentum: 10},
	})
	if d.Source != SourceDecisionCore {
		t.Fatalf("无法识别的动作应弃权给兜底, got source=%s", d.Source)
	}
}

func TestRouterForcedExitByMaxHold(t *testing.T) {
	r := NewRouter(RouterConfig{MaxHoldDuration: 24 * time.Hour}, nil)
	pos := longPosition(5) // 浮亏远未触红线
	pos.OpenedAt = time.Now().Add(-25 * time.Hour)
	d := r.Route(context.Background(), RouteContext{
		Symbol:   "BTCUSDT",
		Position: pos,
		Summary:  analysis.ConsensusSummary{Lean: analysis.StanceLong, Agreement: 0.9},
	})
	if d.Source != SourceForcedExit || d.Action != ActionCloseLong {
		t.Fatalf("超时持仓应强平: %+v", d)
	}

	// 未超时且亏损未触线：不走强平分支。
	pos.OpenedAt = time.Now().Add(-1 * time.Hour)
	d = r.Route(context.Background(), RouteContext{Symbol: "BTCUSDT", Position: pos})
	if d.Source == SourceForcedExit {
		t.Fatalf("未触发条件不应强平: %+v", d)
	}
}
